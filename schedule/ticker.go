// Package schedule runs ingestion periodically over a trailing window of
// dates, the way the daily collector keeps the store current.
package schedule

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/pricehist/am"
	"github.com/teranos/pricehist/errors"
	"github.com/teranos/pricehist/ingest"
	"github.com/teranos/pricehist/logger"
	"github.com/teranos/pricehist/price"
)

// Runner runs ingestion over dates. *ingest.Coordinator satisfies it.
type Runner interface {
	Run(ctx context.Context, dates []price.Date) (*ingest.Summary, error)
}

// Config is the tick period and the window each tick covers.
type Config struct {
	Interval   time.Duration
	WindowDays int
	RunOnStart bool
}

// ConfigFrom converts the [schedule] section.
func ConfigFrom(cfg *am.Config) Config {
	return Config{
		Interval:   cfg.ScheduleInterval(),
		WindowDays: cfg.Schedule.WindowDays,
		RunOnStart: cfg.Schedule.RunOnStart,
	}
}

// Ticker triggers a run every Interval. Runs never overlap: a tick that
// arrives while a run is in progress is dropped.
type Ticker struct {
	runner Runner
	now    func() time.Time
	log    *zap.SugaredLogger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	update chan Config

	mu       sync.Mutex
	cfg      Config
	lastRun  *ingest.Summary
	lastErr  error
	runs     int64
	onFinish func(*ingest.Summary, error)
}

// NewTicker creates a stopped ticker bound to ctx.
func NewTicker(ctx context.Context, runner Runner, cfg Config, log *zap.SugaredLogger) *Ticker {
	if log == nil {
		log = logger.ComponentLogger("schedule")
	}
	tickerCtx, cancel := context.WithCancel(ctx)
	return &Ticker{
		runner: runner,
		now:    time.Now,
		log:    log,
		ctx:    tickerCtx,
		cancel: cancel,
		update: make(chan Config, 1),
		cfg:    normalizeConfig(cfg),
	}
}

// OnFinish registers a hook called after every run.
func (t *Ticker) OnFinish(fn func(*ingest.Summary, error)) {
	t.mu.Lock()
	t.onFinish = fn
	t.mu.Unlock()
}

// Start begins the ticker loop
func (t *Ticker) Start() {
	t.wg.Add(1)
	go t.loop()
	cfg := t.config()
	t.log.Infow("Schedule started", "interval", cfg.Interval.String(), "window_days", cfg.WindowDays)
}

// Stop cancels any in-flight run and waits for the loop to exit.
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
	t.log.Infow("Schedule stopped")
}

// Update swaps the interval and window. It takes effect from the next tick.
// Suitable as an am.ConfigWatcher callback through ConfigFrom.
func (t *Ticker) Update(cfg Config) {
	cfg = normalizeConfig(cfg)
	t.mu.Lock()
	t.cfg = cfg
	t.mu.Unlock()

	select {
	case t.update <- cfg:
	default:
		// A pending update is already queued; the loop reads t.cfg anyway.
	}
}

// LastRun returns the most recent summary, the number of runs so far and
// the last run's error.
func (t *Ticker) LastRun() (*ingest.Summary, int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastRun, t.runs, t.lastErr
}

func (t *Ticker) config() Config {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg
}

func (t *Ticker) loop() {
	defer t.wg.Done()

	cfg := t.config()
	if cfg.RunOnStart {
		t.tick()
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.tick()
		case <-t.update:
			cfg := t.config()
			ticker.Reset(cfg.Interval)
			t.log.Infow("Schedule updated", "interval", cfg.Interval.String(), "window_days", cfg.WindowDays)
		}
	}
}

// tick runs one ingestion over the trailing window.
func (t *Ticker) tick() {
	if t.ctx.Err() != nil {
		return
	}
	cfg := t.config()
	dates, err := price.LastNDays(price.Today(t.now), cfg.WindowDays)
	if err != nil {
		t.log.Errorw("Invalid schedule window", logger.FieldError, err)
		return
	}

	summary, err := t.runner.Run(t.ctx, dates)
	switch {
	case err != nil && errors.IsFatal(err):
		t.log.Errorw("Scheduled run aborted", logger.FieldError, err, "hint", errors.FlattenHints(err))
	case err != nil:
		t.log.Errorw("Scheduled run failed", logger.FieldError, err)
	case summary != nil:
		t.log.Infow("Scheduled run finished",
			logger.FieldImported, summary.Totals.Imported,
			"completed", summary.Totals.Completed,
			"failed", summary.Totals.Failed)
	}

	t.mu.Lock()
	t.lastRun = summary
	t.lastErr = err
	t.runs++
	hook := t.onFinish
	t.mu.Unlock()

	if hook != nil {
		hook(summary, err)
	}
}

func normalizeConfig(cfg Config) Config {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = 1
	}
	return cfg
}
