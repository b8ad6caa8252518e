package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/pricehist/am"
	"github.com/teranos/pricehist/errors"
	"github.com/teranos/pricehist/ingest"
	"github.com/teranos/pricehist/price"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls [][]price.Date
	err   error
	ran   chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{ran: make(chan struct{}, 16)}
}

func (r *fakeRunner) Run(ctx context.Context, dates []price.Date) (*ingest.Summary, error) {
	r.mu.Lock()
	r.calls = append(r.calls, dates)
	err := r.err
	r.mu.Unlock()
	r.ran <- struct{}{}
	return &ingest.Summary{Totals: ingest.Totals{Dates: len(dates)}}, err
}

func (r *fakeRunner) waitRuns(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.ran:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for run %d", i+1)
		}
	}
}

func fixedClock() time.Time { return time.Date(2025, 10, 19, 6, 30, 0, 0, time.UTC) }

func TestTickerRunsOnStartOverWindow(t *testing.T) {
	runner := newFakeRunner()
	tk := NewTicker(context.Background(), runner, Config{Interval: time.Hour, WindowDays: 3, RunOnStart: true}, zaptest.NewLogger(t).Sugar())
	tk.now = fixedClock

	tk.Start()
	runner.waitRuns(t, 1)
	tk.Stop()

	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.Len(t, runner.calls, 1)
	got := runner.calls[0]
	require.Len(t, got, 3)
	assert.Equal(t, "2025-10-17", got[0].String())
	assert.Equal(t, "2025-10-19", got[2].String())

	summary, runs, err := tk.LastRun()
	require.NoError(t, err)
	assert.Equal(t, int64(1), runs)
	assert.Equal(t, 3, summary.Totals.Dates)
}

func TestTickerRunsEveryInterval(t *testing.T) {
	runner := newFakeRunner()
	tk := NewTicker(context.Background(), runner, Config{Interval: 20 * time.Millisecond, WindowDays: 1}, zaptest.NewLogger(t).Sugar())
	tk.now = fixedClock

	tk.Start()
	runner.waitRuns(t, 3)
	tk.Stop()

	_, runs, _ := tk.LastRun()
	assert.GreaterOrEqual(t, runs, int64(3))
}

func TestTickerUpdateChangesWindow(t *testing.T) {
	runner := newFakeRunner()
	tk := NewTicker(context.Background(), runner, Config{Interval: time.Hour, WindowDays: 1}, zaptest.NewLogger(t).Sugar())
	tk.now = fixedClock

	finished := make(chan struct{}, 4)
	tk.OnFinish(func(*ingest.Summary, error) { finished <- struct{}{} })

	tk.Start()
	tk.Update(Config{Interval: 20 * time.Millisecond, WindowDays: 5})
	runner.waitRuns(t, 1)
	tk.Stop()

	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.NotEmpty(t, runner.calls)
	assert.Len(t, runner.calls[0], 5)
	assert.NotEmpty(t, finished)
}

func TestTickerKeepsRunningAfterFatal(t *testing.T) {
	runner := newFakeRunner()
	runner.err = errors.Fatal(errors.New("disk full"), "price store")
	tk := NewTicker(context.Background(), runner, Config{Interval: 20 * time.Millisecond, WindowDays: 1, RunOnStart: true}, zaptest.NewLogger(t).Sugar())
	tk.now = fixedClock

	tk.Start()
	runner.waitRuns(t, 2)
	tk.Stop()

	_, _, err := tk.LastRun()
	assert.True(t, errors.IsFatal(err))
}

func TestTickerStopsWithParentContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := newFakeRunner()
	tk := NewTicker(ctx, runner, Config{Interval: time.Hour, WindowDays: 1}, zaptest.NewLogger(t).Sugar())
	tk.Start()
	cancel()

	done := make(chan struct{})
	go func() {
		tk.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("ticker did not stop")
	}
	_, runs, _ := tk.LastRun()
	assert.Zero(t, runs)
}

func TestConfigFrom(t *testing.T) {
	cfg := am.DefaultConfig()
	cfg.Schedule.IntervalMinutes = 90
	cfg.Schedule.WindowDays = 4

	got := ConfigFrom(cfg)
	assert.Equal(t, 90*time.Minute, got.Interval)
	assert.Equal(t, 4, got.WindowDays)
	assert.True(t, got.RunOnStart)

	assert.Equal(t, Config{Interval: 24 * time.Hour, WindowDays: 1}, normalizeConfig(Config{}))
}
