// Package ingest runs the daily price pipeline: for each date it checks the
// store, fetches the archive, streams its entries through the normalizer and
// writes observations in batches.
package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teranos/pricehist/archive"
	"github.com/teranos/pricehist/errors"
	"github.com/teranos/pricehist/logger"
	"github.com/teranos/pricehist/normalize"
	"github.com/teranos/pricehist/price"
	"github.com/teranos/pricehist/store"
)

// DefaultMaxEntryErrorRatio fails a date when more than half its entries are
// malformed.
const DefaultMaxEntryErrorRatio = 0.5

// Fetcher makes one date's archive available locally.
type Fetcher interface {
	Fetch(ctx context.Context, d price.Date) (*archive.Handle, error)
}

// Opener opens a fetched archive for streaming.
type Opener func(path string, maxEntryBytes int64) (archive.EntryStream, error)

// Options tune a Coordinator.
type Options struct {
	Workers            int
	BatchSize          int
	SplitFactor        int
	MaxEntryErrorRatio float64
	MaxEntryBytes      int64
	KeepArchives       bool
}

// Coordinator runs ingestion over a set of dates.
type Coordinator struct {
	store      store.Store
	fetcher    Fetcher
	open       Opener
	normalizer *normalize.Normalizer
	opts       Options
	metrics    *Metrics
	now        func() time.Time
	log        *zap.SugaredLogger
}

// NewCoordinator wires the pipeline stages together.
func NewCoordinator(st store.Store, f Fetcher, n *normalize.Normalizer, opts Options, log *zap.SugaredLogger) *Coordinator {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.MaxEntryErrorRatio <= 0 {
		opts.MaxEntryErrorRatio = DefaultMaxEntryErrorRatio
	}
	if n == nil {
		n = normalize.Default()
	}
	if log == nil {
		log = logger.ComponentLogger("ingest.coordinator")
	}
	return &Coordinator{
		store:      st,
		fetcher:    f,
		open:       archive.Open,
		normalizer: n,
		opts:       opts,
		now:        time.Now,
		log:        log,
	}
}

// WithMetrics records run metrics on m.
func (c *Coordinator) WithMetrics(m *Metrics) *Coordinator {
	c.metrics = m
	return c
}

// WithOpener replaces archive.Open.
func (c *Coordinator) WithOpener(open Opener) *Coordinator {
	c.open = open
	return c
}

// Run processes dates and always returns a summary covering every distinct
// requested date in ascending order. The error is non-nil only when a fatal
// resource problem aborted the run; it wraps errors.ErrFatalResource.
// Cancelling ctx stops new dates from starting and interrupts in-flight
// dates between entries.
func (c *Coordinator) Run(ctx context.Context, dates []price.Date) (*Summary, error) {
	dates = sortedUnique(dates)
	runID := uuid.NewString()
	ctx = logger.WithRunID(ctx, runID)
	log := logger.LoggerFromContext(ctx, c.log)
	started := c.now()

	log.Infow("Ingestion run started",
		logger.FieldCount, len(dates),
		"workers", c.opts.Workers)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		fatalOnce sync.Once
		fatalErr  error
	)
	abort := func(err error) {
		fatalOnce.Do(func() {
			fatalErr = err
			cancel()
		})
	}

	outcomes := make([]DateOutcome, len(dates))
	var g errgroup.Group
	g.SetLimit(c.opts.Workers)
	for i, d := range dates {
		if runCtx.Err() != nil {
			outcomes[i] = DateOutcome{Date: d, Status: StatusCancelled, Reason: "run stopped before date started"}
			continue
		}
		g.Go(func() error {
			out, err := c.processDate(runCtx, d)
			outcomes[i] = out
			if err != nil {
				abort(err)
			}
			return nil
		})
	}
	_ = g.Wait()

	summary := newSummary(runID, started, c.now(), outcomes)
	c.metrics.observeRun(summary.FinishedAt)

	if fatalErr != nil {
		summary.Aborted = true
		summary.AbortReason = fatalErr.Error()
		log.Errorw("Ingestion run aborted", logger.FieldError, fatalErr)
		return summary, errors.Wrap(fatalErr, "ingestion aborted")
	}

	log.Infow("Ingestion run finished",
		logger.FieldImported, summary.Totals.Imported,
		logger.FieldErrors, summary.Totals.Errors,
		"completed", summary.Totals.Completed,
		"skipped", summary.Totals.Skipped,
		"unavailable", summary.Totals.Unavailable,
		"failed", summary.Totals.Failed,
		"cancelled", summary.Totals.Cancelled,
		logger.FieldDurationMS, summary.Duration().Milliseconds())
	return summary, nil
}

// accumulator carries one date's counts through its stages.
type accumulator struct {
	date      price.Date
	entries   int // entries considered (ignored kinds excluded)
	malformed int // unreadable or unrecognized entries
	rejected  int // records without a usable price or product id
	ignored   int
	fetched   bool
	loading   bool // rows may have been written
	batch     BatchStats
}

func (a accumulator) errors() int { return a.malformed + a.rejected + a.batch.Failed }

func (a accumulator) outcome(status Status, reason string, elapsed time.Duration) DateOutcome {
	return DateOutcome{
		Date:       a.date,
		Status:     status,
		Imported:   a.batch.Written,
		Errors:     a.errors(),
		Entries:    a.entries,
		Malformed:  a.malformed,
		Fetched:    a.fetched,
		Reason:     reason,
		DurationMS: elapsed.Milliseconds(),
	}
}

// processDate runs one date to a terminal status. The error is returned only
// for fatal resource problems.
func (c *Coordinator) processDate(ctx context.Context, d price.Date) (DateOutcome, error) {
	start := c.now()
	log := logger.LoggerFromContext(ctx, c.log).With(logger.FieldDate, d.String())

	acc, status, reason, fatal := c.runStages(ctx, d, log)

	if (status == StatusFailed || status == StatusCancelled) && acc.loading {
		if err := c.purge(ctx, d, log); err != nil && fatal == nil && errors.IsFatal(err) {
			fatal = err
		}
		acc.batch.Written = 0
	}

	out := acc.outcome(status, reason, c.now().Sub(start))
	c.metrics.observeDate(out, c.now().Sub(start))
	c.metrics.observeWrites(acc.batch)
	c.metrics.observeEntryErrors(acc.malformed, acc.rejected)

	fields := []interface{}{
		logger.FieldStatus, string(status),
		logger.FieldImported, out.Imported,
		logger.FieldErrors, out.Errors,
		logger.FieldDurationMS, out.DurationMS,
	}
	switch status {
	case StatusFailed:
		log.Warnw("Date failed", append(fields, logger.FieldReason, reason)...)
	case StatusCancelled:
		log.Infow("Date cancelled", append(fields, logger.FieldReason, reason)...)
	default:
		log.Infow("Date finished", fields...)
	}
	return out, fatal
}

// runStages is CacheCheck -> Fetching -> Extracting -> Loading.
func (c *Coordinator) runStages(ctx context.Context, d price.Date, log *zap.SugaredLogger) (accumulator, Status, string, error) {
	acc := accumulator{date: d}

	if ctx.Err() != nil {
		return acc, StatusCancelled, "run stopped before date started", nil
	}

	loaded, err := c.store.HasDate(ctx, d)
	if err != nil {
		return c.stageError(acc, err, "check store")
	}
	if loaded {
		return acc, StatusSkipped, "", nil
	}

	handle, err := c.fetcher.Fetch(ctx, d)
	if err != nil {
		if errors.IsRemoteUnavailable(err) && !errors.IsFatal(err) {
			log.Infow("No archive published", logger.FieldReason, err.Error())
			return acc, StatusUnavailable, err.Error(), nil
		}
		return c.stageError(acc, err, "fetch")
	}
	acc.fetched = !handle.AlreadyPresent

	stream, err := c.open(handle.Path, c.opts.MaxEntryBytes)
	if err != nil {
		return c.stageError(acc, err, "open archive")
	}
	defer stream.Close()

	acc.loading = true
	batcher := NewBatcher(c.store, c.opts.BatchSize, c.opts.SplitFactor, log)
	status, reason, fatal := c.load(ctx, stream, batcher, &acc, log)
	acc.batch = batcher.Stats()
	if fatal != nil {
		return acc, StatusFailed, fatal.Error(), fatal
	}
	if status != StatusCompleted {
		return acc, status, reason, nil
	}

	if acc.entries > 0 {
		ratio := float64(acc.malformed) / float64(acc.entries)
		if ratio > c.opts.MaxEntryErrorRatio {
			return acc, StatusFailed, fmt.Sprintf("%d of %d entries malformed (%.0f%% > %.0f%%)",
				acc.malformed, acc.entries, ratio*100, c.opts.MaxEntryErrorRatio*100), nil
		}
	}

	if !c.opts.KeepArchives {
		if err := os.Remove(handle.Path); err != nil && !os.IsNotExist(err) {
			log.Warnw("Could not remove archive", logger.FieldPath, handle.Path, logger.FieldError, err)
		}
	}
	return acc, StatusCompleted, "", nil
}

// load streams entries into the batcher and flushes the remainder.
func (c *Coordinator) load(ctx context.Context, stream archive.EntryStream, b *Batcher, acc *accumulator, log *zap.SugaredLogger) (Status, string, error) {
	for {
		if ctx.Err() != nil {
			if err := b.Flush(ctx); err != nil {
				return StatusFailed, "", err
			}
			return StatusCancelled, "cancelled during load", nil
		}

		entry, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			var entryErr *archive.EntryError
			if errors.As(err, &entryErr) {
				acc.entries++
				acc.malformed++
				log.Debugw("Unreadable entry", logger.FieldEntry, entryErr.Path, logger.FieldError, entryErr.Err)
				continue
			}
			if errors.IsFatal(err) {
				return StatusFailed, "", err
			}
			return StatusFailed, err.Error(), nil
		}

		res := c.normalizer.Normalize(acc.date, entry)
		if res.Shape == normalize.ShapeIgnored {
			acc.ignored++
			continue
		}
		acc.entries++
		if res.Malformed() {
			acc.malformed++
			log.Debugw("Unrecognized entry", logger.FieldEntry, entry.Path, logger.FieldError, res.Err)
			continue
		}
		acc.rejected += len(res.Rejected)
		if len(res.Rejected) > 0 {
			log.Debugw("Records rejected",
				logger.FieldEntry, entry.Path,
				logger.FieldCount, len(res.Rejected),
				logger.FieldReason, res.Rejected[0].Reason)
		}
		for _, o := range res.Observations {
			if err := b.Add(ctx, o); err != nil {
				return StatusFailed, "", err
			}
		}
	}

	if err := b.Flush(ctx); err != nil {
		return StatusFailed, "", err
	}
	return StatusCompleted, "", nil
}

// stageError maps a stage failure onto a status. Cancellation wins over the
// failure it caused.
func (c *Coordinator) stageError(acc accumulator, err error, stage string) (accumulator, Status, string, error) {
	if errors.IsFatal(err) {
		return acc, StatusFailed, stage + ": " + err.Error(), err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return acc, StatusCancelled, stage + " interrupted", nil
	}
	return acc, StatusFailed, stage + ": " + err.Error(), nil
}

// purge removes a partially loaded date so it can be retried from scratch.
func (c *Coordinator) purge(ctx context.Context, d price.Date, log *zap.SugaredLogger) error {
	removed, err := c.store.DeleteDate(context.WithoutCancel(ctx), d)
	if err != nil {
		log.Errorw("Could not purge incomplete date", logger.FieldError, err)
		return err
	}
	if removed > 0 {
		log.Infow("Purged incomplete date", logger.FieldCount, removed)
	}
	return nil
}

func sortedUnique(dates []price.Date) []price.Date {
	out := append([]price.Date(nil), dates...)
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	n := 0
	for i, d := range out {
		if i > 0 && d.Equal(out[n-1]) {
			continue
		}
		out[n] = d
		n++
	}
	return out[:n]
}
