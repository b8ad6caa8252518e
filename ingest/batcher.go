package ingest

import (
	"context"

	"go.uber.org/zap"

	"github.com/teranos/pricehist/errors"
	"github.com/teranos/pricehist/logger"
	"github.com/teranos/pricehist/price"
)

// Default batching parameters
const (
	DefaultBatchSize   = 10000
	DefaultSplitFactor = 10
)

// Writer is the part of store.Store the batcher needs.
type Writer interface {
	Upsert(ctx context.Context, obs []price.Observation) error
}

// BatchStats counts what a batcher did.
type BatchStats struct {
	Written int // observations committed
	Failed  int // observations dropped after the split retry
	Batches int // flushes attempted
}

// Batcher buffers observations for one date and writes them in fixed-size
// transactions, in fill order. It is not safe for concurrent use; each date
// gets its own.
type Batcher struct {
	w     Writer
	size  int
	split int
	buf   []price.Observation
	stats BatchStats
	log   *zap.SugaredLogger
}

// NewBatcher returns a batcher flushing every size observations. A failed
// flush is retried once as splitFactor smaller writes.
func NewBatcher(w Writer, size, splitFactor int, log *zap.SugaredLogger) *Batcher {
	if size <= 0 {
		size = DefaultBatchSize
	}
	if splitFactor < 2 {
		splitFactor = DefaultSplitFactor
	}
	if log == nil {
		log = logger.ComponentLogger("ingest.batcher")
	}
	return &Batcher{w: w, size: size, split: splitFactor, buf: make([]price.Observation, 0, min(size, 1024)), log: log}
}

// Add buffers o and flushes when the buffer is full. The only errors
// returned are fatal store errors.
func (b *Batcher) Add(ctx context.Context, o price.Observation) error {
	b.buf = append(b.buf, o)
	if len(b.buf) >= b.size {
		return b.Flush(ctx)
	}
	return nil
}

// Flush writes whatever is buffered. It must be called once the last
// observation has been added.
//
// Writes run on a context detached from cancellation so a batch that has
// started always finishes; callers stop adding instead.
func (b *Batcher) Flush(ctx context.Context) error {
	if len(b.buf) == 0 {
		return nil
	}
	batch := b.buf
	b.buf = make([]price.Observation, 0, cap(batch))
	b.stats.Batches++

	writeCtx := context.WithoutCancel(ctx)
	log := logger.LoggerFromContext(ctx, b.log)

	err := b.w.Upsert(writeCtx, batch)
	if err == nil {
		b.stats.Written += len(batch)
		log.Debugw("Batch committed", logger.FieldBatchSize, len(batch))
		return nil
	}
	if errors.IsFatal(err) {
		b.stats.Failed += len(batch)
		return err
	}

	log.Warnw("Batch failed, retrying in smaller chunks",
		logger.FieldBatchSize, len(batch),
		"chunks", b.split,
		logger.FieldError, err)

	chunk := (len(batch) + b.split - 1) / b.split
	for start := 0; start < len(batch); start += chunk {
		end := min(start+chunk, len(batch))
		part := batch[start:end]
		err := b.w.Upsert(writeCtx, part)
		if err == nil {
			b.stats.Written += len(part)
			continue
		}
		b.stats.Failed += len(part)
		if errors.IsFatal(err) {
			b.stats.Failed += len(batch) - end
			return err
		}
		log.Errorw("Chunk failed after retry",
			logger.FieldBatchSize, len(part),
			logger.FieldError, err)
	}
	return nil
}

// Stats returns the running totals.
func (b *Batcher) Stats() BatchStats { return b.stats }
