package ingest

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/pricehist/errors"
	"github.com/teranos/pricehist/price"
)

// recordingWriter records every Upsert call and fails calls containing a
// poisoned product.
type recordingWriter struct {
	calls  [][]price.Observation
	poison string
	fatal  bool
}

func (w *recordingWriter) Upsert(ctx context.Context, obs []price.Observation) error {
	w.calls = append(w.calls, append([]price.Observation(nil), obs...))
	if ctx.Err() != nil {
		return ctx.Err()
	}
	for _, o := range obs {
		if w.poison != "" && o.ProductID == w.poison {
			if w.fatal {
				return errors.Fatal(errors.New("database or disk is full"), "upsert")
			}
			return errors.Mark(errors.New("constraint failed"), errors.ErrStoreWrite)
		}
	}
	return nil
}

func observations(n int) []price.Observation {
	out := make([]price.Observation, n)
	for i := range out {
		out[i] = price.Observation{
			ProductID: fmt.Sprintf("P%03d", i),
			Date:      price.MustParseDate("2025-10-17"),
			Price:     decimal.NewFromInt(int64(i + 1)),
		}
	}
	return out
}

func TestBatcherFlushesInFillOrder(t *testing.T) {
	w := &recordingWriter{}
	b := NewBatcher(w, 4, 2, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	for _, o := range observations(10) {
		require.NoError(t, b.Add(ctx, o))
	}
	assert.Len(t, w.calls, 2, "two full batches flushed automatically")
	assert.Len(t, b.buf, 2)

	require.NoError(t, b.Flush(ctx))
	require.Len(t, w.calls, 3)
	assert.Len(t, w.calls[0], 4)
	assert.Len(t, w.calls[2], 2)
	assert.Equal(t, "P000", w.calls[0][0].ProductID)
	assert.Equal(t, "P004", w.calls[1][0].ProductID)
	assert.Equal(t, "P008", w.calls[2][0].ProductID)

	assert.Equal(t, BatchStats{Written: 10, Batches: 3}, b.Stats())

	require.NoError(t, b.Flush(ctx))
	assert.Len(t, w.calls, 3, "empty flush writes nothing")
}

func TestBatcherSplitsFailedBatch(t *testing.T) {
	w := &recordingWriter{poison: "P007"}
	b := NewBatcher(w, 100, 5, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	for _, o := range observations(20) {
		require.NoError(t, b.Add(ctx, o))
	}
	require.NoError(t, b.Flush(ctx), "non-fatal store errors are absorbed")

	// One full attempt plus five chunks of four.
	require.Len(t, w.calls, 6)
	for _, call := range w.calls[1:] {
		assert.Len(t, call, 4)
	}
	assert.Equal(t, BatchStats{Written: 16, Failed: 4, Batches: 1}, b.Stats())
}

func TestBatcherFatalAborts(t *testing.T) {
	w := &recordingWriter{poison: "P000", fatal: true}
	b := NewBatcher(w, 10, 5, zaptest.NewLogger(t).Sugar())

	for _, o := range observations(3) {
		require.NoError(t, b.Add(context.Background(), o))
	}
	err := b.Flush(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.Len(t, w.calls, 1, "fatal errors are not retried")
	assert.Equal(t, 3, b.Stats().Failed)
}

func TestBatcherCommitsDespiteCancellation(t *testing.T) {
	w := &recordingWriter{}
	b := NewBatcher(w, 10, 2, zaptest.NewLogger(t).Sugar())
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, b.Add(ctx, observations(1)[0]))
	cancel()
	require.NoError(t, b.Flush(ctx))
	assert.Equal(t, 1, b.Stats().Written)
}

func TestBatcherDefaults(t *testing.T) {
	b := NewBatcher(&recordingWriter{}, 0, 0, nil)
	assert.Equal(t, DefaultBatchSize, b.size)
	assert.Equal(t, DefaultSplitFactor, b.split)
}

func TestBatcherSplitSmallBatch(t *testing.T) {
	w := &recordingWriter{poison: "P001"}
	b := NewBatcher(w, 10, 10, zaptest.NewLogger(t).Sugar())
	for _, o := range observations(3) {
		require.NoError(t, b.Add(context.Background(), o))
	}
	require.NoError(t, b.Flush(context.Background()))

	// Three chunks of one each after the failed attempt.
	require.Len(t, w.calls, 4)
	var ids []string
	for _, call := range w.calls[1:] {
		ids = append(ids, call[0].ProductID)
	}
	assert.Equal(t, "P000,P001,P002", strings.Join(ids, ","))
	assert.Equal(t, BatchStats{Written: 2, Failed: 1, Batches: 1}, b.Stats())
}
