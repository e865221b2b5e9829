// Package aggregate folds accepted trades into one-minute candles and
// periodically flushes closed buckets to the durable aggregate store.
package aggregate

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/guttosm/tickshard/internal/domain/models"
	"github.com/guttosm/tickshard/internal/logger"
	"github.com/guttosm/tickshard/internal/storage"
)

type candleKey struct {
	symbol string
	bucket int64 // unix seconds of the minute start
}

// Aggregator accumulates partial candles in memory. A bucket is flushed once
// its end plus the grace window has passed, which leaves room for slightly
// late trades; trades later than that still land correctly because the store
// merge is commutative.
type Aggregator struct {
	store storage.AggregateStore
	grace time.Duration
	log   zerolog.Logger
	now   func() time.Time

	mu       sync.Mutex
	partials map[candleKey]models.PartialCandle
	maxSeq   uint64 // highest journal seq folded so far

	// Flush watermark: every trade with a bucket before wmBucket and a
	// seq at or below wmSeq has been durably merged. Recovery refolds the
	// complement: store trades from wmBucket on, plus journal entries
	// after wmSeq whose bucket is before wmBucket.
	wmBucket time.Time
	wmSeq    uint64
}

// New creates an aggregator flushing into store after the given grace window.
func New(store storage.AggregateStore, grace time.Duration) *Aggregator {
	return &Aggregator{
		store:    store,
		grace:    grace,
		log:      logger.With("aggregate"),
		now:      time.Now,
		partials: make(map[candleKey]models.PartialCandle),
	}
}

// Fold merges one accepted trade into its bucket's partial. seq is the
// journal sequence the trade was recorded under; it drives the flush
// watermark used by recovery.
func (a *Aggregator) Fold(seq uint64, t models.Trade) {
	key := candleKey{symbol: t.Symbol, bucket: t.Bucket().Unix()}

	a.mu.Lock()
	defer a.mu.Unlock()

	p := a.partials[key]
	p.Fold(t)
	a.partials[key] = p
	if seq > a.maxSeq {
		a.maxSeq = seq
	}
}

// Snapshot returns copies of the live partials matching the query, ordered
// by (symbol, bucket). Readers merge this over the durable store so fresh
// trades are visible before any flush.
func (a *Aggregator) Snapshot(q storage.ReadQuery) []models.PartialCandle {
	a.mu.Lock()
	out := make([]models.PartialCandle, 0, len(a.partials))
	for _, p := range a.partials {
		if q.Matches(p.Symbol, p.Bucket) {
			out = append(out, p)
		}
	}
	a.mu.Unlock()

	models.SortPartials(out)
	return out
}

// DropPartials discards the live partials while keeping the watermark.
// Callers refold from durable state afterwards.
func (a *Aggregator) DropPartials() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.partials = make(map[candleKey]models.PartialCandle)
}

// Flush merges every closed bucket into the store and advances the
// watermark. On failure the swapped partials are merged back, so the next
// attempt retries the same contribution exactly once.
func (a *Aggregator) Flush(ctx context.Context) (int, error) {
	cutoff := a.now().Add(-a.grace).Truncate(time.Minute)
	return a.flushBefore(ctx, cutoff)
}

// FlushAll merges every partial regardless of the grace window. Called on
// shutdown so nothing accumulated is lost.
func (a *Aggregator) FlushAll(ctx context.Context) (int, error) {
	return a.flushBefore(ctx, time.Time{})
}

// flushBefore flushes buckets strictly before cutoff; a zero cutoff means
// all of them.
func (a *Aggregator) flushBefore(ctx context.Context, cutoff time.Time) (int, error) {
	a.mu.Lock()
	batch := make([]models.PartialCandle, 0, len(a.partials))
	for key, p := range a.partials {
		if !cutoff.IsZero() && !p.Bucket.Before(cutoff) {
			continue
		}
		batch = append(batch, p)
		delete(a.partials, key)
	}
	seq := a.maxSeq
	a.mu.Unlock()

	if len(batch) == 0 {
		a.advanceWatermark(cutoff, seq)
		return 0, nil
	}

	if cutoff.IsZero() {
		cutoff = maxBucketEnd(batch)
	}

	// The store records the cutoff with the batch, so the watermark
	// survives a process restart.
	if err := a.store.MergeBatch(ctx, batch, cutoff); err != nil {
		// Put the contribution back; Merge is commutative, so folds
		// that happened meanwhile are preserved.
		a.mu.Lock()
		for _, p := range batch {
			key := candleKey{symbol: p.Symbol, bucket: p.Bucket.Unix()}
			a.partials[key] = a.partials[key].Merge(p)
		}
		a.mu.Unlock()
		return 0, err
	}

	a.advanceWatermark(cutoff, seq)
	return len(batch), nil
}

func maxBucketEnd(batch []models.PartialCandle) time.Time {
	var max time.Time
	for _, p := range batch {
		if end := p.Bucket.Add(time.Minute); end.After(max) {
			max = end
		}
	}
	return max
}

func (a *Aggregator) advanceWatermark(bucket time.Time, seq uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if bucket.After(a.wmBucket) {
		a.wmBucket = bucket
	}
	if seq > a.wmSeq {
		a.wmSeq = seq
	}
}

// Watermark returns the flush watermark: the bucket cutoff below which
// everything folded up to the returned seq is durable.
func (a *Aggregator) Watermark() (time.Time, uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.wmBucket, a.wmSeq
}

// Run flushes on the given interval until the context ends, then makes a
// final full flush with a short deadline. Flush errors are logged and
// retried next tick; the merge-back keeps retries exact.
func (a *Aggregator) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, err := a.FlushAll(final); err != nil {
				a.log.Error().Err(err).Msg("final flush failed")
				return err
			}
			return ctx.Err()
		case <-ticker.C:
			n, err := a.Flush(ctx)
			if err != nil {
				a.log.Error().Err(err).Msg("flush failed, will retry")
				continue
			}
			if n > 0 {
				a.log.Debug().Int("buckets", n).Msg("flushed candles")
			}
		}
	}
}
