package storage

import (
	"context"
	"time"

	"github.com/guttosm/tickshard/internal/domain/models"
)

// ReadQuery selects partial candles by symbol set and bucket range. From is
// inclusive, To exclusive; zero bounds are open. An empty Symbols slice
// matches everything.
type ReadQuery struct {
	Symbols []string
	From    time.Time
	To      time.Time
}

// Matches reports whether a partial candle's key falls inside the query.
func (q ReadQuery) Matches(symbol string, bucket time.Time) bool {
	if len(q.Symbols) > 0 {
		found := false
		for _, s := range q.Symbols {
			if s == symbol {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	b := bucket.UTC()
	if !q.From.IsZero() && b.Before(q.From.UTC()) {
		return false
	}
	if !q.To.IsZero() && !b.Before(q.To.UTC()) {
		return false
	}
	return true
}

// AggregateStore is the durable partial-candle table of one replica.
//
// MergeBatch applies the candle merge algebra to every entry against the
// persisted state for the same (symbol, bucket) key, atomically: either the
// whole batch is applied or none of it. Atomicity is what makes the
// aggregator's flush retry safe — a failed flush leaves no partially
// applied bucket behind.
//
// The watermark passed to MergeBatch is recorded in the same atomic step
// and must exceed every bucket in the batch. Watermark returns the highest
// value recorded so far; after a restart it bounds the refold: no trade
// with a bucket at or past the watermark has any contribution stored, so
// scanning the trade log from there rebuilds the unflushed state without
// double counting.
type AggregateStore interface {
	MergeBatch(ctx context.Context, partials []models.PartialCandle, watermark time.Time) error
	Read(ctx context.Context, q ReadQuery) ([]models.PartialCandle, error)
	Watermark(ctx context.Context) (time.Time, error)
}
