package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/guttosm/tickshard/internal/domain/models"
)

// candleLess orders partials by (symbol, bucket), the natural read order.
func candleLess(a, b models.PartialCandle) bool {
	if a.Symbol != b.Symbol {
		return a.Symbol < b.Symbol
	}
	return a.Bucket.Before(b.Bucket)
}

// MemAggregateStore is the in-memory AggregateStore implementation: an
// ordered table of partial candles keyed by (symbol, bucket).
type MemAggregateStore struct {
	mu      sync.RWMutex
	candles *btree.BTreeG[models.PartialCandle]
	wm      time.Time
}

// NewMemAggregateStore creates an empty in-memory aggregate store.
func NewMemAggregateStore() *MemAggregateStore {
	const degree = 32
	return &MemAggregateStore{
		candles: btree.NewG[models.PartialCandle](degree, candleLess),
	}
}

// MergeBatch merges every partial into the stored state for its key and
// records the watermark. The whole batch is applied under one critical
// section, so concurrent readers never observe a half-applied flush.
func (s *MemAggregateStore) MergeBatch(_ context.Context, partials []models.PartialCandle, watermark time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range partials {
		if p.Trades == 0 {
			continue
		}
		key := models.PartialCandle{Symbol: p.Symbol, Bucket: p.Bucket}
		if existing, ok := s.candles.Get(key); ok {
			p = existing.Merge(p)
		}
		s.candles.ReplaceOrInsert(p)
	}
	if watermark.After(s.wm) {
		s.wm = watermark.UTC()
	}
	return nil
}

// Watermark returns the highest watermark a MergeBatch recorded.
func (s *MemAggregateStore) Watermark(context.Context) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.wm, nil
}

// Read returns matching partials ordered by (symbol, bucket).
func (s *MemAggregateStore) Read(ctx context.Context, q ReadQuery) ([]models.PartialCandle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []models.PartialCandle
	if len(q.Symbols) == 0 {
		s.candles.Ascend(func(c models.PartialCandle) bool {
			if q.Matches(c.Symbol, c.Bucket) {
				out = append(out, c)
			}
			return true
		})
		return out, nil
	}

	symbols := append([]string(nil), q.Symbols...)
	sort.Strings(symbols)
	for i, sym := range symbols {
		if i > 0 && sym == symbols[i-1] {
			continue
		}
		pivot := models.PartialCandle{Symbol: sym}
		if !q.From.IsZero() {
			pivot.Bucket = q.From.UTC()
		}
		s.candles.AscendGreaterOrEqual(pivot, func(c models.PartialCandle) bool {
			if c.Symbol != sym {
				return false
			}
			if !q.To.IsZero() && !c.Bucket.Before(q.To.UTC()) {
				return false
			}
			out = append(out, c)
			return true
		})
	}
	return out, nil
}

var _ AggregateStore = (*MemAggregateStore)(nil)
