package storage

import (
	"context"
	"sort"
	"sync"

	"time"

	"github.com/google/btree"
	"github.com/guttosm/tickshard/internal/domain/models"
)

// tradeLess orders trades by (symbol, exchange time, trade id). Min() of a
// segment is therefore the earliest trade of the lexicographically first
// symbol, and AscendRange can walk one symbol's time range directly.
func tradeLess(a, b models.Trade) bool {
	if a.Symbol != b.Symbol {
		return a.Symbol < b.Symbol
	}
	at, bt := a.ExchangeTime.UTC(), b.ExchangeTime.UTC()
	if !at.Equal(bt) {
		return at.Before(bt)
	}
	return a.TradeID < b.TradeID
}

// segment is one monthly partition: an ordered trade index plus the trade
// id set used for deduplication.
type segment struct {
	trades *btree.BTreeG[models.Trade]
	ids    map[uint64]struct{}
}

func newSegment() *segment {
	const degree = 32
	return &segment{
		trades: btree.NewG[models.Trade](degree, tradeLess),
		ids:    make(map[uint64]struct{}),
	}
}

// MemLocalStore is the in-memory LocalStore implementation, partitioned by
// month. Dedup by trade id covers the trade's own partition and the prior
// one; older partitions may be pruned without weakening the window.
type MemLocalStore struct {
	mu       sync.RWMutex
	segments map[int]*segment // MonthKey -> partition
}

// NewMemLocalStore creates an empty in-memory store.
func NewMemLocalStore() *MemLocalStore {
	return &MemLocalStore{segments: make(map[int]*segment)}
}

// Append validates, deduplicates, and stores one trade.
func (s *MemLocalStore) Append(_ context.Context, t models.Trade) (AppendStatus, error) {
	if err := t.Validate(); err != nil {
		return StatusRejected, err
	}

	month := models.MonthKey(t.ExchangeTime)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Dedup window: current + prior monthly partition.
	if s.seenLocked(month, t.TradeID) || s.seenLocked(month-1, t.TradeID) {
		return StatusDuplicate, nil
	}

	seg, ok := s.segments[month]
	if !ok {
		seg = newSegment()
		s.segments[month] = seg
	}
	seg.trades.ReplaceOrInsert(t)
	seg.ids[t.TradeID] = struct{}{}
	return StatusAccepted, nil
}

func (s *MemLocalStore) seenLocked(month int, id uint64) bool {
	seg, ok := s.segments[month]
	if !ok {
		return false
	}
	_, seen := seg.ids[id]
	return seen
}

// Scan returns all matching trades ordered by exchange time ascending,
// trade id breaking ties. The result is a copy; callers may retain it.
func (s *MemLocalStore) Scan(ctx context.Context, q ScanQuery) ([]models.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	symbols := append([]string(nil), q.Symbols...)
	sort.Strings(symbols)

	var out []models.Trade
	for _, seg := range s.segments {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(symbols) == 0 {
			seg.trades.Ascend(func(t models.Trade) bool {
				if q.Matches(t) {
					out = append(out, t)
				}
				return true
			})
			continue
		}
		for i, sym := range symbols {
			if i > 0 && sym == symbols[i-1] {
				continue
			}
			collectSymbol(seg, sym, q, &out)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].ExchangeTime.UTC(), out[j].ExchangeTime.UTC()
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return out[i].TradeID < out[j].TradeID
	})
	return out, nil
}

// collectSymbol walks one symbol's run inside a segment. The btree is
// keyed by symbol first, so the walk starts at the symbol's first possible
// entry and stops as soon as the symbol changes.
func collectSymbol(seg *segment, symbol string, q ScanQuery, out *[]models.Trade) {
	pivot := models.Trade{Symbol: symbol}
	if !q.From.IsZero() {
		pivot.ExchangeTime = q.From.UTC()
	}
	seg.trades.AscendGreaterOrEqual(pivot, func(t models.Trade) bool {
		if t.Symbol != symbol {
			return false
		}
		if !q.To.IsZero() && !t.ExchangeTime.UTC().Before(q.To.UTC()) {
			return false
		}
		*out = append(*out, t)
		return true
	})
}

// PruneBefore drops monthly partitions strictly older than the given month.
func (s *MemLocalStore) PruneBefore(month time.Time) int {
	cutoff := models.MonthKey(month)

	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for key := range s.segments {
		if key < cutoff {
			delete(s.segments, key)
			dropped++
		}
	}
	return dropped
}

var _ LocalStore = (*MemLocalStore)(nil)
