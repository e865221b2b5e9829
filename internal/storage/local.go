package storage

import (
	"context"
	"time"

	"github.com/guttosm/tickshard/internal/domain/models"
)

// AppendStatus is the outcome of a local store append.
type AppendStatus int

const (
	// StatusAccepted: the trade was validated, stored, and must be folded
	// into the aggregator and replicated.
	StatusAccepted AppendStatus = iota
	// StatusDuplicate: the trade id was already seen inside the dedup
	// window. Absorbed silently, never double-counted.
	StatusDuplicate
	// StatusRejected: the record is structurally invalid and was not
	// written.
	StatusRejected
)

func (s AppendStatus) String() string {
	switch s {
	case StatusAccepted:
		return "accepted"
	case StatusDuplicate:
		return "duplicate"
	case StatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// ScanQuery selects trades by symbol set and time range. From is inclusive,
// To exclusive; a zero From or To leaves that bound open. An empty Symbols
// slice matches every symbol in the store.
type ScanQuery struct {
	Symbols []string
	From    time.Time
	To      time.Time
}

// Matches reports whether a trade falls inside the query.
func (q ScanQuery) Matches(t models.Trade) bool {
	if len(q.Symbols) > 0 {
		found := false
		for _, s := range q.Symbols {
			if s == t.Symbol {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	ts := t.ExchangeTime.UTC()
	if !q.From.IsZero() && ts.Before(q.From.UTC()) {
		return false
	}
	if !q.To.IsZero() && !ts.Before(q.To.UTC()) {
		return false
	}
	return true
}

// LocalStore is the durable, append-only trade log of one replica.
//
// Appends validate the record, deduplicate by trade id within the retention
// window (the trade's monthly partition plus the prior one), and preserve
// insertion for range scans ordered by exchange time ascending (trade id
// breaks ties). Implementations must be safe for concurrent use; the shard
// pipeline serializes appends, but scans run concurrently with them.
type LocalStore interface {
	Append(ctx context.Context, t models.Trade) (AppendStatus, error)
	Scan(ctx context.Context, q ScanQuery) ([]models.Trade, error)

	// PruneBefore drops whole monthly partitions older than the given
	// month and returns how many were removed. Used for retention, not
	// correctness.
	PruneBefore(month time.Time) int
}
