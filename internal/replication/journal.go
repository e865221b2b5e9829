// Package replication keeps every replica of a shard converging on the same
// trade set. Each replica journals its locally accepted writes with a
// monotonic sequence number and ships the journal tail to its peers; applies
// are idempotent, so redelivery after a failure is harmless.
package replication

import (
	"sync"

	"github.com/guttosm/tickshard/internal/domain/models"
)

// Entry is one journaled write: the accepted trade plus the sequence number
// assigned by the owning replica.
type Entry struct {
	Seq   uint64
	Trade models.Trade
}

// Journal is an in-memory write-ahead log of locally accepted trades.
// Sequence numbers start at 1 and never repeat; TruncateBefore reclaims
// entries every peer has acknowledged.
type Journal struct {
	mu      sync.RWMutex
	entries []Entry
	base    uint64 // seq of entries[0]; lastSeq - len(entries) + 1 when non-empty
	lastSeq uint64
}

// NewJournal creates an empty journal.
func NewJournal() *Journal {
	return &Journal{base: 1}
}

// Record assigns the next sequence number to the trade and appends it.
func (j *Journal) Record(t models.Trade) Entry {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.lastSeq++
	e := Entry{Seq: j.lastSeq, Trade: t}
	j.entries = append(j.entries, e)
	return e
}

// LastSeq returns the highest assigned sequence number, zero when nothing
// has been recorded.
func (j *Journal) LastSeq() uint64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.lastSeq
}

// EntriesAfter returns up to limit entries with seq > after, in order. A
// limit of zero or less means no cap.
func (j *Journal) EntriesAfter(after uint64, limit int) []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if after >= j.lastSeq || len(j.entries) == 0 {
		return nil
	}

	start := 0
	if after >= j.base {
		start = int(after - j.base + 1)
	}
	tail := j.entries[start:]
	if limit > 0 && len(tail) > limit {
		tail = tail[:limit]
	}
	return append([]Entry(nil), tail...)
}

// TruncateBefore drops entries with seq < seq and returns how many were
// dropped. Truncating past an unshipped entry would orphan a peer, so the
// caller bounds seq by the minimum acknowledged cursor.
func (j *Journal) TruncateBefore(seq uint64) int {
	j.mu.Lock()
	defer j.mu.Unlock()

	if seq > j.lastSeq+1 {
		seq = j.lastSeq + 1
	}
	if seq <= j.base {
		return 0
	}
	drop := int(seq - j.base)
	if drop > len(j.entries) {
		drop = len(j.entries)
	}
	j.entries = append([]Entry(nil), j.entries[drop:]...)
	j.base = seq
	return drop
}
