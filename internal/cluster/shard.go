package cluster

import (
	"context"
	"fmt"
	"sync"

	"github.com/guttosm/tickshard/internal/domain/models"
	"github.com/guttosm/tickshard/internal/storage"
)

// Shard owns one symbol partition: a small set of replicas that all hold
// the same trade set once replication settles.
type Shard struct {
	id       int
	replicas []*Replica

	// Serializes ingests within the shard so the dedup check and the
	// journal ordering of one trade are not interleaved with another's.
	appendMu sync.Mutex
}

// ID returns the shard index.
func (s *Shard) ID() int { return s.id }

// Replicas returns the shard's replicas.
func (s *Shard) Replicas() []*Replica { return s.replicas }

// Append ingests one trade through the first available replica; its
// replicator then carries the write to the rest.
func (s *Shard) Append(ctx context.Context, t models.Trade) (storage.AppendStatus, error) {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	for _, r := range s.replicas {
		if !r.Available() {
			continue
		}
		return r.AppendLocal(ctx, t)
	}
	return storage.StatusRejected, fmt.Errorf("shard %d has no available replica: %w", s.id, models.ErrShardUnavailable)
}

// ReadReplica picks a replica that is available and not lagging behind its
// peers. A stale replica would serve reads missing writes its peers have
// long accepted, so it is skipped until it catches up.
func (s *Shard) ReadReplica() (*Replica, error) {
	var fallback *Replica
	for _, r := range s.replicas {
		if !r.Available() {
			continue
		}
		if fallback == nil {
			fallback = r
		}
		if !s.stale(r) {
			return r, nil
		}
	}
	if fallback != nil {
		// Every available replica is stale; serving a bounded-lag read
		// beats refusing the query outright.
		return fallback, nil
	}
	return nil, fmt.Errorf("shard %d has no available replica: %w", s.id, models.ErrShardUnavailable)
}

// stale reports whether any peer sees the replica lagging past the
// replication threshold. Lag is tracked on the sending side, so the check
// asks the other replicas about this one.
func (s *Shard) stale(target *Replica) bool {
	for _, other := range s.replicas {
		if other == target || other.repl == nil || !other.Available() {
			continue
		}
		if other.repl.Stale(target.ID()) {
			return true
		}
	}
	return false
}

// Healthy reports whether at least one replica can serve the shard.
func (s *Shard) Healthy() bool {
	for _, r := range s.replicas {
		if r.Available() {
			return true
		}
	}
	return false
}
