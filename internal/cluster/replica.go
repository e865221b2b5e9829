package cluster

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/guttosm/tickshard/internal/aggregate"
	"github.com/guttosm/tickshard/internal/domain/models"
	"github.com/guttosm/tickshard/internal/logger"
	"github.com/guttosm/tickshard/internal/replication"
	"github.com/guttosm/tickshard/internal/storage"
)

// Replica is one copy of a shard: a local trade store, the candle
// aggregator over it, and the journal its writes are replicated from.
// Every replica accepts writes; convergence comes from idempotent applies,
// not from a leader.
type Replica struct {
	id       string
	shard    int
	index    int
	store    storage.LocalStore
	aggStore storage.AggregateStore
	agg      *aggregate.Aggregator
	journal  *replication.Journal
	repl     *replication.Replicator

	available atomic.Bool
	log       zerolog.Logger
}

func newReplica(shard, index int, store storage.LocalStore, aggStore storage.AggregateStore, agg *aggregate.Aggregator) *Replica {
	r := &Replica{
		id:       fmt.Sprintf("s%d-r%d", shard, index),
		shard:    shard,
		index:    index,
		store:    store,
		aggStore: aggStore,
		agg:      agg,
		journal:  replication.NewJournal(),
		log:      logger.With("replica"),
	}
	r.available.Store(true)
	return r
}

// ID returns the replica's stable identifier, unique within the cluster.
func (r *Replica) ID() string { return r.id }

// Available reports whether the replica accepts reads and writes.
func (r *Replica) Available() bool { return r.available.Load() }

// SetAvailable flips the replica's availability. Marking a replica
// unavailable does not lose data: its peers keep its backlog journaled and
// replay it on Apply once the replica returns.
func (r *Replica) SetAvailable(v bool) {
	if r.available.Swap(v) != v {
		r.log.Info().Str("replica", r.id).Bool("available", v).Msg("availability changed")
	}
}

// AppendLocal ingests one trade directly on this replica: validate, dedup,
// store, journal, fold. Duplicates are acknowledged without re-journaling,
// which is what makes redelivery and client retries idempotent end to end.
func (r *Replica) AppendLocal(ctx context.Context, t models.Trade) (storage.AppendStatus, error) {
	if !r.Available() {
		return storage.StatusRejected, fmt.Errorf("replica %s: %w", r.id, models.ErrReplicaUnavailable)
	}

	status, err := r.store.Append(ctx, t)
	if err != nil || status != storage.StatusAccepted {
		return status, err
	}

	e := r.journal.Record(t)
	r.agg.Fold(e.Seq, t)
	if r.repl != nil {
		r.repl.Notify()
	}
	return storage.StatusAccepted, nil
}

// Apply is the receiving side of replication (replication.Peer). Accepted
// trades are re-journaled so propagation is transitive; duplicates are not,
// which terminates the echo between peers.
func (r *Replica) Apply(ctx context.Context, t models.Trade) error {
	if !r.Available() {
		return fmt.Errorf("replica %s: %w", r.id, models.ErrReplicaUnavailable)
	}

	status, err := r.store.Append(ctx, t)
	if err != nil {
		if status == storage.StatusRejected {
			// Structurally invalid replicated trades cannot become
			// valid on retry; drop them instead of wedging the peer.
			r.log.Error().Str("replica", r.id).Uint64("trade_id", t.TradeID).Err(err).
				Msg("dropping invalid replicated trade")
			return nil
		}
		return err
	}
	if status != storage.StatusAccepted {
		return nil
	}

	e := r.journal.Record(t)
	r.agg.Fold(e.Seq, t)
	if r.repl != nil {
		r.repl.Notify()
	}
	return nil
}

// ReadTrades scans the replica's local store.
func (r *Replica) ReadTrades(ctx context.Context, q storage.ScanQuery) ([]models.Trade, error) {
	if !r.Available() {
		return nil, fmt.Errorf("replica %s: %w", r.id, models.ErrReplicaUnavailable)
	}
	return r.store.Scan(ctx, q)
}

// ReadCandles merges the durable aggregate rows with the live in-memory
// partials, so a bucket reflects every accepted trade whether or not it has
// been flushed yet.
func (r *Replica) ReadCandles(ctx context.Context, q storage.ReadQuery) ([]models.PartialCandle, error) {
	if !r.Available() {
		return nil, fmt.Errorf("replica %s: %w", r.id, models.ErrReplicaUnavailable)
	}

	durable, err := r.aggStore.Read(ctx, q)
	if err != nil {
		return nil, err
	}
	live := r.agg.Snapshot(q)
	if len(live) == 0 {
		return durable, nil
	}

	merged := make(map[candleKey]models.PartialCandle, len(durable)+len(live))
	for _, p := range append(durable, live...) {
		k := candleKey{symbol: p.Symbol, bucket: p.Bucket.Unix()}
		merged[k] = merged[k].Merge(p)
	}
	out := make([]models.PartialCandle, 0, len(merged))
	for _, p := range merged {
		out = append(out, p)
	}
	models.SortPartials(out)
	return out, nil
}

type candleKey struct {
	symbol string
	bucket int64
}

// Recover rebuilds the in-memory aggregator from durable state after its
// partials were lost. Everything flushed stays in the aggregate store; the
// rest is refolded from two disjoint sets: store trades from the bucket
// watermark on, and journal entries past the seq watermark whose bucket is
// older than it. The bucket watermark comes from the aggregate store, so
// this also works on a fresh process whose journal and in-memory state are
// empty.
func (r *Replica) Recover(ctx context.Context) error {
	r.SetAvailable(false)

	wmBucket, err := r.aggStore.Watermark(ctx)
	if err != nil {
		return fmt.Errorf("recover replica %s: %w", r.id, err)
	}
	_, wmSeq := r.agg.Watermark()
	r.agg.DropPartials()

	trades, err := r.store.Scan(ctx, storage.ScanQuery{From: wmBucket})
	if err != nil {
		return fmt.Errorf("recover replica %s: %w", r.id, err)
	}
	lastSeq := r.journal.LastSeq()
	for _, t := range trades {
		r.agg.Fold(lastSeq, t)
	}

	refolded := 0
	for _, e := range r.journal.EntriesAfter(wmSeq, 0) {
		if e.Trade.Bucket().Before(wmBucket) {
			r.agg.Fold(e.Seq, e.Trade)
			refolded++
		}
	}

	r.log.Info().
		Str("replica", r.id).
		Int("store_trades", len(trades)).
		Int("journal_trades", refolded).
		Msg("aggregator rebuilt")

	r.SetAvailable(true)
	return nil
}

// Flusher exposes the aggregator for lifecycle management.
func (r *Replica) Flusher() *aggregate.Aggregator { return r.agg }

var _ replication.Peer = (*Replica)(nil)
