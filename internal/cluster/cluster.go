// Package cluster wires shards, replicas, replication, and aggregation into
// one ingestion fabric. Trades route to shards by a pure hash of the symbol,
// so placement needs no directory and never moves.
package cluster

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/guttosm/tickshard/internal/aggregate"
	"github.com/guttosm/tickshard/internal/domain/models"
	"github.com/guttosm/tickshard/internal/logger"
	"github.com/guttosm/tickshard/internal/replication"
	"github.com/guttosm/tickshard/internal/storage"
)

// Options configures a cluster. Store factories default to the in-memory
// implementations; the app layer swaps in the Postgres-backed ones.
type Options struct {
	Shards           int
	ReplicasPerShard int

	// FlushGrace is how long a closed minute bucket waits for late trades
	// before it is flushed.
	FlushGrace time.Duration
	// FlushInterval is the aggregator flush cadence.
	FlushInterval time.Duration
	// CompactInterval is the journal compaction cadence.
	CompactInterval time.Duration

	// RetentionMonths is how many monthly trade partitions each replica
	// keeps; zero disables pruning. RetentionInterval is the sweep cadence.
	RetentionMonths   int
	RetentionInterval time.Duration

	Replication replication.Config

	NewLocalStore     func(shard, replica int) storage.LocalStore
	NewAggregateStore func(shard, replica int) storage.AggregateStore
}

func (o Options) withDefaults() Options {
	if o.Shards <= 0 {
		o.Shards = 1
	}
	if o.ReplicasPerShard <= 0 {
		o.ReplicasPerShard = 1
	}
	if o.FlushGrace <= 0 {
		o.FlushGrace = 30 * time.Second
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 5 * time.Second
	}
	if o.CompactInterval <= 0 {
		o.CompactInterval = time.Minute
	}
	if o.RetentionInterval <= 0 {
		o.RetentionInterval = time.Hour
	}
	if o.NewLocalStore == nil {
		o.NewLocalStore = func(int, int) storage.LocalStore { return storage.NewMemLocalStore() }
	}
	if o.NewAggregateStore == nil {
		o.NewAggregateStore = func(int, int) storage.AggregateStore { return storage.NewMemAggregateStore() }
	}
	return o
}

// Cluster is the full set of shards plus the background machinery that
// keeps replicas converged and candles flushed.
type Cluster struct {
	opts   Options
	shards []*Shard
	log    zerolog.Logger

	cancel context.CancelFunc
	g      *errgroup.Group
}

// New builds the cluster topology: Shards x ReplicasPerShard replicas, each
// with its own stores, journal, and a replicator toward its shard peers.
func New(opts Options) *Cluster {
	opts = opts.withDefaults()
	c := &Cluster{opts: opts, log: logger.With("cluster")}

	for si := 0; si < opts.Shards; si++ {
		shard := &Shard{id: si}
		for ri := 0; ri < opts.ReplicasPerShard; ri++ {
			store := opts.NewLocalStore(si, ri)
			aggStore := opts.NewAggregateStore(si, ri)
			agg := aggregate.New(aggStore, opts.FlushGrace)
			shard.replicas = append(shard.replicas, newReplica(si, ri, store, aggStore, agg))
		}
		for _, r := range shard.replicas {
			peers := make([]replication.Peer, 0, len(shard.replicas)-1)
			for _, p := range shard.replicas {
				if p != r {
					peers = append(peers, p)
				}
			}
			r.repl = replication.NewReplicator(r.journal, peers, opts.Replication)
		}
		c.shards = append(c.shards, shard)
	}
	return c
}

// Start rebuilds each aggregator from durable state, then launches the
// replication and flush loops. Stop with Shutdown.
func (c *Cluster) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.g, ctx = errgroup.WithContext(ctx)

	// With a durable backend the previous process may have died holding
	// unflushed partials; refold them before accepting traffic. A failed
	// recovery keeps the replica unavailable, its peers keep serving.
	for _, shard := range c.shards {
		for _, r := range shard.replicas {
			if err := r.Recover(ctx); err != nil {
				c.log.Error().Str("replica", r.ID()).Err(err).Msg("recovery failed, replica held unavailable")
			}
		}
	}

	for _, shard := range c.shards {
		for _, r := range shard.replicas {
			r := r
			c.g.Go(func() error { return r.repl.Run(ctx) })
			c.g.Go(func() error { return r.agg.Run(ctx, c.opts.FlushInterval) })
			c.g.Go(func() error { return c.compactLoop(ctx, r) })
			if c.opts.RetentionMonths > 0 {
				c.g.Go(func() error { return c.retentionLoop(ctx, r) })
			}
		}
	}
	c.log.Info().
		Int("shards", c.opts.Shards).
		Int("replicas_per_shard", c.opts.ReplicasPerShard).
		Msg("cluster started")
}

// compactLoop drops fully shipped journal entries, bounded by the flush
// watermark so recovery can still replay the unflushed tail.
func (c *Cluster) compactLoop(ctx context.Context, r *Replica) error {
	ticker := time.NewTicker(c.opts.CompactInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_, wmSeq := r.agg.Watermark()
			if n := r.repl.Compact(wmSeq); n > 0 {
				c.log.Debug().Str("replica", r.ID()).Int("entries", n).Msg("journal compacted")
			}
		}
	}
}

// retentionLoop drops monthly trade partitions older than the retention
// window. Dedup only ever looks at the current and prior month, so pruning
// behind that never re-admits a seen trade id.
func (c *Cluster) retentionLoop(ctx context.Context, r *Replica) error {
	ticker := time.NewTicker(c.opts.RetentionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().UTC().AddDate(0, -c.opts.RetentionMonths, 0)
			if n := r.store.PruneBefore(cutoff); n > 0 {
				c.log.Info().Str("replica", r.ID()).Int("trades", n).Time("cutoff", cutoff).Msg("old partitions pruned")
			}
		}
	}
}

// Shutdown stops the background loops and flushes every aggregator so no
// accumulated partial is lost.
func (c *Cluster) Shutdown(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
		_ = c.g.Wait() // loops exit with context.Canceled
	}

	var firstErr error
	for _, shard := range c.shards {
		for _, r := range shard.replicas {
			if _, err := r.agg.FlushAll(ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Ingest routes one trade to its shard and appends it there.
func (c *Cluster) Ingest(ctx context.Context, t models.Trade) (storage.AppendStatus, error) {
	if err := t.Validate(); err != nil {
		return storage.StatusRejected, err
	}
	return c.ShardFor(t.Symbol).Append(ctx, t)
}

// ShardFor returns the shard owning the symbol.
func (c *Cluster) ShardFor(symbol string) *Shard {
	return c.shards[ShardOf(symbol, len(c.shards))]
}

// Shards returns all shards, for query fan-out.
func (c *Cluster) Shards() []*Shard { return c.shards }

// Healthy reports whether every shard has at least one available replica.
func (c *Cluster) Healthy() bool {
	for _, s := range c.shards {
		if !s.Healthy() {
			return false
		}
	}
	return true
}
