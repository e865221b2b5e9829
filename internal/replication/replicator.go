package replication

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/guttosm/tickshard/internal/domain/models"
	"github.com/guttosm/tickshard/internal/logger"
)

// Peer is the receiving side of replication: another replica of the same
// shard that can apply a trade idempotently.
type Peer interface {
	ID() string
	Apply(ctx context.Context, t models.Trade) error
}

// Config tunes the shipping workers.
type Config struct {
	// BatchSize caps how many journal entries one shipping pass reads.
	BatchSize int
	// StaleLag is the entry count past which a peer counts as stale.
	StaleLag uint64
	// PollInterval bounds how long an idle worker sleeps between checks
	// of the journal tail.
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 256
	}
	if c.StaleLag == 0 {
		c.StaleLag = 1024
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	return c
}

// Replicator ships one replica's journal to its peers. Every peer gets its
// own worker and cursor, so one slow or down peer never blocks the others;
// a recovered peer simply resumes from its cursor and replays the backlog.
type Replicator struct {
	journal *Journal
	peers   []Peer
	cfg     Config
	log     zerolog.Logger

	mu      sync.RWMutex
	cursors map[string]uint64
	wake    map[string]chan struct{}
}

// NewReplicator creates a replicator over the journal for the given peers.
func NewReplicator(journal *Journal, peers []Peer, cfg Config) *Replicator {
	r := &Replicator{
		journal: journal,
		peers:   peers,
		cfg:     cfg.withDefaults(),
		log:     logger.With("replication"),
		cursors: make(map[string]uint64, len(peers)),
		wake:    make(map[string]chan struct{}, len(peers)),
	}
	for _, p := range peers {
		r.cursors[p.ID()] = 0
		r.wake[p.ID()] = make(chan struct{}, 1)
	}
	return r
}

// Notify wakes the shipping workers after new journal entries were recorded.
// Safe to call from any goroutine; never blocks.
func (r *Replicator) Notify() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ch := range r.wake {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Run ships journal entries to every peer until the context is canceled.
func (r *Replicator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, p := range r.peers {
		p := p
		g.Go(func() error { return r.shipLoop(ctx, p) })
	}
	return g.Wait()
}

func (r *Replicator) shipLoop(ctx context.Context, p Peer) error {
	wake := r.wakeChan(p.ID())
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := r.shipBacklog(ctx, p); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		case <-ticker.C:
		}
	}
}

// shipBacklog drains everything currently past the peer's cursor. Each entry
// is retried with exponential backoff until it applies or the context ends,
// which is what turns a peer outage into a catch-up replay instead of loss.
func (r *Replicator) shipBacklog(ctx context.Context, p Peer) error {
	for {
		entries := r.journal.EntriesAfter(r.Cursor(p.ID()), r.cfg.BatchSize)
		if len(entries) == 0 {
			return nil
		}
		for _, e := range entries {
			if err := r.shipOne(ctx, p, e); err != nil {
				return err
			}
			r.setCursor(p.ID(), e.Seq)
		}
	}
}

func (r *Replicator) shipOne(ctx context.Context, p Peer, e Entry) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 20 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 0 // retry until the peer recovers or we shut down

	attempt := 0
	op := func() error {
		attempt++
		err := p.Apply(ctx, e.Trade)
		if err != nil && attempt == 1 {
			r.log.Warn().
				Str("peer", p.ID()).
				Uint64("seq", e.Seq).
				Err(err).
				Msg("replication apply failed, retrying")
		}
		return err
	}
	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}

// Cursor returns the last sequence number the peer has acknowledged.
func (r *Replicator) Cursor(peerID string) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cursors[peerID]
}

func (r *Replicator) setCursor(peerID string, seq uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if seq > r.cursors[peerID] {
		r.cursors[peerID] = seq
	}
}

func (r *Replicator) wakeChan(peerID string) chan struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.wake[peerID]
}

// Lag returns how many journal entries the peer has not yet acknowledged.
func (r *Replicator) Lag(peerID string) uint64 {
	last := r.journal.LastSeq()
	cur := r.Cursor(peerID)
	if cur >= last {
		return 0
	}
	return last - cur
}

// Stale reports whether the peer's lag exceeds the configured threshold.
func (r *Replicator) Stale(peerID string) bool {
	return r.Lag(peerID) > r.cfg.StaleLag
}

// MinAcked returns the lowest cursor across all peers: everything at or
// below it has been applied everywhere. With no peers it is the journal
// head, so compaction is unrestricted.
func (r *Replicator) MinAcked() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.cursors) == 0 {
		return r.journal.LastSeq()
	}
	var min uint64
	first := true
	for _, c := range r.cursors {
		if first || c < min {
			min = c
			first = false
		}
	}
	return min
}

// Compact drops journal entries every peer has acknowledged, additionally
// keeping everything past floor. The aggregator passes its flush watermark
// as the floor so recovery can still replay the unflushed tail.
func (r *Replicator) Compact(floor uint64) int {
	upTo := r.MinAcked()
	if floor < upTo {
		upTo = floor
	}
	return r.journal.TruncateBefore(upTo + 1)
}
