// Package query fans reads out across shards and assembles the answers.
package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/guttosm/tickshard/internal/cluster"
	"github.com/guttosm/tickshard/internal/domain/models"
	"github.com/guttosm/tickshard/internal/logger"
	"github.com/guttosm/tickshard/internal/storage"
)

// TradesRequest selects raw trades. An empty symbol list means all symbols;
// From is inclusive, To exclusive, zero means unbounded. GlobalOrder asks
// for one time-ordered stream instead of the cheaper per-shard ordering.
type TradesRequest struct {
	Symbols     []string
	From, To    time.Time
	GlobalOrder bool
}

// OHLCVRequest selects finalized one-minute candles by symbol and bucket
// range.
type OHLCVRequest struct {
	Symbols  []string
	From, To time.Time
}

// PartialResultError reports that some shards could not answer. The rows
// from the shards that did answer accompany it; callers decide whether a
// partial answer is acceptable.
type PartialResultError struct {
	FailedShards []int
	err          error
}

func (e *PartialResultError) Error() string {
	ids := make([]string, len(e.FailedShards))
	for i, s := range e.FailedShards {
		ids[i] = fmt.Sprintf("%d", s)
	}
	return fmt.Sprintf("shards [%s] unavailable: %v", strings.Join(ids, " "), e.err)
}

func (e *PartialResultError) Unwrap() error { return e.err }

// Router executes read requests against the cluster.
type Router struct {
	cluster *cluster.Cluster
	timeout time.Duration
	log     zerolog.Logger
}

// NewRouter creates a router with the given per-shard deadline.
func NewRouter(c *cluster.Cluster, shardTimeout time.Duration) *Router {
	if shardTimeout <= 0 {
		shardTimeout = 2 * time.Second
	}
	return &Router{cluster: c, timeout: shardTimeout, log: logger.With("query")}
}

// targets returns the shards that can hold the requested symbols: the
// symbol hash pins each symbol to exactly one shard, so a symbol-scoped
// query skips the rest.
func (r *Router) targets(symbols []string) []*cluster.Shard {
	all := r.cluster.Shards()
	if len(symbols) == 0 {
		return all
	}
	seen := make(map[int]bool, len(symbols))
	var out []*cluster.Shard
	for _, sym := range symbols {
		s := r.cluster.ShardFor(sym)
		if !seen[s.ID()] {
			seen[s.ID()] = true
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Trades fans the request out and concatenates per-shard results, each
// already ordered by (time, trade id). With GlobalOrder the streams are
// merged into one such ordering. On shard failures the surviving rows are
// returned together with a PartialResultError.
func (r *Router) Trades(ctx context.Context, req TradesRequest) ([]models.Trade, error) {
	shards := r.targets(req.Symbols)
	results := make([][]models.Trade, len(shards))
	errs := make([]error, len(shards))

	g, gctx := errgroup.WithContext(ctx)
	for i, s := range shards {
		i, s := i, s
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(gctx, r.timeout)
			defer cancel()
			results[i], errs[i] = r.shardTrades(sctx, s, req)
			return nil
		})
	}
	_ = g.Wait()

	var out []models.Trade
	var failed []int
	var firstErr error
	for i, s := range shards {
		if errs[i] != nil {
			failed = append(failed, s.ID())
			if firstErr == nil {
				firstErr = errs[i]
			}
			continue
		}
		out = append(out, results[i]...)
	}

	if req.GlobalOrder {
		sort.Slice(out, func(i, j int) bool {
			ti, tj := out[i].ExchangeTime, out[j].ExchangeTime
			if !ti.Equal(tj) {
				return ti.Before(tj)
			}
			return out[i].TradeID < out[j].TradeID
		})
	}

	if len(failed) == len(shards) {
		// Nothing answered; that is an outage, not a partial result.
		return nil, firstErr
	}
	if len(failed) > 0 {
		return out, &PartialResultError{FailedShards: failed, err: firstErr}
	}
	return out, nil
}

func (r *Router) shardTrades(ctx context.Context, s *cluster.Shard, req TradesRequest) ([]models.Trade, error) {
	replica, err := s.ReadReplica()
	if err != nil {
		return nil, err
	}
	trades, err := replica.ReadTrades(ctx, storage.ScanQuery{
		Symbols: req.Symbols,
		From:    req.From,
		To:      req.To,
	})
	if err != nil {
		r.log.Warn().Int("shard", s.ID()).Err(err).Msg("shard trade read failed")
		return nil, fmt.Errorf("shard %d: %w: %v", s.ID(), models.ErrShardUnavailable, err)
	}
	return trades, nil
}

// OHLCV fans the request out and finalizes the merged partials into rows
// ordered by (symbol, bucket). Buckets with no trades simply do not appear.
func (r *Router) OHLCV(ctx context.Context, req OHLCVRequest) ([]models.OHLCVRow, error) {
	shards := r.targets(req.Symbols)
	results := make([][]models.PartialCandle, len(shards))
	errs := make([]error, len(shards))

	g, gctx := errgroup.WithContext(ctx)
	for i, s := range shards {
		i, s := i, s
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(gctx, r.timeout)
			defer cancel()
			results[i], errs[i] = r.shardCandles(sctx, s, req)
			return nil
		})
	}
	_ = g.Wait()

	var partials []models.PartialCandle
	var failed []int
	var firstErr error
	for i, s := range shards {
		if errs[i] != nil {
			failed = append(failed, s.ID())
			if firstErr == nil {
				firstErr = errs[i]
			}
			continue
		}
		partials = append(partials, results[i]...)
	}

	// A symbol lives on exactly one shard, so no cross-shard bucket can
	// collide; sorting is all that is left.
	models.SortPartials(partials)
	rows := make([]models.OHLCVRow, 0, len(partials))
	for _, p := range partials {
		rows = append(rows, p.Finalize())
	}

	if len(failed) == len(shards) {
		return nil, firstErr
	}
	if len(failed) > 0 {
		return rows, &PartialResultError{FailedShards: failed, err: firstErr}
	}
	return rows, nil
}

func (r *Router) shardCandles(ctx context.Context, s *cluster.Shard, req OHLCVRequest) ([]models.PartialCandle, error) {
	replica, err := s.ReadReplica()
	if err != nil {
		return nil, err
	}
	candles, err := replica.ReadCandles(ctx, storage.ReadQuery{
		Symbols: req.Symbols,
		From:    req.From,
		To:      req.To,
	})
	if err != nil {
		r.log.Warn().Int("shard", s.ID()).Err(err).Msg("shard candle read failed")
		return nil, fmt.Errorf("shard %d: %w: %v", s.ID(), models.ErrShardUnavailable, err)
	}
	return candles, nil
}
