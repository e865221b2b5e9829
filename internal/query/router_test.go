package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/guttosm/tickshard/internal/cluster"
	"github.com/guttosm/tickshard/internal/domain/models"
	"github.com/guttosm/tickshard/internal/storage"
)

func routerTrade(symbol string, ts time.Time, id uint64, price models.Price) models.Trade {
	return models.Trade{
		ExchangeTime: ts,
		Symbol:       symbol,
		Price:        price,
		Volume:       10_000_000,
		TradeID:      id,
		Side:         models.SideSell,
	}
}

// seedCluster builds a multi-shard cluster without background loops and
// loads it with interleaved trades for two symbols.
func seedCluster(t *testing.T) (*cluster.Cluster, []models.Trade) {
	t.Helper()
	c := cluster.New(cluster.Options{Shards: 4, ReplicasPerShard: 1, FlushGrace: time.Hour})

	base := time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)
	trades := []models.Trade{
		routerTrade("BTC/USD", base.Add(1*time.Second), 1, 1000),
		routerTrade("SOL/USD", base.Add(2*time.Second), 2, 200),
		routerTrade("BTC/USD", base.Add(3*time.Second), 3, 1010),
		routerTrade("SOL/USD", base.Add(4*time.Second), 4, 210),
		routerTrade("BTC/USD", base.Add(65*time.Second), 5, 1020),
	}
	for _, tr := range trades {
		st, err := c.Ingest(context.Background(), tr)
		require.NoError(t, err)
		require.Equal(t, storage.StatusAccepted, st)
	}
	return c, trades
}

func TestRouter_TradesPerShardOrder(t *testing.T) {
	c, _ := seedCluster(t)
	r := NewRouter(c, time.Second)

	got, err := r.Trades(context.Background(), TradesRequest{})
	require.NoError(t, err)
	require.Len(t, got, 5)

	// Within one symbol (hence one shard) order is by time.
	var btc []uint64
	for _, tr := range got {
		if tr.Symbol == "BTC/USD" {
			btc = append(btc, tr.TradeID)
		}
	}
	require.Equal(t, []uint64{1, 3, 5}, btc)
}

func TestRouter_TradesGlobalOrder(t *testing.T) {
	c, trades := seedCluster(t)
	r := NewRouter(c, time.Second)

	got, err := r.Trades(context.Background(), TradesRequest{GlobalOrder: true})
	require.NoError(t, err)
	require.Len(t, got, len(trades))
	for i, tr := range got {
		require.Equal(t, uint64(i+1), tr.TradeID, "global order by exchange time")
	}
}

func TestRouter_TradesSymbolAndRangeFilter(t *testing.T) {
	c, _ := seedCluster(t)
	r := NewRouter(c, time.Second)
	base := time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)

	got, err := r.Trades(context.Background(), TradesRequest{
		Symbols: []string{"SOL/USD"},
		From:    base.Add(3 * time.Second),
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, uint64(4), got[0].TradeID)
}

func TestRouter_OHLCVAcrossShards(t *testing.T) {
	c, _ := seedCluster(t)
	r := NewRouter(c, time.Second)
	base := time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)

	rows, err := r.OHLCV(context.Background(), OHLCVRequest{})
	require.NoError(t, err)
	require.Len(t, rows, 3, "BTC 10:00, BTC 10:01, SOL 10:00")

	require.Equal(t, "BTC/USD", rows[0].Symbol)
	require.Equal(t, base, rows[0].Bucket)
	require.Equal(t, models.Price(1000), rows[0].Open)
	require.Equal(t, models.Price(1010), rows[0].Close)
	require.Equal(t, int64(2), rows[0].Trades)

	require.Equal(t, "BTC/USD", rows[1].Symbol)
	require.Equal(t, base.Add(time.Minute), rows[1].Bucket)

	require.Equal(t, "SOL/USD", rows[2].Symbol)
	require.Equal(t, int64(2), rows[2].Trades)
}

func TestRouter_PartialResultOnShardFailure(t *testing.T) {
	c, _ := seedCluster(t)
	r := NewRouter(c, time.Second)

	// Down every replica of the SOL shard only.
	for _, rep := range c.ShardFor("SOL/USD").Replicas() {
		rep.SetAvailable(false)
	}

	got, err := r.Trades(context.Background(), TradesRequest{GlobalOrder: true})
	require.ErrorIs(t, err, models.ErrShardUnavailable)

	var pre *PartialResultError
	require.ErrorAs(t, err, &pre)
	require.Contains(t, pre.FailedShards, c.ShardFor("SOL/USD").ID())

	// The surviving shards still answered.
	require.NotEmpty(t, got)
	for _, tr := range got {
		require.NotEqual(t, "SOL/USD", tr.Symbol)
	}

	// A query scoped to healthy symbols is unaffected.
	btc, err := r.Trades(context.Background(), TradesRequest{Symbols: []string{"BTC/USD"}})
	require.NoError(t, err)
	require.Len(t, btc, 3)
}

func TestRouter_PartialResultEvenWhenSurvivorsAreEmpty(t *testing.T) {
	c, _ := seedCluster(t)
	r := NewRouter(c, time.Second)
	base := time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)

	for _, rep := range c.ShardFor("SOL/USD").Replicas() {
		rep.SetAvailable(false)
	}

	// The healthy BTC shard has nothing in this range; the answer is still
	// partial, not an outage.
	got, err := r.Trades(context.Background(), TradesRequest{
		Symbols: []string{"BTC/USD", "SOL/USD"},
		From:    base.Add(time.Hour),
	})
	var pre *PartialResultError
	require.ErrorAs(t, err, &pre)
	require.Equal(t, []int{c.ShardFor("SOL/USD").ID()}, pre.FailedShards)
	require.Empty(t, got)

	rows, err := r.OHLCV(context.Background(), OHLCVRequest{
		Symbols: []string{"BTC/USD", "SOL/USD"},
		From:    base.Add(time.Hour),
	})
	require.ErrorAs(t, err, &pre)
	require.Empty(t, rows)
}

func TestRouter_AllTargetsFailedIsAnOutage(t *testing.T) {
	c, _ := seedCluster(t)
	r := NewRouter(c, time.Second)

	for _, rep := range c.ShardFor("SOL/USD").Replicas() {
		rep.SetAvailable(false)
	}

	// Every targeted shard failed: a plain shard error, not a partial result.
	_, err := r.Trades(context.Background(), TradesRequest{Symbols: []string{"SOL/USD"}})
	require.ErrorIs(t, err, models.ErrShardUnavailable)
	var pre *PartialResultError
	require.False(t, errors.As(err, &pre))
}
