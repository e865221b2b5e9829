// Package simulate generates realistic-looking trade flow: a random walk
// price per symbol and log-normal volumes, matching the shape of the live
// feed. Used for load generation and for producing replayable NDJSON files.
package simulate

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"strconv"
	"time"

	"github.com/guttosm/tickshard/internal/cluster"
	"github.com/guttosm/tickshard/internal/domain/dto"
	"github.com/guttosm/tickshard/internal/domain/models"
	"github.com/guttosm/tickshard/internal/logger"
	"github.com/guttosm/tickshard/internal/storage"
)

// initialPrices seeds each well-known symbol with a plausible level;
// unknown symbols start at a uniform random price.
var initialPrices = map[string]float64{
	"BTC/USD":  45000.0,
	"ETH/USD":  2500.0,
	"SOL/USD":  100.0,
	"DOGE/USD": 0.08,
	"XRP/USD":  0.55,
	"ADA/USD":  0.45,
}

const defaultVolatility = 0.0002

// priceSim is the per-symbol random walk state.
type priceSim struct {
	symbol     string
	price      float64
	volatility float64
	tradeID    uint64
}

func (s *priceSim) next(rng *rand.Rand, now time.Time) models.Trade {
	change := rng.NormFloat64() * s.volatility
	s.price *= 1 + change
	if s.price < 0.0001 {
		s.price = 0.0001
	}

	// Log-normal volume, clamped to one 1e-8 unit so rounding never
	// produces a zero-volume trade.
	volume := math.Exp(rng.NormFloat64()) * 0.1
	if volume < 1e-8 {
		volume = 1e-8
	}

	side := models.SideBuy
	if rng.Intn(2) == 1 {
		side = models.SideSell
	}

	s.tradeID++
	price, _ := models.ParsePrice(strconv.FormatFloat(s.price, 'f', models.FracDigits, 64))
	vol, _ := models.ParseQuantity(strconv.FormatFloat(volume, 'f', models.FracDigits, 64))

	return models.Trade{
		ExchangeTime: now.UTC(),
		Symbol:       s.symbol,
		Price:        price,
		Volume:       vol,
		TradeID:      s.tradeID,
		Side:         side,
	}
}

// Generator produces a stream of trades across a symbol set. Not safe for
// concurrent use; run one generator per goroutine.
type Generator struct {
	sims []*priceSim
	rng  *rand.Rand
	now  func() time.Time
}

// New creates a generator for the given symbols. The seed fixes the whole
// stream, which keeps load tests reproducible.
func New(symbols []string, seed int64) *Generator {
	rng := rand.New(rand.NewSource(seed))
	g := &Generator{rng: rng, now: time.Now}

	for _, sym := range symbols {
		price, ok := initialPrices[sym]
		if !ok {
			price = 10 + rng.Float64()*990
		}
		g.sims = append(g.sims, &priceSim{
			symbol:     sym,
			price:      price,
			volatility: defaultVolatility,
			// Disjoint id ranges per symbol so ids stay globally unique.
			tradeID: uint64(1_000_000 * (len(g.sims) + 1)),
		})
	}
	return g
}

// Next returns the next trade from a randomly chosen symbol.
func (g *Generator) Next() models.Trade {
	sim := g.sims[g.rng.Intn(len(g.sims))]
	return sim.next(g.rng, g.now())
}

// Run ingests trades into the cluster at the given per-second rate until
// count trades were sent (count <= 0 means until the context ends).
func (g *Generator) Run(ctx context.Context, c *cluster.Cluster, rate float64, count int) (int, error) {
	if rate <= 0 {
		rate = 10
	}
	interval := time.Duration(float64(time.Second) / rate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log := logger.With("simulate")
	sent := 0
	for {
		select {
		case <-ctx.Done():
			return sent, ctx.Err()
		case <-ticker.C:
			t := g.Next()
			status, err := c.Ingest(ctx, t)
			if err != nil {
				return sent, err
			}
			if status != storage.StatusAccepted {
				log.Warn().Str("symbol", t.Symbol).Uint64("trade_id", t.TradeID).Stringer("status", status).Msg("generated trade not accepted")
			}
			sent++
			if sent%100 == 0 {
				log.Info().Int("sent", sent).Str("symbol", t.Symbol).Str("price", t.Price.String()).Msg("progress")
			}
			if count > 0 && sent >= count {
				return sent, nil
			}
		}
	}
}

// WriteNDJSON emits count wire-format records, one per line, suitable for
// the replay path.
func (g *Generator) WriteNDJSON(w io.Writer, count int) error {
	for i := 0; i < count; i++ {
		t := g.Next()
		line := fmt.Sprintf(
			`{"exchange_time": %q, "symbol": %q, "price": %s, "volume": %s, "trade_id": %d, "side": %q}`,
			t.ExchangeTime.UTC().Format(dto.WireTimeLayout),
			t.Symbol,
			t.Price.String(),
			t.Volume.String(),
			t.TradeID,
			t.Side.String(),
		)
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
