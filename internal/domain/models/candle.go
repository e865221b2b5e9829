package models

import (
	"sort"
	"time"
)

// PricePoint is a price observation with enough identity to order it:
// exchange time first, then trade id as the tie-break. The open candidate
// of a partial candle is the minimum point, the close candidate the
// maximum.
type PricePoint struct {
	Price   Price
	Time    time.Time
	TradeID uint64
}

// Before reports whether p was observed before o, breaking timestamp ties
// by the lower trade id so the ordering is total and fold-order independent.
func (p PricePoint) Before(o PricePoint) bool {
	if !p.Time.Equal(o.Time) {
		return p.Time.Before(o.Time)
	}
	return p.TradeID < o.TradeID
}

// PartialCandle is the mergeable partial OHLCV state for one
// (symbol, minute bucket). It is built by folding trades in one at a time
// and can be merged with another partial for the same key; fold and merge
// commute and associate, so the final merged state is independent of how
// trades were split across flush cycles or replicas.
type PartialCandle struct {
	Symbol string
	Bucket time.Time

	Open   PricePoint // earliest-seen trade in the bucket
	High   Price
	Low    Price
	Close  PricePoint // latest-seen trade in the bucket
	Volume Quantity
	Trades int64
}

// NewPartialCandle builds the one-trade partial for t.
func NewPartialCandle(t Trade) PartialCandle {
	pt := PricePoint{Price: t.Price, Time: t.ExchangeTime.UTC(), TradeID: t.TradeID}
	return PartialCandle{
		Symbol: t.Symbol,
		Bucket: t.Bucket(),
		Open:   pt,
		High:   t.Price,
		Low:    t.Price,
		Close:  pt,
		Volume: t.Volume,
		Trades: 1,
	}
}

// Fold incorporates one trade into the partial. The trade must belong to
// the partial's (symbol, bucket) key.
func (c *PartialCandle) Fold(t Trade) {
	if c.Trades == 0 {
		*c = NewPartialCandle(t)
		return
	}
	pt := PricePoint{Price: t.Price, Time: t.ExchangeTime.UTC(), TradeID: t.TradeID}
	if pt.Before(c.Open) {
		c.Open = pt
	}
	if c.Close.Before(pt) {
		c.Close = pt
	}
	if t.Price > c.High {
		c.High = t.Price
	}
	if t.Price < c.Low {
		c.Low = t.Price
	}
	c.Volume += t.Volume
	c.Trades++
}

// Merge combines two partials for the same (symbol, bucket) key into one.
// Commutative and associative; merging with an empty partial is identity.
func (c PartialCandle) Merge(o PartialCandle) PartialCandle {
	if c.Trades == 0 {
		return o
	}
	if o.Trades == 0 {
		return c
	}
	out := c
	if o.Open.Before(out.Open) {
		out.Open = o.Open
	}
	if out.Close.Before(o.Close) {
		out.Close = o.Close
	}
	if o.High > out.High {
		out.High = o.High
	}
	if o.Low < out.Low {
		out.Low = o.Low
	}
	out.Volume += o.Volume
	out.Trades += o.Trades
	return out
}

// SortPartials orders partials by (symbol, bucket), the canonical read order.
func SortPartials(ps []PartialCandle) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].Symbol != ps[j].Symbol {
			return ps[i].Symbol < ps[j].Symbol
		}
		return ps[i].Bucket.Before(ps[j].Bucket)
	})
}

// OHLCVRow is the read-only projection of a fully merged partial candle.
// Derived on read, never stored.
type OHLCVRow struct {
	Symbol string
	Bucket time.Time
	Open   Price
	High   Price
	Low    Price
	Close  Price
	Volume Quantity
	Trades int64
}

// Finalize projects the partial into its readable row: open is the price of
// the earliest trade, close the price of the latest.
func (c PartialCandle) Finalize() OHLCVRow {
	return OHLCVRow{
		Symbol: c.Symbol,
		Bucket: c.Bucket,
		Open:   c.Open.Price,
		High:   c.High,
		Low:    c.Low,
		Close:  c.Close.Price,
		Volume: c.Volume,
		Trades: c.Trades,
	}
}
