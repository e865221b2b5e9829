package models

import (
	"fmt"
	"time"
)

// Side is the taker side of a trade.
type Side uint8

const (
	SideUnknown Side = iota
	SideBuy
	SideSell
)

// ParseSide maps the wire values "buy" and "sell" to a Side. Anything else
// is a validation failure at the ingestion boundary.
func ParseSide(s string) (Side, error) {
	switch s {
	case "buy":
		return SideBuy, nil
	case "sell":
		return SideSell, nil
	default:
		return SideUnknown, fmt.Errorf("unparseable side %q", s)
	}
}

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// Trade is a single immutable trade event.
//
// Fields mirror the ingestion schema: millisecond-precision exchange
// timestamp, short symbol identifier, fixed-point price and volume with 8
// fractional digits, a globally unique 64-bit trade id used for
// deduplication, and the taker side.
type Trade struct {
	ExchangeTime time.Time
	Symbol       string
	Price        Price
	Volume       Quantity
	TradeID      uint64
	Side         Side
}

// Validate reports whether the record is structurally complete. A trade
// failing validation is Rejected at the ingestion boundary and never
// written.
func (t Trade) Validate() error {
	if t.Symbol == "" {
		return fmt.Errorf("%w: missing symbol", ErrInvalidTrade)
	}
	if t.ExchangeTime.IsZero() {
		return fmt.Errorf("%w: missing exchange_time", ErrInvalidTrade)
	}
	if t.TradeID == 0 {
		return fmt.Errorf("%w: missing trade_id", ErrInvalidTrade)
	}
	if t.Price <= 0 {
		return fmt.Errorf("%w: non-positive price", ErrInvalidTrade)
	}
	if t.Volume <= 0 {
		return fmt.Errorf("%w: non-positive volume", ErrInvalidTrade)
	}
	if t.Side != SideBuy && t.Side != SideSell {
		return fmt.Errorf("%w: unparseable side", ErrInvalidTrade)
	}
	return nil
}

// Bucket returns the one-minute aggregation bucket the trade belongs to:
// the exchange time floored to the minute, in UTC.
func (t Trade) Bucket() time.Time {
	return t.ExchangeTime.UTC().Truncate(time.Minute)
}

// MonthKey identifies the monthly storage partition for a timestamp as
// year*12 + month index. Local stores partition trades by month so old
// partitions can be pruned or archived.
func MonthKey(ts time.Time) int {
	ts = ts.UTC()
	return ts.Year()*12 + int(ts.Month()) - 1
}
