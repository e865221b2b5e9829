package dto

import (
	"time"

	"github.com/guttosm/tickshard/internal/domain/models"
)

// WireTimeLayout is the millisecond timestamp format used by the trade feed
// and echoed back by the read API.
const WireTimeLayout = "2006-01-02 15:04:05.000"

// TradeResponse is one raw trade as rendered by GET /api/v1/trades.
// Prices and volumes are decimal strings with 8 fractional digits so no
// precision is lost in JSON numbers.
type TradeResponse struct {
	ExchangeTime string `json:"exchange_time" example:"2025-11-03 14:30:45.123"`
	Symbol       string `json:"symbol" example:"BTC/USD"`
	Price        string `json:"price" example:"45000.12345678"`
	Volume       string `json:"volume" example:"0.10000000"`
	TradeID      uint64 `json:"trade_id" example:"1000042"`
	Side         string `json:"side" example:"buy"`
}

// NewTradeResponse projects a domain trade into its API shape.
func NewTradeResponse(t models.Trade) TradeResponse {
	return TradeResponse{
		ExchangeTime: t.ExchangeTime.UTC().Format(WireTimeLayout),
		Symbol:       t.Symbol,
		Price:        t.Price.String(),
		Volume:       t.Volume.String(),
		TradeID:      t.TradeID,
		Side:         t.Side.String(),
	}
}

// OHLCVResponse is one finalized (symbol, minute bucket) row as rendered by
// GET /api/v1/ohlcv.
type OHLCVResponse struct {
	Symbol string `json:"symbol" example:"BTC/USD"`
	Bucket string `json:"bucket" example:"2025-11-03T14:30:00Z"`
	Open   string `json:"open" example:"45000.00000000"`
	High   string `json:"high" example:"45012.00000000"`
	Low    string `json:"low" example:"44990.00000000"`
	Close  string `json:"close" example:"45005.50000000"`
	Volume string `json:"volume" example:"12.34000000"`
	Trades int64  `json:"trade_count" example:"118"`
}

// NewOHLCVResponse projects a finalized row into its API shape.
func NewOHLCVResponse(r models.OHLCVRow) OHLCVResponse {
	return OHLCVResponse{
		Symbol: r.Symbol,
		Bucket: r.Bucket.UTC().Format(time.RFC3339),
		Open:   r.Open.String(),
		High:   r.High.String(),
		Low:    r.Low.String(),
		Close:  r.Close.String(),
		Volume: r.Volume.String(),
		Trades: r.Trades,
	}
}

// TradesResponse is the GET /api/v1/trades envelope. FailedShards lists
// shards that could not answer; when present the response is partial and
// carries status 206.
type TradesResponse struct {
	Trades       []TradeResponse `json:"trades"`
	FailedShards []int           `json:"failed_shards,omitempty"`
}

// OHLCVListResponse is the GET /api/v1/ohlcv envelope, with the same
// partial-result convention as TradesResponse.
type OHLCVListResponse struct {
	Candles      []OHLCVResponse `json:"candles"`
	FailedShards []int           `json:"failed_shards,omitempty"`
}

// RecordResult reports the outcome of ingesting one record from a POST
// /api/v1/trades payload.
type RecordResult struct {
	Index  int    `json:"index"`
	Status string `json:"status" example:"accepted"`
	Error  string `json:"error,omitempty"`
}

// IngestResponse summarizes a POST /api/v1/trades call.
type IngestResponse struct {
	Accepted   int            `json:"accepted"`
	Duplicates int            `json:"duplicates"`
	Rejected   int            `json:"rejected"`
	Results    []RecordResult `json:"results"`
}
