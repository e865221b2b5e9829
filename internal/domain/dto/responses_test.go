package dto

import (
	"testing"
	"time"

	"github.com/guttosm/tickshard/internal/domain/models"
)

func TestErrorResponse_Error(t *testing.T) {
	e := ErrorResponse{Message: "oops"}
	if e.Error() != "oops" {
		t.Fatalf("want 'oops' got %q", e.Error())
	}
	e2 := ErrorResponse{Message: "oops", ErrorDetails: "bad"}
	if e2.Error() != "oops: bad" {
		t.Fatalf("want 'oops: bad' got %q", e2.Error())
	}
}

func TestNewTradeResponse(t *testing.T) {
	tr := models.Trade{
		ExchangeTime: time.Date(2025, 11, 3, 14, 30, 45, 123e6, time.UTC),
		Symbol:       "BTC/USD",
		Price:        4_500_012_345_678,
		Volume:       10_000_000,
		TradeID:      7,
		Side:         models.SideSell,
	}
	got := NewTradeResponse(tr)
	if got.ExchangeTime != "2025-11-03 14:30:45.123" {
		t.Fatalf("exchange_time %q", got.ExchangeTime)
	}
	if got.Price != "45000.12345678" || got.Volume != "0.10000000" {
		t.Fatalf("price/volume %q/%q", got.Price, got.Volume)
	}
	if got.Side != "sell" || got.TradeID != 7 {
		t.Fatalf("side/id %q/%d", got.Side, got.TradeID)
	}
}

func TestNewOHLCVResponse(t *testing.T) {
	row := models.OHLCVRow{
		Symbol: "ETH/USD",
		Bucket: time.Date(2025, 11, 3, 14, 30, 0, 0, time.UTC),
		Open:   100, High: 200, Low: 50, Close: 150,
		Volume: 300,
		Trades: 3,
	}
	got := NewOHLCVResponse(row)
	if got.Bucket != "2025-11-03T14:30:00Z" {
		t.Fatalf("bucket %q", got.Bucket)
	}
	if got.Open != "0.00000100" || got.Trades != 3 {
		t.Fatalf("open/trades %q/%d", got.Open, got.Trades)
	}
}
