// Package ingestion turns wire-format trade records into domain trades and
// feeds them into the cluster, either from HTTP payloads or from NDJSON
// replay files.
package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/guttosm/tickshard/internal/domain/dto"
	"github.com/guttosm/tickshard/internal/domain/models"
)

// wireTrade is the JSON shape produced by the exchange feed. Price and
// volume arrive as JSON numbers with up to 8 fractional digits; json.Number
// keeps their exact decimal text so no float rounding sneaks in.
type wireTrade struct {
	ExchangeTime string      `json:"exchange_time"`
	Symbol       string      `json:"symbol"`
	Price        json.Number `json:"price"`
	Volume       json.Number `json:"volume"`
	TradeID      uint64      `json:"trade_id"`
	Side         string      `json:"side"`
}

// ParseRecord decodes one wire-format JSON record into a validated trade.
// Any malformation is reported as a models.ErrInvalidTrade so callers can
// count it as a rejection rather than an infrastructure failure.
func ParseRecord(data []byte) (models.Trade, error) {
	var w wireTrade
	if err := json.Unmarshal(data, &w); err != nil {
		return models.Trade{}, fmt.Errorf("%w: malformed record: %v", models.ErrInvalidTrade, err)
	}

	ts, err := time.Parse(dto.WireTimeLayout, w.ExchangeTime)
	if err != nil {
		return models.Trade{}, fmt.Errorf("%w: exchange_time: %v", models.ErrInvalidTrade, err)
	}

	price, err := models.ParsePrice(w.Price.String())
	if err != nil {
		return models.Trade{}, fmt.Errorf("%w: price: %v", models.ErrInvalidTrade, err)
	}
	volume, err := models.ParseQuantity(w.Volume.String())
	if err != nil {
		return models.Trade{}, fmt.Errorf("%w: volume: %v", models.ErrInvalidTrade, err)
	}
	side, err := models.ParseSide(w.Side)
	if err != nil {
		return models.Trade{}, fmt.Errorf("%w: %v", models.ErrInvalidTrade, err)
	}

	t := models.Trade{
		ExchangeTime: ts.UTC(),
		Symbol:       w.Symbol,
		Price:        price,
		Volume:       volume,
		TradeID:      w.TradeID,
		Side:         side,
	}
	if err := t.Validate(); err != nil {
		return models.Trade{}, err
	}
	return t, nil
}
