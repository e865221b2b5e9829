package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/guttosm/tickshard/internal/cluster"
	"github.com/guttosm/tickshard/internal/domain/dto"
	"github.com/guttosm/tickshard/internal/domain/models"
	"github.com/guttosm/tickshard/internal/ingestion"
	"github.com/guttosm/tickshard/internal/middleware"
	"github.com/guttosm/tickshard/internal/query"
	"github.com/guttosm/tickshard/internal/storage"
)

// Handler provides HTTP handlers for trade ingestion and read endpoints.
//
// Responsibilities:
//   - Validate incoming HTTP query parameters and payloads
//   - Route ingests to the cluster and reads through the query router
//   - Translate domain results into response DTOs
//   - Return structured JSON responses with appropriate HTTP status codes
type Handler struct {
	cluster *cluster.Cluster
	router  *query.Router
}

// NewHandler constructs a new Handler instance.
func NewHandler(c *cluster.Cluster, r *query.Router) *Handler {
	return &Handler{cluster: c, router: r}
}

// parseTimeParam accepts RFC3339 ("2025-11-03T10:00:00Z") or the feed's
// millisecond layout ("2025-11-03 10:00:00.000").
func parseTimeParam(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse(dto.WireTimeLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

func parseSymbolsParam(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, sym := range strings.Split(s, ",") {
		if sym = strings.TrimSpace(sym); sym != "" {
			out = append(out, sym)
		}
	}
	return out
}

// GetTrades handles GET /api/v1/trades requests.
//
// Query Parameters:
//   - symbols (string, optional): Comma-separated symbol list; empty means all.
//   - from (string, optional): Inclusive lower time bound.
//   - to (string, optional): Exclusive upper time bound.
//   - order (string, optional): "global" merges all shards into one
//     time-ordered stream; default keeps the cheaper per-shard ordering.
//
// Responses:
//   - 200 OK: All target shards answered.
//   - 206 Partial Content: Some shards were unavailable; failed_shards lists them.
//   - 400 Bad Request: Malformed query parameters.
//   - 503 Service Unavailable: No shard could answer.
func (h *Handler) GetTrades(c *gin.Context) {
	req := query.TradesRequest{
		Symbols:     parseSymbolsParam(c.Query("symbols")),
		GlobalOrder: c.Query("order") == "global",
	}

	var err error
	if s := c.Query("from"); s != "" {
		if req.From, err = parseTimeParam(s); err != nil {
			c.JSON(http.StatusBadRequest, dto.NewErrorResponse("invalid from timestamp", err))
			return
		}
	}
	if s := c.Query("to"); s != "" {
		if req.To, err = parseTimeParam(s); err != nil {
			c.JSON(http.StatusBadRequest, dto.NewErrorResponse("invalid to timestamp", err))
			return
		}
	}

	trades, err := h.router.Trades(c.Request.Context(), req)
	resp := dto.TradesResponse{Trades: make([]dto.TradeResponse, 0, len(trades))}
	for _, t := range trades {
		resp.Trades = append(resp.Trades, dto.NewTradeResponse(t))
	}

	if err != nil {
		// A partial result stays a 206 even when the surviving shards had
		// no matching rows; only a full outage is a failure.
		var partial *query.PartialResultError
		if errors.As(err, &partial) {
			resp.FailedShards = partial.FailedShards
			c.JSON(http.StatusPartialContent, resp)
			return
		}
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetOHLCV handles GET /api/v1/ohlcv requests.
//
// Query Parameters:
//   - symbols (string, optional): Comma-separated symbol list; empty means all.
//   - from (string, optional): Inclusive lower bucket bound.
//   - to (string, optional): Exclusive upper bucket bound.
//
// Responses mirror GetTrades. Rows are ordered by (symbol, bucket); minutes
// with no trades do not appear.
func (h *Handler) GetOHLCV(c *gin.Context) {
	var req query.OHLCVRequest
	req.Symbols = parseSymbolsParam(c.Query("symbols"))

	var err error
	if s := c.Query("from"); s != "" {
		if req.From, err = parseTimeParam(s); err != nil {
			c.JSON(http.StatusBadRequest, dto.NewErrorResponse("invalid from timestamp", err))
			return
		}
	}
	if s := c.Query("to"); s != "" {
		if req.To, err = parseTimeParam(s); err != nil {
			c.JSON(http.StatusBadRequest, dto.NewErrorResponse("invalid to timestamp", err))
			return
		}
	}

	rows, err := h.router.OHLCV(c.Request.Context(), req)
	resp := dto.OHLCVListResponse{Candles: make([]dto.OHLCVResponse, 0, len(rows))}
	for _, r := range rows {
		resp.Candles = append(resp.Candles, dto.NewOHLCVResponse(r))
	}

	if err != nil {
		var partial *query.PartialResultError
		if errors.As(err, &partial) {
			resp.FailedShards = partial.FailedShards
			c.JSON(http.StatusPartialContent, resp)
			return
		}
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// PostTrades handles POST /api/v1/trades requests.
//
// Body: a single wire-format trade object or an array of them. Every record
// is ingested independently and reported in results by its input index;
// validation failures reject the record, never the batch.
//
// Responses:
//   - 200 OK: Batch processed (individual records may still be rejected).
//   - 400 Bad Request: Body is not valid JSON.
//   - 503 Service Unavailable: A target shard has no available replica.
func (h *Handler) PostTrades(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("unreadable body", err))
		return
	}

	records, err := splitRecords(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("malformed payload", err))
		return
	}

	resp := dto.IngestResponse{Results: make([]dto.RecordResult, 0, len(records))}
	for i, raw := range records {
		result := dto.RecordResult{Index: i}

		t, err := ingestion.ParseRecord(raw)
		if err == nil {
			var status storage.AppendStatus
			status, err = h.cluster.Ingest(c.Request.Context(), t)
			if err == nil {
				result.Status = status.String()
			}
		}

		switch {
		case errors.Is(err, models.ErrInvalidTrade):
			result.Status = storage.StatusRejected.String()
			result.Error = err.Error()
			resp.Rejected++
		case err != nil:
			// Shard outage fails the whole call; the client retries the
			// batch and dedup absorbs the records that already landed.
			middleware.AbortWithError(c, err)
			return
		case result.Status == storage.StatusDuplicate.String():
			resp.Duplicates++
		default:
			resp.Accepted++
		}
		resp.Results = append(resp.Results, result)
	}

	c.JSON(http.StatusOK, resp)
}

// splitRecords turns the request body into individual JSON records,
// accepting either one object or an array of objects.
func splitRecords(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty body")
	}
	if trimmed[0] == '[' {
		var records []json.RawMessage
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, err
		}
		return records, nil
	}
	if !json.Valid(trimmed) {
		return nil, errors.New("body is not valid JSON")
	}
	return []json.RawMessage{trimmed}, nil
}
