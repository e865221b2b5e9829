package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	pq "github.com/lib/pq"

	"github.com/guttosm/tickshard/internal/domain/models"
)

// PgAggregateStore is the Postgres-backed AggregateStore: one row per
// (shard, replica, symbol, bucket) holding the merged partial candle.
type PgAggregateStore struct {
	db      *sql.DB
	shard   int
	replica int
}

// NewPgAggregateStore creates a Postgres aggregate store for one replica.
func NewPgAggregateStore(db *sql.DB, shard, replica int) *PgAggregateStore {
	return &PgAggregateStore{db: db, shard: shard, replica: replica}
}

// mergeCandleSQL upserts one partial, applying the candle merge algebra in
// SQL: min/max for high/low, sum for volume and count, and candidate
// replacement for open/close ordered by (time, trade_id).
const mergeCandleSQL = `
		INSERT INTO candles_1m (
			shard, replica, symbol, bucket,
			open_price, open_time, open_trade_id,
			high, low,
			close_price, close_time, close_trade_id,
			volume, trade_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (shard, replica, symbol, bucket) DO UPDATE SET
			open_price = CASE WHEN (EXCLUDED.open_time, EXCLUDED.open_trade_id) < (candles_1m.open_time, candles_1m.open_trade_id)
				THEN EXCLUDED.open_price ELSE candles_1m.open_price END,
			open_time = LEAST(candles_1m.open_time, EXCLUDED.open_time),
			open_trade_id = CASE WHEN (EXCLUDED.open_time, EXCLUDED.open_trade_id) < (candles_1m.open_time, candles_1m.open_trade_id)
				THEN EXCLUDED.open_trade_id ELSE candles_1m.open_trade_id END,
			high = GREATEST(candles_1m.high, EXCLUDED.high),
			low = LEAST(candles_1m.low, EXCLUDED.low),
			close_price = CASE WHEN (EXCLUDED.close_time, EXCLUDED.close_trade_id) > (candles_1m.close_time, candles_1m.close_trade_id)
				THEN EXCLUDED.close_price ELSE candles_1m.close_price END,
			close_time = GREATEST(candles_1m.close_time, EXCLUDED.close_time),
			close_trade_id = CASE WHEN (EXCLUDED.close_time, EXCLUDED.close_trade_id) > (candles_1m.close_time, candles_1m.close_trade_id)
				THEN EXCLUDED.close_trade_id ELSE candles_1m.close_trade_id END,
			volume = candles_1m.volume + EXCLUDED.volume,
			trade_count = candles_1m.trade_count + EXCLUDED.trade_count`

// advanceWatermarkSQL records the flush watermark. GREATEST keeps it
// monotonic even if flushes commit out of order.
const advanceWatermarkSQL = `
		INSERT INTO agg_watermarks (shard, replica, wm_bucket)
		VALUES ($1, $2, $3)
		ON CONFLICT (shard, replica) DO UPDATE SET
			wm_bucket = GREATEST(agg_watermarks.wm_bucket, EXCLUDED.wm_bucket)`

// MergeBatch merges the batch and records the watermark inside a single
// transaction: a failed flush rolls back completely, so retrying with the
// same in-memory partials can never double-apply a bucket, and the
// watermark never claims coverage a crash could contradict.
func (s *PgAggregateStore) MergeBatch(ctx context.Context, partials []models.PartialCandle, watermark time.Time) error {
	if len(partials) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin merge: %w", err)
	}

	for _, p := range partials {
		if p.Trades == 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx, mergeCandleSQL,
			s.shard, s.replica, p.Symbol, p.Bucket.UTC(),
			int64(p.Open.Price), p.Open.Time.UTC(), int64(p.Open.TradeID),
			int64(p.High), int64(p.Low),
			int64(p.Close.Price), p.Close.Time.UTC(), int64(p.Close.TradeID),
			int64(p.Volume), p.Trades,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("merge candle %s %s: %w", p.Symbol, p.Bucket, err)
		}
	}

	if !watermark.IsZero() {
		if _, err := tx.ExecContext(ctx, advanceWatermarkSQL, s.shard, s.replica, watermark.UTC()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("advance watermark: %w", err)
		}
	}

	return tx.Commit()
}

// Watermark loads the recorded flush watermark; a replica that never
// flushed has none, which reads as the zero time.
func (s *PgAggregateStore) Watermark(ctx context.Context) (time.Time, error) {
	var wm time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT wm_bucket FROM agg_watermarks
		WHERE shard = $1 AND replica = $2`,
		s.shard, s.replica,
	).Scan(&wm)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("load watermark: %w", err)
	}
	return wm.UTC(), nil
}

// Read returns matching partials ordered by (symbol, bucket).
func (s *PgAggregateStore) Read(ctx context.Context, q ReadQuery) ([]models.PartialCandle, error) {
	conditions := "shard = $1 AND replica = $2"
	args := []interface{}{s.shard, s.replica}

	if len(q.Symbols) > 0 {
		args = append(args, pq.Array(q.Symbols))
		conditions += fmt.Sprintf(" AND symbol = ANY($%d)", len(args))
	}
	if !q.From.IsZero() {
		args = append(args, q.From.UTC())
		conditions += fmt.Sprintf(" AND bucket >= $%d", len(args))
	}
	if !q.To.IsZero() {
		args = append(args, q.To.UTC())
		conditions += fmt.Sprintf(" AND bucket < $%d", len(args))
	}

	query := fmt.Sprintf(`
		SELECT symbol, bucket,
			open_price, open_time, open_trade_id,
			high, low,
			close_price, close_time, close_trade_id,
			volume, trade_count
		FROM candles_1m
		WHERE %s
		ORDER BY symbol, bucket`, conditions)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read candles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.PartialCandle
	for rows.Next() {
		var (
			p                          models.PartialCandle
			bucket, openTime, closeTim time.Time
			openPrice, openID          int64
			high, low                  int64
			closePrice, closeID        int64
			volume                     int64
		)
		if err := rows.Scan(
			&p.Symbol, &bucket,
			&openPrice, &openTime, &openID,
			&high, &low,
			&closePrice, &closeTim, &closeID,
			&volume, &p.Trades,
		); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		p.Bucket = bucket.UTC()
		p.Open = models.PricePoint{Price: models.Price(openPrice), Time: openTime.UTC(), TradeID: uint64(openID)}
		p.High = models.Price(high)
		p.Low = models.Price(low)
		p.Close = models.PricePoint{Price: models.Price(closePrice), Time: closeTim.UTC(), TradeID: uint64(closeID)}
		p.Volume = models.Quantity(volume)
		out = append(out, p)
	}
	return out, rows.Err()
}

var _ AggregateStore = (*PgAggregateStore)(nil)
