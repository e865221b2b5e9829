package storage

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/guttosm/tickshard/internal/domain/models"
)

type dummyErr struct{}

func (dummyErr) Error() string { return "dummy" }

func newMockLocal(t *testing.T) (*PgLocalStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	store := NewPgLocalStore(db, 1, 0)
	cleanup := func() { _ = db.Close() }
	return store, mock, cleanup
}

var (
	dedupRegex  = regexp.MustCompile(`SELECT EXISTS\(\s*SELECT 1 FROM trades`)
	insertRegex = regexp.MustCompile(`INSERT INTO trades .*ON CONFLICT DO NOTHING`)
	scanRegex   = regexp.MustCompile(`SELECT symbol, exchange_time, price, volume, trade_id, side\s+FROM trades`)
)

func TestPgLocalStore_Append_SQLMock(t *testing.T) {
	store, mock, done := newMockLocal(t)
	defer done()

	ctx := context.Background()
	ts := time.Date(2025, 11, 3, 10, 0, 1, 500_000_000, time.UTC)
	tr := memTrade("BTC/USD", ts, 42)
	month := models.MonthKey(ts)

	// Fresh id: dedup miss, then insert with one row affected.
	mock.ExpectQuery(dedupRegex.String()).
		WithArgs(1, 0, int64(42), month, month-1).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(insertRegex.String()).
		WithArgs(1, 0, month, int64(42), "BTC/USD", ts, int64(tr.Price), int64(tr.Volume), "buy").
		WillReturnResult(sqlmock.NewResult(0, 1))

	st, err := store.Append(ctx, tr)
	if err != nil || st != StatusAccepted {
		t.Fatalf("append: %v %v", st, err)
	}

	// Known id: dedup hit, no insert issued.
	mock.ExpectQuery(dedupRegex.String()).
		WithArgs(1, 0, int64(42), month, month-1).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	st, err = store.Append(ctx, tr)
	if err != nil || st != StatusDuplicate {
		t.Fatalf("duplicate append: %v %v", st, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPgLocalStore_Append_ConflictRace(t *testing.T) {
	store, mock, done := newMockLocal(t)
	defer done()

	ts := time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)
	tr := memTrade("BTC/USD", ts, 7)
	month := models.MonthKey(ts)

	// Dedup check misses but the insert conflicts: zero rows affected is
	// reported as a duplicate, not an error.
	mock.ExpectQuery(dedupRegex.String()).
		WithArgs(1, 0, int64(7), month, month-1).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(insertRegex.String()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	st, err := store.Append(context.Background(), tr)
	if err != nil || st != StatusDuplicate {
		t.Fatalf("raced append: %v %v", st, err)
	}
}

func TestPgLocalStore_Append_RejectsInvalid(t *testing.T) {
	store, mock, done := newMockLocal(t)
	defer done()

	// No SQL runs for a structurally invalid trade.
	st, err := store.Append(context.Background(), models.Trade{})
	if st != StatusRejected || err == nil {
		t.Fatalf("invalid append: %v %v", st, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected SQL: %v", err)
	}
}

func TestPgLocalStore_Scan_SQLMock(t *testing.T) {
	store, mock, done := newMockLocal(t)
	defer done()

	from := time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)
	to := from.Add(time.Hour)

	rows := sqlmock.NewRows([]string{"symbol", "exchange_time", "price", "volume", "trade_id", "side"}).
		AddRow("BTC/USD", from.Add(time.Second), int64(4_500_000_000_000), int64(12_500_000), int64(1), "buy").
		AddRow("BTC/USD", from.Add(2*time.Second), int64(4_500_100_000_000), int64(3_000_000), int64(2), "sell")

	mock.ExpectQuery(scanRegex.String()).
		WithArgs(1, 0, sqlmock.AnyArg(), from, to).
		WillReturnRows(rows)

	got, err := store.Scan(context.Background(), ScanQuery{
		Symbols: []string{"BTC/USD"},
		From:    from,
		To:      to,
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 2 || got[0].TradeID != 1 || got[1].Side != models.SideSell {
		t.Fatalf("scan result: %+v", got)
	}
	if got[0].Price != models.Price(4_500_000_000_000) {
		t.Fatalf("price: %v", got[0].Price)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPgLocalStore_AppendBatch_SQLMock(t *testing.T) {
	store, mock, done := newMockLocal(t)
	defer done()

	// pq.CopyIn cannot be intercepted precisely; validate the
	// BEGIN / PREPARE / EXEC / COMMIT shape like the rest of the suite.
	mock.ExpectBegin()
	prep := mock.ExpectPrepare(".*")
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	trades := []models.Trade{memTrade("BTC/USD", time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC), 1)}
	if err := store.AppendBatch(trades); err != nil {
		t.Fatalf("append batch: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPgLocalStore_AppendBatch_ErrorOnRowExec(t *testing.T) {
	store, mock, done := newMockLocal(t)
	defer done()

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(".*")
	prep.ExpectExec().WillReturnError(dummyErr{})
	mock.ExpectRollback()

	trades := []models.Trade{memTrade("BTC/USD", time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC), 1)}
	if err := store.AppendBatch(trades); err == nil {
		t.Fatalf("expected error on row exec")
	}
}

func TestPgLocalStore_PruneBefore_SQLMock(t *testing.T) {
	store, mock, done := newMockLocal(t)
	defer done()

	cutoff := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM trades")).
		WithArgs(1, 0, models.MonthKey(cutoff)).
		WillReturnResult(sqlmock.NewResult(0, 120))

	if n := store.PruneBefore(cutoff); n != 120 {
		t.Fatalf("pruned %d rows, want 120", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
