package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/and161185/piggybank/internal/errs"
	"github.com/and161185/piggybank/internal/ledger"
	"github.com/and161185/piggybank/internal/model"
)

const day = 24 * time.Hour

var (
	ledgerCols  = []string{"available", "locked", "total", "rewards_earned", "next_seq", "created_at", "updated_at"}
	depositCols = []string{"id", "seq", "amount", "lock_period", "opened_at", "interest_rate", "penalty_rate", "last_accrual_at", "accrued", "lock_duration_ns"}
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

func fixedID(id uuid.UUID) ledger.IDSource {
	return func() (uuid.UUID, error) { return id, nil }
}

func TestLedgerRepo_Update_CreateAndOpen(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewLedgerRepo(db)

	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())
	depID := uuid.Must(uuid.NewV4())
	ts := time.Now().UTC()
	eng := ledger.NewEngine(ledger.DefaultRates(), fixedID(depID))

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO ledgers \(user_id\) VALUES \(\$1\) ON CONFLICT \(user_id\) DO NOTHING`).
		WithArgs(userID).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT available::text, .* FROM ledgers WHERE user_id=\$1 FOR UPDATE`).
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows(ledgerCols).AddRow("0", "0", "0", "0", int64(0), ts, ts))
	mock.ExpectQuery(`SELECT id, seq, .* FROM deposits WHERE user_id=\$1 AND closed=false ORDER BY seq ASC`).
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows(depositCols))
	mock.ExpectExec(`UPDATE ledgers SET available=\$2::numeric`).
		WithArgs(userID, "0", "1000", "1000", "0", int64(1), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO deposits`).
		WithArgs(depID, userID, int64(0), "1000", "ThreeMonths", pgxmock.AnyArg(),
			"0.05", "0.1", pgxmock.AnyArg(), "0", false, pgxmock.AnyArg(), pgxmock.AnyArg(), int64(90*day)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := r.Update(ctx, userID, true, func(l *model.UserLedger) error {
		_, err := eng.Open(l, 1000, model.ThreeMonths, ts)
		return err
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_Update_OnlyDirtyDepositsWritten(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewLedgerRepo(db)

	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())
	a, b := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())
	opened := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	eng := ledger.NewEngine(ledger.DefaultRates(), nil)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM ledgers WHERE user_id=\$1 FOR UPDATE`).
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows(ledgerCols).AddRow("0", "1500", "1500", "0", int64(2), opened, opened))
	mock.ExpectQuery(`FROM deposits WHERE user_id=\$1 AND closed=false`).
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows(depositCols).
			AddRow(a, int64(0), "1000", "ThreeMonths", opened, "0.050000", "0.100000", opened, "0", int64(90*day)).
			AddRow(b, int64(1), "500", "TwelveMonths", opened, "0.100000", "0.100000", opened, "0", int64(365*day)))
	mock.ExpectExec(`UPDATE ledgers`).
		WithArgs(userID, "0", "500", "500", "0", int64(2), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO deposits`).
		WithArgs(a, userID, int64(0), "1000", "ThreeMonths", opened,
			"0.05", "0.1", opened, "0", true, pgxmock.AnyArg(), pgxmock.AnyArg(), int64(90*day)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := r.Update(ctx, userID, false, func(l *model.UserLedger) error {
		_, err := eng.WithdrawFrom(l, a, 1000, opened.Add(100*24*time.Hour))
		return err
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_Update_NotFound(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewLedgerRepo(db)
	userID := uuid.Must(uuid.NewV4())

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM ledgers WHERE user_id=\$1 FOR UPDATE`).
		WithArgs(userID).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	err := r.Update(context.Background(), userID, false, func(*model.UserLedger) error {
		t.Fatal("fn must not run")
		return nil
	})
	require.ErrorIs(t, err, errs.ErrUserNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_Update_FnErrorRollsBack(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewLedgerRepo(db)
	userID := uuid.Must(uuid.NewV4())
	ts := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM ledgers WHERE user_id=\$1 FOR UPDATE`).
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows(ledgerCols).AddRow("0", "0", "0", "0", int64(0), ts, ts))
	mock.ExpectQuery(`FROM deposits`).
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows(depositCols))
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := r.Update(context.Background(), userID, false, func(*model.UserLedger) error { return boom })
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_Get(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewLedgerRepo(db)
	userID := uuid.Must(uuid.NewV4())
	dep := uuid.Must(uuid.NewV4())
	ts := time.Now().UTC()

	mock.ExpectQuery(`SELECT available::text, locked::text, total::text, rewards_earned::text, next_seq, created_at, updated_at FROM ledgers WHERE user_id=\$1`).
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows(ledgerCols).AddRow("25", "18446744073709551000", "18446744073709551025", "25", int64(1), ts, ts))
	mock.ExpectQuery(`FROM deposits`).
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows(depositCols).
			AddRow(dep, int64(0), "18446744073709551000", "SixMonths", ts, "0.070000", "0.100000", ts, "25", int64(180*day)))

	l, err := r.Get(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, uint64(25), l.Available)
	require.Equal(t, uint64(18446744073709551025), l.Total)
	require.Len(t, l.Deposits, 1)
	require.Equal(t, model.SixMonths, l.Deposits[0].LockPeriod)
	require.True(t, l.Deposits[0].InterestRate.Equal(decimal.RequireFromString("0.07")))
	require.Equal(t, uint64(25), l.Deposits[0].Accrued)
	require.Equal(t, 180*day, l.Deposits[0].LockDuration)
}

// A deposit keeps the lock window it was opened with even when the engine
// now runs a shorter table.
func TestLedgerRepo_Update_StoredLockDurationWins(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewLedgerRepo(db)

	userID := uuid.Must(uuid.NewV4())
	a := uuid.Must(uuid.NewV4())
	opened := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	short := ledger.DefaultRates()
	terms := short[model.ThreeMonths]
	terms.Duration = 30 * day
	short[model.ThreeMonths] = terms
	eng := ledger.NewEngine(short, nil)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM ledgers WHERE user_id=\$1 FOR UPDATE`).
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows(ledgerCols).AddRow("0", "1000", "1000", "0", int64(1), opened, opened))
	mock.ExpectQuery(`FROM deposits WHERE user_id=\$1 AND closed=false`).
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows(depositCols).
			AddRow(a, int64(0), "1000", "ThreeMonths", opened, "0.050000", "0.100000", opened, "0", int64(90*day)))
	mock.ExpectRollback()

	err := r.Update(context.Background(), userID, false, func(l *model.UserLedger) error {
		_, err := eng.Withdraw(l, 1000, opened.Add(40*day))
		return err
	})
	// 1000 plus a 100 penalty exceeds the balance because day 40 is still early
	require.ErrorIs(t, err, errs.ErrInsufficientBalance)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepo_Get_NotFoundAndBadNumber(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewLedgerRepo(db)
	userID := uuid.Must(uuid.NewV4())
	ts := time.Now().UTC()

	mock.ExpectQuery(`FROM ledgers WHERE user_id=\$1`).
		WithArgs(userID).
		WillReturnError(pgx.ErrNoRows)
	_, err := r.Get(context.Background(), userID)
	require.ErrorIs(t, err, errs.ErrUserNotFound)

	mock.ExpectQuery(`FROM ledgers WHERE user_id=\$1`).
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows(ledgerCols).AddRow("-1", "0", "0", "0", int64(0), ts, ts))
	_, err = r.Get(context.Background(), userID)
	require.ErrorContains(t, err, "column available")
}

func TestLedgerRepo_ListUserIDs(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewLedgerRepo(db)
	a, b := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`SELECT user_id FROM ledgers ORDER BY user_id`).
		WillReturnRows(pgxmock.NewRows([]string{"user_id"}).AddRow(a).AddRow(b))

	ids, err := r.ListUserIDs(context.Background())
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{a, b}, ids)
}
