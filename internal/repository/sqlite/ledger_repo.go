// Package sqlite contains a single-node SQLite implementation of the ledger repository.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/and161185/piggybank/internal/errs"
	"github.com/and161185/piggybank/internal/migrate"
	"github.com/and161185/piggybank/internal/model"
	"github.com/and161185/piggybank/internal/repository"
)

// LedgerRepo implements LedgerRepository on SQLite.
type LedgerRepo struct{ db *sqlx.DB }

var _ repository.LedgerRepository = (*LedgerRepo)(nil)

// Open opens the database at dsn, applies migrations and returns a repository.
// SQLite allows a single writer, so the pool is limited to one connection.
func Open(ctx context.Context, dsn string) (*LedgerRepo, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrate.UpDB(ctx, db.DB, "sqlite3"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrations: %w", err)
	}
	return &LedgerRepo{db: db}, nil
}

// NewLedgerRepo wraps an already migrated handle.
func NewLedgerRepo(db *sqlx.DB) *LedgerRepo { return &LedgerRepo{db: db} }

// Close closes the database.
func (r *LedgerRepo) Close() error { return r.db.Close() }

// Ping checks the database handle.
func (r *LedgerRepo) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

type ledgerRow struct {
	Available     string `db:"available"`
	Locked        string `db:"locked"`
	Total         string `db:"total"`
	RewardsEarned string `db:"rewards_earned"`
	NextSeq       int64  `db:"next_seq"`
	CreatedAt     int64  `db:"created_at"`
	UpdatedAt     int64  `db:"updated_at"`
}

type depositRow struct {
	ID            uuid.UUID     `db:"id"`
	UserID        uuid.UUID     `db:"user_id"`
	Seq           int64         `db:"seq"`
	Amount        string        `db:"amount"`
	LockPeriod    string        `db:"lock_period"`
	OpenedAt      int64         `db:"opened_at"`
	InterestRate  string        `db:"interest_rate"`
	PenaltyRate   string        `db:"penalty_rate"`
	LastAccrualAt int64         `db:"last_accrual_at"`
	Accrued       string        `db:"accrued"`
	Closed        bool          `db:"closed"`
	ClosedAt      sql.NullInt64 `db:"closed_at"`
	SplitFrom     uuid.NullUUID `db:"split_from"`
	LockNanos     int64         `db:"lock_duration_ns"`
}

const (
	selLedger = `SELECT available, locked, total, rewards_earned, next_seq, created_at, updated_at
FROM ledgers WHERE user_id = ?`

	selOpenDeposits = `SELECT id, user_id, seq, amount, lock_period, opened_at, interest_rate, penalty_rate,
       last_accrual_at, accrued, closed, closed_at, split_from, lock_duration_ns
FROM deposits WHERE user_id = ? AND closed = 0 ORDER BY seq`

	insLedger = `INSERT INTO ledgers (user_id, created_at, updated_at) VALUES (?, ?, ?)
ON CONFLICT (user_id) DO NOTHING`

	updLedger = `UPDATE ledgers
SET available = ?, locked = ?, total = ?, rewards_earned = ?, next_seq = ?, updated_at = ?
WHERE user_id = ?`

	upsertDeposit = `INSERT INTO deposits (id, user_id, seq, amount, lock_period, opened_at, interest_rate,
       penalty_rate, last_accrual_at, accrued, closed, closed_at, split_from, lock_duration_ns)
VALUES (:id, :user_id, :seq, :amount, :lock_period, :opened_at, :interest_rate,
        :penalty_rate, :last_accrual_at, :accrued, :closed, :closed_at, :split_from, :lock_duration_ns)
ON CONFLICT (id) DO UPDATE
SET amount = excluded.amount, last_accrual_at = excluded.last_accrual_at, accrued = excluded.accrued,
    closed = excluded.closed, closed_at = excluded.closed_at`
)

// Get loads a ledger with its open deposits.
func (r *LedgerRepo) Get(ctx context.Context, userID uuid.UUID) (*model.UserLedger, error) {
	return load(ctx, r.db, userID)
}

// Update applies fn inside one transaction and persists the result.
func (r *LedgerRepo) Update(
	ctx context.Context, userID uuid.UUID, create bool, fn func(*model.UserLedger) error,
) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if e := tx.Commit(); e != nil {
			err = e
		}
	}()

	if create {
		now := time.Now().UnixNano()
		if _, err = tx.ExecContext(ctx, insLedger, userID, now, now); err != nil {
			return err
		}
	}
	l, err := load(ctx, tx, userID)
	if err != nil {
		return err
	}
	before := append([]model.Deposit(nil), l.Deposits...)

	if err = fn(l); err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx, updLedger,
		numText(l.Available), numText(l.Locked), numText(l.Total), numText(l.RewardsEarned),
		l.NextSeq, l.UpdatedAt.UnixNano(), userID,
	); err != nil {
		return err
	}
	for _, d := range repository.DirtyDeposits(before, l.Deposits) {
		if _, err = tx.NamedExecContext(ctx, upsertDeposit, toRow(userID, d)); err != nil {
			return fmt.Errorf("deposit %s: %w", d.ID, err)
		}
	}
	return nil
}

// ListUserIDs returns all ledger owners.
func (r *LedgerRepo) ListUserIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.db.SelectContext(ctx, &ids, `SELECT user_id FROM ledgers ORDER BY user_id`); err != nil {
		return nil, err
	}
	return ids, nil
}

func load(ctx context.Context, q sqlx.QueryerContext, userID uuid.UUID) (*model.UserLedger, error) {
	var lr ledgerRow
	if err := sqlx.GetContext(ctx, q, &lr, selLedger, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrUserNotFound
		}
		return nil, err
	}
	l := &model.UserLedger{
		UserID:    userID,
		NextSeq:   lr.NextSeq,
		CreatedAt: fromNanos(lr.CreatedAt),
		UpdatedAt: fromNanos(lr.UpdatedAt),
	}
	var err error
	for _, f := range []struct {
		col string
		src string
		dst *uint64
	}{
		{"available", lr.Available, &l.Available},
		{"locked", lr.Locked, &l.Locked},
		{"total", lr.Total, &l.Total},
		{"rewards_earned", lr.RewardsEarned, &l.RewardsEarned},
	} {
		if *f.dst, err = parseNum(f.col, f.src); err != nil {
			return nil, err
		}
	}

	var rows []depositRow
	if err := sqlx.SelectContext(ctx, q, &rows, selOpenDeposits, userID); err != nil {
		return nil, err
	}
	for _, row := range rows {
		d, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		l.Deposits = append(l.Deposits, d)
	}
	return l, nil
}

func toRow(userID uuid.UUID, d model.Deposit) depositRow {
	row := depositRow{
		ID:            d.ID,
		UserID:        userID,
		Seq:           d.Seq,
		Amount:        numText(d.Amount),
		LockPeriod:    string(d.LockPeriod),
		OpenedAt:      d.OpenedAt.UnixNano(),
		InterestRate:  d.InterestRate.String(),
		PenaltyRate:   d.PenaltyRate.String(),
		LastAccrualAt: d.LastAccrualAt.UnixNano(),
		Accrued:       numText(d.Accrued),
		Closed:        d.Closed,
		SplitFrom:     uuid.NullUUID{UUID: d.SplitFrom, Valid: d.SplitFrom != uuid.Nil},
		LockNanos:     int64(d.LockDuration),
	}
	if d.Closed {
		row.ClosedAt = sql.NullInt64{Int64: d.ClosedAt.UnixNano(), Valid: true}
	}
	return row
}

func fromRow(row depositRow) (model.Deposit, error) {
	d := model.Deposit{
		ID:            row.ID,
		Seq:           row.Seq,
		LockPeriod:    model.LockPeriod(row.LockPeriod),
		OpenedAt:      fromNanos(row.OpenedAt),
		LockDuration:  time.Duration(row.LockNanos),
		LastAccrualAt: fromNanos(row.LastAccrualAt),
		Closed:        row.Closed,
		SplitFrom:     row.SplitFrom.UUID,
	}
	if row.ClosedAt.Valid {
		d.ClosedAt = fromNanos(row.ClosedAt.Int64)
	}
	var err error
	if d.Amount, err = parseNum("amount", row.Amount); err != nil {
		return d, err
	}
	if d.Accrued, err = parseNum("accrued", row.Accrued); err != nil {
		return d, err
	}
	if d.InterestRate, err = decimal.NewFromString(row.InterestRate); err != nil {
		return d, fmt.Errorf("column interest_rate: %w", err)
	}
	if d.PenaltyRate, err = decimal.NewFromString(row.PenaltyRate); err != nil {
		return d, fmt.Errorf("column penalty_rate: %w", err)
	}
	return d, nil
}

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func numText(v uint64) string { return strconv.FormatUint(v, 10) }

func parseNum(col, s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("column %s: %w", col, err)
	}
	return v, nil
}
