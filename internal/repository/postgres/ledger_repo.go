package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/and161185/piggybank/internal/errs"
	"github.com/and161185/piggybank/internal/model"
	"github.com/and161185/piggybank/internal/repository"
)

// LedgerRepo implements LedgerRepository using PostgreSQL.
type LedgerRepo struct{ db *DB }

// NewLedgerRepo constructs a ledger repository.
func NewLedgerRepo(db *DB) *LedgerRepo { return &LedgerRepo{db: db} }

var _ repository.LedgerRepository = (*LedgerRepo)(nil)

const (
	selLedger = `
SELECT available::text, locked::text, total::text, rewards_earned::text, next_seq, created_at, updated_at
FROM ledgers WHERE user_id=$1`

	selOpenDeposits = `
SELECT id, seq, amount::text, lock_period, opened_at, interest_rate::text, penalty_rate::text, last_accrual_at, accrued::text,
       lock_duration_ns
FROM deposits
WHERE user_id=$1 AND closed=false
ORDER BY seq ASC`

	insLedger = `INSERT INTO ledgers (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`

	updLedger = `
UPDATE ledgers
SET available=$2::numeric, locked=$3::numeric, total=$4::numeric, rewards_earned=$5::numeric, next_seq=$6, updated_at=$7
WHERE user_id=$1`

	upsertDeposit = `
INSERT INTO deposits (id, user_id, seq, amount, lock_period, opened_at, interest_rate, penalty_rate,
                      last_accrual_at, accrued, closed, closed_at, split_from, lock_duration_ns)
VALUES ($1,$2,$3,$4::numeric,$5,$6,$7::numeric,$8::numeric,$9,$10::numeric,$11,$12,$13,$14)
ON CONFLICT (id) DO UPDATE
SET amount=EXCLUDED.amount, last_accrual_at=EXCLUDED.last_accrual_at, accrued=EXCLUDED.accrued,
    closed=EXCLUDED.closed, closed_at=EXCLUDED.closed_at`
)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Get loads a ledger and its open deposits.
func (r *LedgerRepo) Get(ctx context.Context, userID uuid.UUID) (*model.UserLedger, error) {
	return load(ctx, r.db.Pool, userID, selLedger)
}

// Update locks the ledger row for the duration of fn and persists the result.
func (r *LedgerRepo) Update(
	ctx context.Context, userID uuid.UUID, create bool, fn func(*model.UserLedger) error,
) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	if create {
		if _, err = tx.Exec(ctx, insLedger, userID); err != nil {
			return err
		}
	}
	l, err := load(ctx, tx, userID, selLedger+` FOR UPDATE`)
	if err != nil {
		return err
	}
	before := append([]model.Deposit(nil), l.Deposits...)

	if err = fn(l); err != nil {
		return err
	}

	if _, err = tx.Exec(ctx, updLedger, userID,
		numText(l.Available), numText(l.Locked), numText(l.Total), numText(l.RewardsEarned),
		l.NextSeq, l.UpdatedAt,
	); err != nil {
		return err
	}
	for _, d := range repository.DirtyDeposits(before, l.Deposits) {
		if _, err = tx.Exec(ctx, upsertDeposit, depositArgs(userID, d)...); err != nil {
			return fmt.Errorf("deposit %s: %w", d.ID, err)
		}
	}
	return nil
}

// ListUserIDs returns all ledger owners.
func (r *LedgerRepo) ListUserIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT user_id FROM ledgers ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err = rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func load(ctx context.Context, q querier, userID uuid.UUID, sel string) (*model.UserLedger, error) {
	var (
		avail, locked, total, rewards string
		l                             = model.UserLedger{UserID: userID}
	)
	err := q.QueryRow(ctx, sel, userID).Scan(&avail, &locked, &total, &rewards, &l.NextSeq, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrUserNotFound
		}
		return nil, err
	}
	for _, f := range []struct {
		col string
		src string
		dst *uint64
	}{
		{"available", avail, &l.Available},
		{"locked", locked, &l.Locked},
		{"total", total, &l.Total},
		{"rewards_earned", rewards, &l.RewardsEarned},
	} {
		if *f.dst, err = parseNum(f.col, f.src); err != nil {
			return nil, err
		}
	}

	rows, err := q.Query(ctx, selOpenDeposits, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		l.Deposits = append(l.Deposits, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &l, nil
}

func scanDeposit(rows pgx.Rows) (model.Deposit, error) {
	var (
		d                             model.Deposit
		period                        string
		amount, irate, prate, accrued string
		lockNanos                     int64
	)
	if err := rows.Scan(&d.ID, &d.Seq, &amount, &period, &d.OpenedAt, &irate, &prate, &d.LastAccrualAt, &accrued, &lockNanos); err != nil {
		return d, err
	}
	d.LockPeriod = model.LockPeriod(period)
	d.LockDuration = time.Duration(lockNanos)
	var err error
	if d.Amount, err = parseNum("amount", amount); err != nil {
		return d, err
	}
	if d.Accrued, err = parseNum("accrued", accrued); err != nil {
		return d, err
	}
	if d.InterestRate, err = decimal.NewFromString(irate); err != nil {
		return d, fmt.Errorf("column interest_rate: %w", err)
	}
	if d.PenaltyRate, err = decimal.NewFromString(prate); err != nil {
		return d, fmt.Errorf("column penalty_rate: %w", err)
	}
	return d, nil
}

func depositArgs(userID uuid.UUID, d model.Deposit) []any {
	var closedAt *time.Time
	if d.Closed {
		t := d.ClosedAt
		closedAt = &t
	}
	split := uuid.NullUUID{UUID: d.SplitFrom, Valid: d.SplitFrom != uuid.Nil}
	return []any{
		d.ID, userID, d.Seq, numText(d.Amount), string(d.LockPeriod), d.OpenedAt,
		d.InterestRate.String(), d.PenaltyRate.String(), d.LastAccrualAt, numText(d.Accrued),
		d.Closed, closedAt, split, int64(d.LockDuration),
	}
}
