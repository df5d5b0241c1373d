// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/piggybank/internal/model"
)

// LedgerRepository provides transactional access to per-user ledgers.
type LedgerRepository interface {
	// Get loads the ledger with its open deposits. Missing ledgers yield errs.ErrUserNotFound.
	Get(ctx context.Context, userID uuid.UUID) (*model.UserLedger, error)

	// Update runs fn on a private copy of the user's ledger and commits the copy
	// only if fn returns nil. With create set, a missing ledger starts out empty;
	// otherwise errs.ErrUserNotFound is returned. Updates to one user are serialized.
	Update(ctx context.Context, userID uuid.UUID, create bool, fn func(*model.UserLedger) error) error

	// ListUserIDs returns every user that has a ledger.
	ListUserIDs(ctx context.Context) ([]uuid.UUID, error)
}

// DirtyDeposits returns deposits in after that are new or differ from their
// counterpart in before.
func DirtyDeposits(before, after []model.Deposit) []model.Deposit {
	prev := make(map[uuid.UUID]model.Deposit, len(before))
	for _, d := range before {
		prev[d.ID] = d
	}
	var out []model.Deposit
	for _, d := range after {
		p, ok := prev[d.ID]
		if !ok || !sameDeposit(p, d) {
			out = append(out, d)
		}
	}
	return out
}

func sameDeposit(a, b model.Deposit) bool {
	return a.Amount == b.Amount &&
		a.Accrued == b.Accrued &&
		a.LastAccrualAt.Equal(b.LastAccrualAt) &&
		a.Closed == b.Closed &&
		a.ClosedAt.Equal(b.ClosedAt)
}
