package ledger

import (
	"fmt"
	"math/bits"
	"sort"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/piggybank/internal/errs"
	"github.com/and161185/piggybank/internal/model"
)

// IDSource generates deposit identifiers.
type IDSource func() (uuid.UUID, error)

// Engine applies ledger operations using a single rate table.
type Engine struct {
	rates RateTable
	newID IDSource
}

// NewEngine constructs an Engine. A nil ids falls back to random V4 UUIDs.
func NewEngine(rates RateTable, ids IDSource) *Engine {
	if ids == nil {
		ids = uuid.NewV4
	}
	return &Engine{rates: rates, newID: ids}
}

// Rates returns the engine's rate table.
func (e *Engine) Rates() RateTable { return e.rates }

// Open appends a new deposit to l and credits its amount as locked.
func (e *Engine) Open(l *model.UserLedger, amount uint64, p model.LockPeriod, now time.Time) (model.Deposit, error) {
	if amount == 0 {
		return model.Deposit{}, errs.ErrInvalidAmount
	}
	terms, err := e.rates.Terms(p)
	if err != nil {
		return model.Deposit{}, err
	}
	total, ok := add(l.Total, amount)
	if !ok {
		return model.Deposit{}, fmt.Errorf("%w: balance would overflow", errs.ErrInvalidAmount)
	}
	id, err := e.newID()
	if err != nil {
		return model.Deposit{}, fmt.Errorf("deposit id: %w", err)
	}
	d := model.Deposit{
		ID:            id,
		Seq:           l.NextSeq,
		Amount:        amount,
		LockPeriod:    p,
		OpenedAt:      now,
		LockDuration:  terms.Duration,
		InterestRate:  terms.InterestRate,
		PenaltyRate:   terms.PenaltyRate,
		LastAccrualAt: now,
	}
	l.NextSeq++
	l.Deposits = append(l.Deposits, d)
	l.Locked += amount
	l.Total = total
	l.UpdatedAt = now
	return d, nil
}

// Withdraw pays out amount from l. Open deposits are consumed oldest-first
// and the last one is split when only part of it is needed; anything beyond
// the locked principal comes from the available balance. Early portions are
// charged a penalty that is burned on top of the payout. l is left untouched
// on error.
func (e *Engine) Withdraw(l *model.UserLedger, amount uint64, now time.Time) (model.BurnResult, error) {
	if amount == 0 {
		return model.BurnResult{}, errs.ErrInvalidAmount
	}
	if amount > l.Total {
		return model.BurnResult{}, fmt.Errorf("%w: requested %d, total %d", errs.ErrInsufficientBalance, amount, l.Total)
	}

	w := l.Clone()
	res := model.BurnResult{Withdrawn: amount}
	remaining := amount
	for _, i := range e.openOrder(w) {
		if remaining == 0 {
			break
		}
		d := w.Deposits[i]
		portion := min(remaining, d.Amount)
		ev := EvaluateWithdrawal(d, portion, now)
		var ok bool
		if res.Penalty, ok = add(res.Penalty, ev.Penalty); !ok {
			return model.BurnResult{}, fmt.Errorf("%w: penalty overflow", errs.ErrInsufficientBalance)
		}
		if err := e.take(w, i, portion, now, &res); err != nil {
			return model.BurnResult{}, err
		}
		remaining -= portion
	}
	if remaining > 0 {
		if remaining > w.Available {
			return model.BurnResult{}, fmt.Errorf("%w: available %d short of %d", errs.ErrInvariant, w.Available, remaining)
		}
		w.Available -= remaining
		w.Total -= remaining
	}

	if err := e.burnPenalty(w, res.Penalty, now, &res); err != nil {
		return model.BurnResult{}, err
	}
	if err := Check(w); err != nil {
		return model.BurnResult{}, err
	}
	w.UpdatedAt = now
	*l = *w
	return res, nil
}

// WithdrawFrom pays out amount from one specific open deposit.
func (e *Engine) WithdrawFrom(l *model.UserLedger, depositID uuid.UUID, amount uint64, now time.Time) (model.BurnResult, error) {
	if amount == 0 {
		return model.BurnResult{}, errs.ErrInvalidAmount
	}
	idx := -1
	for i, d := range l.Deposits {
		if d.ID == depositID && !d.Closed {
			idx = i
			break
		}
	}
	if idx < 0 {
		return model.BurnResult{}, fmt.Errorf("%w: %s", errs.ErrDepositNotFound, depositID)
	}
	d := l.Deposits[idx]
	if amount > d.Amount {
		return model.BurnResult{}, fmt.Errorf("%w: requested %d, deposit holds %d", errs.ErrInsufficientBalance, amount, d.Amount)
	}

	w := l.Clone()
	res := model.BurnResult{Withdrawn: amount}
	ev := EvaluateWithdrawal(d, amount, now)
	res.Penalty = ev.Penalty
	if err := e.take(w, idx, amount, now, &res); err != nil {
		return model.BurnResult{}, err
	}
	if err := e.burnPenalty(w, res.Penalty, now, &res); err != nil {
		return model.BurnResult{}, err
	}
	if err := Check(w); err != nil {
		return model.BurnResult{}, err
	}
	w.UpdatedAt = now
	*l = *w
	return res, nil
}

// Accrue credits interest owed on every open deposit of l as of now.
// Interest is not locked: it lands in the available balance.
func (e *Engine) Accrue(l *model.UserLedger, now time.Time) (uint64, error) {
	w := l.Clone()
	var credited uint64
	for i := range w.Deposits {
		d := &w.Deposits[i]
		if d.Closed {
			continue
		}
		owed := accrue(d, now)
		var ok bool
		if credited, ok = add(credited, owed); !ok {
			return 0, fmt.Errorf("%w: rewards overflow", errs.ErrInvariant)
		}
	}
	if credited == 0 {
		*l = *w
		return 0, nil
	}
	total, ok1 := add(w.Total, credited)
	rewards, ok2 := add(w.RewardsEarned, credited)
	if !ok1 || !ok2 {
		return 0, fmt.Errorf("%w: rewards overflow", errs.ErrInvariant)
	}
	w.Available += credited
	w.Total = total
	w.RewardsEarned = rewards
	w.UpdatedAt = now
	*l = *w
	return credited, nil
}

// Snapshot builds the externally visible balance view of l.
func (e *Engine) Snapshot(l *model.UserLedger) model.BalanceSnapshot {
	s := model.BalanceSnapshot{
		Available:     l.Available,
		Locked:        l.Locked,
		Total:         l.Total,
		RewardsEarned: l.RewardsEarned,
		Deposits:      []model.DepositView{},
	}
	for _, d := range l.Deposits {
		if d.Closed {
			continue
		}
		s.Deposits = append(s.Deposits, model.DepositView{
			ID:                     d.ID,
			Amount:                 d.Amount,
			LockPeriod:             d.LockPeriod,
			DepositTime:            d.OpenedAt,
			MaturesAt:              d.MaturesAt(),
			InterestRate:           d.InterestRate.InexactFloat64(),
			EarlyWithdrawalPenalty: d.PenaltyRate.InexactFloat64(),
		})
	}
	return s
}

// Check verifies the aggregate invariants of l.
func Check(l *model.UserLedger) error {
	sum, ok := add(l.Available, l.Locked)
	if !ok || sum != l.Total {
		return fmt.Errorf("%w: total %d != available %d + locked %d", errs.ErrInvariant, l.Total, l.Available, l.Locked)
	}
	var open uint64
	for _, d := range l.Deposits {
		if d.Closed {
			continue
		}
		if d.Amount == 0 {
			return fmt.Errorf("%w: open deposit %s is empty", errs.ErrInvariant, d.ID)
		}
		if d.LastAccrualAt.Before(d.OpenedAt) {
			return fmt.Errorf("%w: deposit %s accrued before it opened", errs.ErrInvariant, d.ID)
		}
		if open, ok = add(open, d.Amount); !ok {
			return fmt.Errorf("%w: locked overflow", errs.ErrInvariant)
		}
	}
	if open != l.Locked {
		return fmt.Errorf("%w: locked %d != open deposits %d", errs.ErrInvariant, l.Locked, open)
	}
	return nil
}

// burnPenalty removes penalty from w: available first, then open deposits
// oldest-first. Drawing a penalty from a deposit is not itself penalized.
func (e *Engine) burnPenalty(w *model.UserLedger, penalty uint64, now time.Time, res *model.BurnResult) error {
	if penalty == 0 {
		return nil
	}
	if penalty > w.Total {
		return fmt.Errorf("%w: withdrawal of %d needs %d more for penalties, total %d",
			errs.ErrInsufficientBalance, res.Withdrawn, penalty, w.Total)
	}
	draw := min(penalty, w.Available)
	w.Available -= draw
	w.Total -= draw
	left := penalty - draw
	for _, i := range e.openOrder(w) {
		if left == 0 {
			break
		}
		portion := min(left, w.Deposits[i].Amount)
		if err := e.take(w, i, portion, now, res); err != nil {
			return err
		}
		left -= portion
	}
	if left > 0 {
		return fmt.Errorf("%w: penalty %d left unpaid", errs.ErrInvariant, left)
	}
	return nil
}

// take removes portion from the open deposit at index i, closing it when
// emptied or splitting off a closed record otherwise, and debits locked/total.
func (e *Engine) take(w *model.UserLedger, i int, portion uint64, now time.Time, res *model.BurnResult) error {
	d := w.Deposits[i]
	if d.Closed || portion == 0 || portion > d.Amount {
		return fmt.Errorf("%w: cannot take %d from deposit %s", errs.ErrDepositNotFound, portion, d.ID)
	}
	w.Locked -= portion
	w.Total -= portion

	if portion == d.Amount {
		w.Deposits[i].Closed = true
		w.Deposits[i].ClosedAt = now
		res.Closed = append(res.Closed, d.ID)
		return nil
	}

	id, err := e.newID()
	if err != nil {
		return fmt.Errorf("deposit id: %w", err)
	}
	rest := d.Amount - portion
	restAccrued := min(d.Accrued, accrualTarget(rest, d.InterestRate, d.LastAccrualAt.Sub(d.OpenedAt), d.LockDuration))

	part := d
	part.ID = id
	part.Seq = w.NextSeq
	part.Amount = portion
	part.Accrued = d.Accrued - restAccrued
	part.Closed = true
	part.ClosedAt = now
	part.SplitFrom = d.ID

	w.Deposits[i].Amount = rest
	w.Deposits[i].Accrued = restAccrued
	w.NextSeq++
	w.Deposits = append(w.Deposits, part)
	return nil
}

// openOrder returns indexes of open deposits, oldest first.
func (e *Engine) openOrder(l *model.UserLedger) []int {
	idx := make([]int, 0, len(l.Deposits))
	for i, d := range l.Deposits {
		if !d.Closed {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		da, db := l.Deposits[idx[a]], l.Deposits[idx[b]]
		if !da.OpenedAt.Equal(db.OpenedAt) {
			return da.OpenedAt.Before(db.OpenedAt)
		}
		return da.Seq < db.Seq
	})
	return idx
}

func add(a, b uint64) (uint64, bool) {
	sum, carry := bits.Add64(a, b, 0)
	return sum, carry == 0
}
