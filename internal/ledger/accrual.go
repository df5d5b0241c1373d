package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/and161185/piggybank/internal/model"
)

// accrualTarget is the cumulative simple interest earned by amount after
// elapsed time inside a lock window: floor(amount * rate * elapsed / lock).
// Elapsed is clipped to [0, lock], so the result never exceeds floor(amount * rate).
func accrualTarget(amount uint64, rate decimal.Decimal, elapsed, lock time.Duration) uint64 {
	if amount == 0 || lock <= 0 || elapsed <= 0 {
		return 0
	}
	if elapsed > lock {
		elapsed = lock
	}
	num := decimal.NewFromUint64(amount).
		Mul(rate).
		Mul(decimal.NewFromInt(int64(elapsed)))
	q, _ := num.QuoRem(decimal.NewFromInt(int64(lock)), 0)
	return floorUint64(q)
}

// InterestOwed returns interest not yet credited on d as of now, prorated over
// the lock window d was opened with.
func InterestOwed(d model.Deposit, now time.Time) uint64 {
	if d.Closed || !now.After(d.LastAccrualAt) {
		return 0
	}
	target := accrualTarget(d.Amount, d.InterestRate, now.Sub(d.OpenedAt), d.LockDuration)
	if target <= d.Accrued {
		return 0
	}
	return target - d.Accrued
}

// accrue credits owed interest to d's bookkeeping and moves its accrual point to now.
func accrue(d *model.Deposit, now time.Time) uint64 {
	owed := InterestOwed(*d, now)
	d.Accrued += owed
	if now.After(d.LastAccrualAt) {
		d.LastAccrualAt = now
	}
	return owed
}

// MaxInterest is the most interest d can ever earn at its current amount.
func MaxInterest(d model.Deposit) uint64 {
	return floorUint64(decimal.NewFromUint64(d.Amount).Mul(d.InterestRate))
}

func floorUint64(d decimal.Decimal) uint64 {
	if d.Sign() <= 0 {
		return 0
	}
	return d.Floor().BigInt().Uint64()
}
