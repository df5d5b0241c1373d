// Package ledger implements the deposit ledger rules: rate lookup, interest
// accrual, early-withdrawal policy and the balance-preserving operations on a
// user's ledger. Everything here is a pure function of the ledger and a clock
// reading; persistence and locking live elsewhere.
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/and161185/piggybank/internal/errs"
	"github.com/and161185/piggybank/internal/model"
)

const day = 24 * time.Hour

// Terms are the fixed parameters of one lock period.
type Terms struct {
	Duration     time.Duration
	InterestRate decimal.Decimal // nominal rate earned over a full lock window
	PenaltyRate  decimal.Decimal // charged on the withdrawn portion before maturity
}

// RateTable maps every lock period to its terms.
type RateTable map[model.LockPeriod]Terms

// DefaultRates returns the canonical table used for both mint-time rate
// snapshots and penalty calculation.
func DefaultRates() RateTable {
	penalty := decimal.RequireFromString("0.10")
	return RateTable{
		model.ThreeMonths:  {Duration: 90 * day, InterestRate: decimal.RequireFromString("0.05"), PenaltyRate: penalty},
		model.SixMonths:    {Duration: 180 * day, InterestRate: decimal.RequireFromString("0.07"), PenaltyRate: penalty},
		model.TwelveMonths: {Duration: 365 * day, InterestRate: decimal.RequireFromString("0.10"), PenaltyRate: penalty},
	}
}

// Terms returns the terms for p.
func (t RateTable) Terms(p model.LockPeriod) (Terms, error) {
	terms, ok := t[p]
	if !ok || !p.Valid() {
		return Terms{}, fmt.Errorf("%w: %q", errs.ErrInvalidLockPeriod, string(p))
	}
	return terms, nil
}

// Validate checks that every lock period is present with sane values.
func (t RateTable) Validate() error {
	one := decimal.NewFromInt(1)
	for _, p := range model.LockPeriods {
		terms, ok := t[p]
		if !ok {
			return fmt.Errorf("rates: missing %s", p)
		}
		if terms.Duration <= 0 {
			return fmt.Errorf("rates: %s: non-positive duration", p)
		}
		if terms.InterestRate.IsNegative() || terms.PenaltyRate.IsNegative() {
			return fmt.Errorf("rates: %s: negative rate", p)
		}
		if terms.InterestRate.GreaterThan(one) || terms.PenaltyRate.GreaterThan(one) {
			return fmt.Errorf("rates: %s: rate above 100%%", p)
		}
	}
	if len(t) != len(model.LockPeriods) {
		return fmt.Errorf("rates: unexpected lock periods in table")
	}
	return nil
}
