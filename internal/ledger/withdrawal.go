package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/and161185/piggybank/internal/model"
)

// Evaluation is the outcome of the withdrawal policy for one deposit portion.
type Evaluation struct {
	Early     bool
	Penalty   uint64
	MaturesAt time.Time
}

// EvaluateWithdrawal decides whether taking portion from d at now is on-time
// or early against the lock window d was opened with. Early withdrawals are
// charged floor(portion * d.PenaltyRate).
func EvaluateWithdrawal(d model.Deposit, portion uint64, now time.Time) Evaluation {
	ev := Evaluation{MaturesAt: d.MaturesAt()}
	if !now.Before(ev.MaturesAt) {
		return ev
	}
	ev.Early = true
	ev.Penalty = floorUint64(decimal.NewFromUint64(portion).Mul(d.PenaltyRate))
	return ev
}
