// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"
)

// LockPeriod is the lock window a deposit was opened with.
type LockPeriod string

// Supported lock periods. The set is closed.
const (
	ThreeMonths  LockPeriod = "ThreeMonths"
	SixMonths    LockPeriod = "SixMonths"
	TwelveMonths LockPeriod = "TwelveMonths"
)

// LockPeriods lists every valid lock period, shortest first.
var LockPeriods = []LockPeriod{ThreeMonths, SixMonths, TwelveMonths}

// Valid reports whether p is one of the known lock periods.
func (p LockPeriod) Valid() bool {
	switch p {
	case ThreeMonths, SixMonths, TwelveMonths:
		return true
	}
	return false
}

func (p LockPeriod) String() string { return string(p) }

// Deposit is one locked stake. Only Amount, LastAccrualAt, Accrued and the
// closing fields change after it is opened.
type Deposit struct {
	ID            uuid.UUID
	Seq           int64 // creation order within the ledger
	Amount        uint64
	LockPeriod    LockPeriod
	OpenedAt      time.Time
	LockDuration  time.Duration   // snapshotted at open
	InterestRate  decimal.Decimal // snapshotted at open
	PenaltyRate   decimal.Decimal // snapshotted at open
	LastAccrualAt time.Time
	Accrued       uint64 // interest credited for the current Amount
	Closed        bool
	ClosedAt      time.Time
	SplitFrom     uuid.UUID // parent deposit when this record is the withdrawn part of a split
}

// MaturesAt is the end of the deposit's lock window.
func (d Deposit) MaturesAt() time.Time { return d.OpenedAt.Add(d.LockDuration) }

// UserLedger is a user's deposits plus derived aggregate balances.
type UserLedger struct {
	UserID        uuid.UUID
	Available     uint64
	Locked        uint64
	Total         uint64
	RewardsEarned uint64
	NextSeq       int64
	Deposits      []Deposit // creation order
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Clone returns a deep copy safe to mutate independently.
func (l *UserLedger) Clone() *UserLedger {
	if l == nil {
		return nil
	}
	cp := *l
	cp.Deposits = append([]Deposit(nil), l.Deposits...)
	return &cp
}

// OpenDeposits returns the open deposits in creation order.
func (l *UserLedger) OpenDeposits() []Deposit {
	out := make([]Deposit, 0, len(l.Deposits))
	for _, d := range l.Deposits {
		if !d.Closed {
			out = append(out, d)
		}
	}
	return out
}

// DepositView is the externally visible shape of an open deposit.
type DepositView struct {
	ID                     uuid.UUID  `json:"id"`
	Amount                 uint64     `json:"amount,string"`
	LockPeriod             LockPeriod `json:"lock_period"`
	DepositTime            time.Time  `json:"deposit_time"`
	MaturesAt              time.Time  `json:"matures_at"`
	InterestRate           float64    `json:"interest_rate"`
	EarlyWithdrawalPenalty float64    `json:"early_withdrawal_penalty"`
}

// BalanceSnapshot is a read-only copy of a ledger's aggregates and open deposits.
type BalanceSnapshot struct {
	Available     uint64        `json:"available_balance,string"`
	Locked        uint64        `json:"locked_balance,string"`
	Total         uint64        `json:"total_balance,string"`
	RewardsEarned uint64        `json:"rewards_earned,string"`
	Deposits      []DepositView `json:"deposits"`
}

// MintResult reports a successful mint.
type MintResult struct {
	DepositID uuid.UUID
	Amount    uint64 // tokens locked
}

// BurnResult reports a successful withdrawal.
// Withdrawn is the payout; Penalty is burned on top of it.
type BurnResult struct {
	Withdrawn uint64
	Penalty   uint64
	Closed    []uuid.UUID // deposits fully consumed by this call
}
