// Package convert maps between domain values and ledgerv1 wire messages.
package convert

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/piggybank/api/ledgerv1"
	"github.com/and161185/piggybank/internal/errs"
	"github.com/and161185/piggybank/internal/model"
)

// --- requests (client -> server) ---

// ParseAmount reads a decimal token amount. Zero, negative and malformed
// amounts are all ErrInvalidAmount.
func ParseAmount(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("%w: negative amount %q", errs.ErrInvalidAmount, s)
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an unsigned 64-bit integer", errs.ErrInvalidAmount, s)
	}
	if v == 0 {
		return 0, errs.ErrInvalidAmount
	}
	return v, nil
}

// ParseLockPeriod accepts a lock period tag, ignoring case.
func ParseLockPeriod(s string) (model.LockPeriod, error) {
	s = strings.TrimSpace(s)
	for _, p := range model.LockPeriods {
		if strings.EqualFold(s, string(p)) {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", errs.ErrInvalidLockPeriod, s)
}

// ParseDepositID reads a deposit identifier.
func ParseDepositID(s string) (uuid.UUID, error) {
	id, err := uuid.FromString(strings.TrimSpace(s))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: bad id %q", errs.ErrDepositNotFound, s)
	}
	return id, nil
}

// --- responses (server -> client) ---

func u64(v uint64) string { return strconv.FormatUint(v, 10) }

// ToMintResponse converts a mint result.
func ToMintResponse(r model.MintResult) *ledgerv1.MintResponse {
	return &ledgerv1.MintResponse{Minted: u64(r.Amount), DepositID: r.DepositID.String()}
}

// ToBurnResponse converts a burn result.
func ToBurnResponse(r model.BurnResult) *ledgerv1.BurnResponse {
	closed := make([]string, 0, len(r.Closed))
	for _, id := range r.Closed {
		closed = append(closed, id.String())
	}
	return &ledgerv1.BurnResponse{Burned: u64(r.Withdrawn), Penalty: u64(r.Penalty), ClosedDeposits: closed}
}

// ToBalanceResponse converts a balance snapshot. Timestamps are sent in UTC.
func ToBalanceResponse(s model.BalanceSnapshot) *ledgerv1.BalanceResponse {
	out := &ledgerv1.BalanceResponse{
		AvailableBalance: u64(s.Available),
		LockedBalance:    u64(s.Locked),
		TotalBalance:     u64(s.Total),
		RewardsEarned:    u64(s.RewardsEarned),
		Deposits:         make([]ledgerv1.Deposit, 0, len(s.Deposits)),
	}
	for _, d := range s.Deposits {
		out.Deposits = append(out.Deposits, ledgerv1.Deposit{
			ID:                     d.ID.String(),
			Amount:                 u64(d.Amount),
			LockPeriod:             string(d.LockPeriod),
			DepositTime:            d.DepositTime.UTC(),
			MaturesAt:              d.MaturesAt.UTC(),
			InterestRate:           d.InterestRate,
			EarlyWithdrawalPenalty: d.EarlyWithdrawalPenalty,
		})
	}
	return out
}

// ToApplyRewardsResponse converts credited interest.
func ToApplyRewardsResponse(credited uint64) *ledgerv1.ApplyRewardsResponse {
	return &ledgerv1.ApplyRewardsResponse{Credited: u64(credited)}
}
