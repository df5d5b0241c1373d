// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Ledger sentinels. Messages are user-facing.
var (
	// ErrInvalidAmount indicates a zero amount on mint/burn.
	ErrInvalidAmount = errors.New("amount must be greater than 0")

	// ErrInvalidLockPeriod indicates an unknown lock period tag.
	ErrInvalidLockPeriod = errors.New("invalid lock period")

	// ErrInsufficientBalance indicates the withdrawal plus penalties exceeds total balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrUserNotFound indicates the caller never minted.
	ErrUserNotFound = errors.New("user balance not found")

	// ErrDepositNotFound indicates an unknown or already closed deposit.
	ErrDepositNotFound = errors.New("deposit not found")

	// ErrInvariant indicates ledger aggregates disagree with its deposits.
	ErrInvariant = errors.New("ledger invariant violated")
)

// Common sentinels across repo/transport layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates the caller exceeded its request budget.
	ErrRateLimited = errors.New("rate limited")
)
