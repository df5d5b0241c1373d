package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/and161185/piggybank/internal/cache"
	"github.com/and161185/piggybank/internal/errs"
	"github.com/and161185/piggybank/internal/keylock"
	"github.com/and161185/piggybank/internal/ledger"
	"github.com/and161185/piggybank/internal/metrics"
	"github.com/and161185/piggybank/internal/model"
	"github.com/and161185/piggybank/internal/repository"
)

// LedgerService defines the token custody operations of one caller.
type LedgerService interface {
	// MintTokens converts amount into tokens and locks them in a new deposit.
	MintTokens(ctx context.Context, userID uuid.UUID, amount uint64, p model.LockPeriod) (model.MintResult, error)
	// BurnTokens withdraws amount oldest-deposit-first, charging penalties on early portions.
	BurnTokens(ctx context.Context, userID uuid.UUID, amount uint64) (model.BurnResult, error)
	// BurnDeposit withdraws amount from one specific open deposit.
	BurnDeposit(ctx context.Context, userID, depositID uuid.UUID, amount uint64) (model.BurnResult, error)
	// ApplyRewards credits interest accrued since the last call.
	ApplyRewards(ctx context.Context, userID uuid.UUID) (uint64, error)
	// GetBalance returns the caller's aggregates and open deposits.
	GetBalance(ctx context.Context, userID uuid.UUID) (model.BalanceSnapshot, error)
}

// Operation names used in logs and metrics.
const (
	OpMint        = "mint_tokens"
	OpBurn        = "burn_tokens"
	OpBurnDeposit = "burn_deposit"
	OpRewards     = "apply_rewards"
	OpBalance     = "get_balance"
)

type LedgerServiceImpl struct {
	repo       repository.LedgerRepository
	engine     *ledger.Engine
	locks      keylock.Table
	cache      cache.SnapshotCache
	metrics    *metrics.Ledger
	log        *zap.Logger
	now        func() time.Time
	conversion decimal.Decimal
}

// Option customizes LedgerServiceImpl.
type Option func(*LedgerServiceImpl)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *LedgerServiceImpl) { s.now = now } }

// WithCache sets the balance snapshot cache.
func WithCache(c cache.SnapshotCache) Option { return func(s *LedgerServiceImpl) { s.cache = c } }

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Ledger) Option { return func(s *LedgerServiceImpl) { s.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *LedgerServiceImpl) { s.log = l } }

// WithConversionRate sets how many tokens one unit of minted amount buys.
func WithConversionRate(r decimal.Decimal) Option {
	return func(s *LedgerServiceImpl) { s.conversion = r }
}

// NewLedgerService constructs LedgerService over repo.
func NewLedgerService(repo repository.LedgerRepository, engine *ledger.Engine, opts ...Option) *LedgerServiceImpl {
	s := &LedgerServiceImpl{
		repo:       repo,
		engine:     engine,
		cache:      cache.Nop{},
		log:        zap.NewNop(),
		now:        time.Now,
		conversion: decimal.NewFromInt(1),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// MintTokens opens a deposit for the converted amount, creating the ledger on first use.
func (s *LedgerServiceImpl) MintTokens(ctx context.Context, userID uuid.UUID, amount uint64, p model.LockPeriod) (model.MintResult, error) {
	if amount == 0 {
		return model.MintResult{}, errs.ErrInvalidAmount
	}
	if !p.Valid() {
		return model.MintResult{}, fmt.Errorf("%w: %q", errs.ErrInvalidLockPeriod, string(p))
	}
	tokens, err := s.convert(amount)
	if err != nil {
		return model.MintResult{}, err
	}

	var d model.Deposit
	err = s.mutate(ctx, OpMint, userID, createMissing, func(l *model.UserLedger, now time.Time) error {
		var err error
		d, err = s.engine.Open(l, tokens, p, now)
		return err
	})
	if err != nil {
		return model.MintResult{}, err
	}
	s.metrics.AddTokens(metrics.Minted, tokens)
	s.log.Info("minted",
		zap.String("user", userID.String()),
		zap.Uint64("amount", tokens),
		zap.String("lock_period", p.String()),
		zap.String("deposit", d.ID.String()),
	)
	return model.MintResult{DepositID: d.ID, Amount: tokens}, nil
}

// BurnTokens withdraws amount across open deposits.
func (s *LedgerServiceImpl) BurnTokens(ctx context.Context, userID uuid.UUID, amount uint64) (model.BurnResult, error) {
	if amount == 0 {
		return model.BurnResult{}, errs.ErrInvalidAmount
	}
	var res model.BurnResult
	err := s.mutate(ctx, OpBurn, userID, failMissing, func(l *model.UserLedger, now time.Time) error {
		var err error
		res, err = s.engine.Withdraw(l, amount, now)
		return err
	})
	if err != nil {
		if errors.Is(err, errs.ErrDepositNotFound) {
			// deposit selection only walks open deposits
			s.log.DPanic("deposit vanished during withdrawal", zap.String("user", userID.String()), zap.Error(err))
		}
		return model.BurnResult{}, err
	}
	s.recordBurn(OpBurn, userID, res)
	return res, nil
}

// BurnDeposit withdraws amount from depositID only.
func (s *LedgerServiceImpl) BurnDeposit(ctx context.Context, userID, depositID uuid.UUID, amount uint64) (model.BurnResult, error) {
	if amount == 0 {
		return model.BurnResult{}, errs.ErrInvalidAmount
	}
	var res model.BurnResult
	err := s.mutate(ctx, OpBurnDeposit, userID, failMissing, func(l *model.UserLedger, now time.Time) error {
		var err error
		res, err = s.engine.WithdrawFrom(l, depositID, amount, now)
		return err
	})
	if err != nil {
		return model.BurnResult{}, err
	}
	s.recordBurn(OpBurnDeposit, userID, res)
	return res, nil
}

// ApplyRewards credits interest owed on every open deposit. A user that never
// minted has nothing to accrue and gets zero.
func (s *LedgerServiceImpl) ApplyRewards(ctx context.Context, userID uuid.UUID) (uint64, error) {
	var credited uint64
	err := s.mutate(ctx, OpRewards, userID, skipMissing, func(l *model.UserLedger, now time.Time) error {
		var err error
		credited, err = s.engine.Accrue(l, now)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.metrics.AddTokens(metrics.Reward, credited)
	s.log.Debug("rewards applied", zap.String("user", userID.String()), zap.Uint64("credited", credited))
	return credited, nil
}

// GetBalance serves from the cache when possible. Cache failures only cost a
// store read. A miss is filled under the caller's lock so a snapshot read
// before a concurrent commit cannot land in the cache after its invalidation.
func (s *LedgerServiceImpl) GetBalance(ctx context.Context, userID uuid.UUID) (snap model.BalanceSnapshot, err error) {
	start := time.Now()
	defer func() { s.metrics.Observe(OpBalance, err, time.Since(start)) }()

	if userID == uuid.Nil {
		return model.BalanceSnapshot{}, fmt.Errorf("%w: empty user", errs.ErrUnauthorized)
	}
	if cached, ok, cerr := s.cache.Get(ctx, userID); cerr != nil {
		s.log.Warn("balance cache read failed", zap.String("user", userID.String()), zap.Error(cerr))
	} else if ok {
		return cached, nil
	}

	unlock := s.locks.Lock(userID)
	defer unlock()
	l, err := s.repo.Get(ctx, userID)
	if err != nil {
		return model.BalanceSnapshot{}, err
	}
	snap = s.engine.Snapshot(l)
	if cerr := s.cache.Set(ctx, userID, snap); cerr != nil {
		s.log.Warn("balance cache write failed", zap.String("user", userID.String()), zap.Error(cerr))
	}
	return snap, nil
}

// onMissing tells mutate what to do when the caller has no ledger yet.
type onMissing int

const (
	failMissing   onMissing = iota // ErrUserNotFound
	createMissing                  // start an empty ledger
	skipMissing                    // succeed without running fn
)

// mutate runs fn under the caller's lock inside one repository update and
// drops the cached snapshot once the update is committed.
func (s *LedgerServiceImpl) mutate(
	ctx context.Context, op string, userID uuid.UUID, missing onMissing,
	fn func(l *model.UserLedger, now time.Time) error,
) (err error) {
	start := time.Now()
	defer func() { s.metrics.Observe(op, err, time.Since(start)) }()

	if userID == uuid.Nil {
		return fmt.Errorf("%w: empty user", errs.ErrUnauthorized)
	}
	unlock := s.locks.Lock(userID)
	defer unlock()

	// microsecond precision survives every store
	now := s.now().UTC().Truncate(time.Microsecond)
	err = s.repo.Update(ctx, userID, missing == createMissing, func(l *model.UserLedger) error {
		if l.CreatedAt.IsZero() {
			l.CreatedAt = now
		}
		if err := fn(l, now); err != nil {
			return err
		}
		return ledger.Check(l)
	})
	if missing == skipMissing && errors.Is(err, errs.ErrUserNotFound) {
		return nil
	}
	if err != nil {
		if errors.Is(err, errs.ErrInvariant) {
			s.log.DPanic("ledger invariant", zap.String("op", op), zap.String("user", userID.String()), zap.Error(err))
		}
		return err
	}

	if cerr := s.cache.Invalidate(ctx, userID); cerr != nil {
		s.log.Warn("balance cache invalidate failed", zap.String("user", userID.String()), zap.Error(cerr))
	}
	return nil
}

func (s *LedgerServiceImpl) recordBurn(op string, userID uuid.UUID, res model.BurnResult) {
	s.metrics.AddTokens(metrics.Withdrawn, res.Withdrawn)
	s.metrics.AddTokens(metrics.Penalty, res.Penalty)
	s.log.Info("burned",
		zap.String("op", op),
		zap.String("user", userID.String()),
		zap.Uint64("amount", res.Withdrawn),
		zap.Uint64("penalty", res.Penalty),
		zap.Int("closed", len(res.Closed)),
	)
}

// convert applies the mint conversion rate, flooring to whole tokens.
func (s *LedgerServiceImpl) convert(amount uint64) (uint64, error) {
	if s.conversion.Equal(decimal.NewFromInt(1)) {
		return amount, nil
	}
	tokens := decimal.NewFromUint64(amount).Mul(s.conversion).Floor()
	if tokens.Sign() <= 0 {
		return 0, fmt.Errorf("%w: %d converts to zero tokens", errs.ErrInvalidAmount, amount)
	}
	if tokens.GreaterThan(decimal.NewFromUint64(math.MaxUint64)) {
		return 0, fmt.Errorf("%w: %d converts beyond the token range", errs.ErrInvalidAmount, amount)
	}
	return tokens.BigInt().Uint64(), nil
}
