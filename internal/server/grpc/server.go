// Package grpcserver exposes the ledger gRPC API handlers.
package grpcserver

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/and161185/piggybank/api/ledgerv1"
	"github.com/and161185/piggybank/internal/convert"
	"github.com/and161185/piggybank/internal/errs"
	"github.com/and161185/piggybank/internal/service"
)

// Server wires the ledger service into gRPC handlers.
type Server struct {
	ledgerv1.UnimplementedLedgerServer
	ledger service.LedgerService
}

var _ ledgerv1.LedgerServer = (*Server)(nil)

// New constructs a gRPC server with injected services.
func New(ledger service.LedgerService) *Server {
	return &Server{ledger: ledger}
}

// MintTokens locks the requested amount in a new deposit.
func (s *Server) MintTokens(ctx context.Context, req *ledgerv1.MintRequest) (*ledgerv1.MintResponse, error) {
	userID, ok := CallerFromCtx(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	amount, err := convert.ParseAmount(req.Amount)
	if err != nil {
		return nil, toStatus(err)
	}
	period, err := convert.ParseLockPeriod(req.LockPeriod)
	if err != nil {
		return nil, toStatus(err)
	}
	res, err := s.ledger.MintTokens(ctx, userID, amount, period)
	if err != nil {
		return nil, toStatus(err)
	}
	return convert.ToMintResponse(res), nil
}

// BurnTokens withdraws tokens oldest-deposit-first.
func (s *Server) BurnTokens(ctx context.Context, req *ledgerv1.BurnRequest) (*ledgerv1.BurnResponse, error) {
	userID, ok := CallerFromCtx(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	amount, err := convert.ParseAmount(req.Amount)
	if err != nil {
		return nil, toStatus(err)
	}
	res, err := s.ledger.BurnTokens(ctx, userID, amount)
	if err != nil {
		return nil, toStatus(err)
	}
	return convert.ToBurnResponse(res), nil
}

// BurnDeposit withdraws tokens from one deposit.
func (s *Server) BurnDeposit(ctx context.Context, req *ledgerv1.BurnDepositRequest) (*ledgerv1.BurnResponse, error) {
	userID, ok := CallerFromCtx(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	depositID, err := convert.ParseDepositID(req.DepositID)
	if err != nil {
		return nil, toStatus(err)
	}
	amount, err := convert.ParseAmount(req.Amount)
	if err != nil {
		return nil, toStatus(err)
	}
	res, err := s.ledger.BurnDeposit(ctx, userID, depositID, amount)
	if err != nil {
		return nil, toStatus(err)
	}
	return convert.ToBurnResponse(res), nil
}

// GetBalance returns the caller's balance snapshot.
func (s *Server) GetBalance(ctx context.Context, _ *ledgerv1.GetBalanceRequest) (*ledgerv1.BalanceResponse, error) {
	userID, ok := CallerFromCtx(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	snap, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		return nil, toStatus(err)
	}
	return convert.ToBalanceResponse(snap), nil
}

// ApplyRewards credits accrued interest to the caller.
func (s *Server) ApplyRewards(ctx context.Context, _ *ledgerv1.ApplyRewardsRequest) (*ledgerv1.ApplyRewardsResponse, error) {
	userID, ok := CallerFromCtx(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	credited, err := s.ledger.ApplyRewards(ctx, userID)
	if err != nil {
		return nil, toStatus(err)
	}
	return convert.ToApplyRewardsResponse(credited), nil
}

// toStatus maps ledger sentinels to gRPC codes, keeping the descriptive message.
func toStatus(err error) error {
	switch {
	case errors.Is(err, errs.ErrInvalidAmount), errors.Is(err, errs.ErrInvalidLockPeriod):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, errs.ErrInsufficientBalance):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, errs.ErrUserNotFound), errors.Is(err, errs.ErrDepositNotFound), errors.Is(err, errs.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, errs.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, errs.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, "internal")
	}
}
