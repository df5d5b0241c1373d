package grpcserver

import (
	"context"
	"errors"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/and161185/piggybank/internal/limiter"
	"github.com/and161185/piggybank/internal/service"
)

// HealthPrefix marks methods reachable without a bearer token.
const HealthPrefix = "/grpc.health.v1."

// LoggingUnary returns a unary server interceptor for structured logging.
func LoggingUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		code := status.Code(err)

		var remote string
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			remote = p.Addr.String()
		}

		// metadata only, never payloads
		log.Info("grpc",
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("dur", time.Since(start)),
			zap.String("peer", remote),
		)
		return resp, err
	}
}

// RecoverUnary returns a unary server interceptor that recovers from panics.
func RecoverUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic",
					zap.Any("reason", r),
					zap.ByteString("stack", debug.Stack()),
					zap.String("method", info.FullMethod),
				)
				err = status.Error(codes.Internal, "internal")
			}
		}()
		return next(ctx, req)
	}
}

type callerCtxKey struct{}

// WithCaller returns ctx carrying the authenticated ledger owner.
func WithCaller(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, callerCtxKey{}, userID)
}

// CallerFromCtx returns the ledger owner stored by AuthUnary.
func CallerFromCtx(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(callerCtxKey{}).(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// AuthUnary verifies the bearer token and stores the caller in ctx.
// Methods matching any of public bypass the check.
func AuthUnary(auth service.AuthService, public ...string) grpc.UnaryServerInterceptor {
	public = append([]string{HealthPrefix}, public...)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		for _, p := range public {
			if strings.HasPrefix(info.FullMethod, p) {
				return next(ctx, req)
			}
		}
		tok, err := bearerTokenFromMD(ctx)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		userID, err := auth.Verify(tok)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
		return next(WithCaller(ctx, userID), req)
	}
}

// RateLimitUnary rejects calls over the per-caller budget.
// The key is the authenticated user, falling back to the peer address.
// Limiter failures are logged and the call is let through.
func RateLimitUnary(lim limiter.Limiter, log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		key := callerKey(ctx)
		if key == "" {
			return next(ctx, req)
		}
		ok, retry, err := lim.Allow(ctx, key)
		if err != nil {
			log.Warn("rate limiter unavailable", zap.Error(err), zap.String("method", info.FullMethod))
			return next(ctx, req)
		}
		if !ok {
			return nil, status.Errorf(codes.ResourceExhausted, "rate limited, retry in %s", retry.Round(time.Millisecond))
		}
		return next(ctx, req)
	}
}

func callerKey(ctx context.Context) string {
	if id, ok := CallerFromCtx(ctx); ok {
		return "user:" + id.String()
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return "peer:" + p.Addr.String()
	}
	return ""
}

func bearerTokenFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errors.New("no metadata")
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return "", errors.New("no authorization")
	}
	parts := strings.SplitN(vals[0], " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", errors.New("bad authorization")
	}
	return strings.TrimSpace(parts[1]), nil
}
