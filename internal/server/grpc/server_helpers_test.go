package grpcserver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/and161185/piggybank/internal/errs"
	"github.com/and161185/piggybank/internal/service"
)

func ctxWithAuth(token string) context.Context {
	md := metadata.New(map[string]string{
		"authorization": "Bearer " + token,
	})
	return metadata.NewIncomingContext(context.Background(), md)
}

func Test_bearerTokenFromMD_OkAndErrors(t *testing.T) {
	t.Parallel()

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer abc.def.ghi"))
	got, err := bearerTokenFromMD(ctx)
	if err != nil || got != "abc.def.ghi" {
		t.Fatalf("ok: got=%q err=%v", got, err)
	}

	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Basic foo"))
	if _, err := bearerTokenFromMD(ctx); err == nil {
		t.Fatalf("want error on non-bearer")
	}

	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer   "))
	if _, err := bearerTokenFromMD(ctx); err == nil {
		t.Fatalf("want error on empty token")
	}

	if _, err := bearerTokenFromMD(context.Background()); err == nil {
		t.Fatalf("want error on no metadata")
	}
}

func whoAmI(ctx context.Context, _ any) (any, error) {
	id, ok := CallerFromCtx(ctx)
	if !ok {
		return nil, errors.New("no user in ctx")
	}
	return id, nil
}

func TestAuthUnary_ValidToken(t *testing.T) {
	t.Parallel()

	auth := service.NewAuthService([]byte("secret"), time.Hour)
	want := uuid.Must(uuid.NewV4())
	tok, _, err := auth.Issue(want)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	ic := AuthUnary(auth)
	resp, err := ic(ctxWithAuth(tok), nil, &grpc.UnaryServerInfo{FullMethod: "/piggybank.ledger.v1.Ledger/GetBalance"}, whoAmI)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if resp.(uuid.UUID) != want {
		t.Fatalf("user mismatch: %v vs %v", resp, want)
	}
}

func TestAuthUnary_Rejects(t *testing.T) {
	t.Parallel()

	auth := service.NewAuthService([]byte("secret"), time.Hour)
	other := service.NewAuthService([]byte("other"), time.Hour)
	foreign, _, err := other.Issue(uuid.Must(uuid.NewV4()))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	ic := AuthUnary(auth)
	info := &grpc.UnaryServerInfo{FullMethod: "/piggybank.ledger.v1.Ledger/MintTokens"}

	cases := map[string]context.Context{
		"no metadata":  context.Background(),
		"garbage":      ctxWithAuth("this-is-not-a-jwt"),
		"foreign key":  ctxWithAuth(foreign),
		"empty bearer": metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer ")),
		"wrong scheme": metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Basic foo")),
	}
	for name, ctx := range cases {
		_, err := ic(ctx, nil, info, whoAmI)
		if status.Code(err) != codes.Unauthenticated {
			t.Fatalf("%s: want Unauthenticated, got %v", name, err)
		}
	}
}

func TestAuthUnary_PublicMethods(t *testing.T) {
	t.Parallel()

	ic := AuthUnary(service.NewAuthService([]byte("secret"), time.Hour), "/grpc.reflection.")
	h := func(context.Context, any) (any, error) { return "ok", nil }

	for _, m := range []string{"/grpc.health.v1.Health/Check", "/grpc.reflection.v1.ServerReflection/ServerReflectionInfo"} {
		resp, err := ic(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: m}, h)
		if err != nil || resp != "ok" {
			t.Fatalf("%s: resp=%v err=%v", m, resp, err)
		}
	}
}

type stubLimiter struct {
	ok   bool
	err  error
	keys []string
}

func (s *stubLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	s.keys = append(s.keys, key)
	return s.ok, 1500 * time.Millisecond, s.err
}

func TestRateLimitUnary(t *testing.T) {
	t.Parallel()

	log := zaptest.NewLogger(t)
	info := &grpc.UnaryServerInfo{FullMethod: "/piggybank.ledger.v1.Ledger/BurnTokens"}
	h := func(context.Context, any) (any, error) { return "ok", nil }
	id := uuid.Must(uuid.NewV4())
	ctx := peer.NewContext(WithCaller(context.Background(), id), &peer.Peer{Addr: fakeAddr{}})

	lim := &stubLimiter{ok: true}
	if _, err := RateLimitUnary(lim, log)(ctx, nil, info, h); err != nil {
		t.Fatalf("allowed: %v", err)
	}
	if lim.keys[0] != "user:"+id.String() {
		t.Fatalf("key: %q", lim.keys[0])
	}

	lim = &stubLimiter{ok: false}
	_, err := RateLimitUnary(lim, log)(ctx, nil, info, h)
	if status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("want ResourceExhausted, got %v", err)
	}

	lim = &stubLimiter{err: errors.New("db down")}
	if _, err := RateLimitUnary(lim, log)(ctx, nil, info, h); err != nil {
		t.Fatalf("limiter failure must not block: %v", err)
	}

	lim = &stubLimiter{ok: true}
	anon := peer.NewContext(context.Background(), &peer.Peer{Addr: fakeAddr{}})
	if _, err := RateLimitUnary(lim, log)(anon, nil, info, h); err != nil {
		t.Fatalf("anon: %v", err)
	}
	if lim.keys[0] != "peer:127.0.0.1:12345" {
		t.Fatalf("peer key: %q", lim.keys[0])
	}
}

func Test_toStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want codes.Code
	}{
		{errs.ErrInvalidAmount, codes.InvalidArgument},
		{errs.ErrInvalidLockPeriod, codes.InvalidArgument},
		{errs.ErrInsufficientBalance, codes.FailedPrecondition},
		{errs.ErrUserNotFound, codes.NotFound},
		{errs.ErrDepositNotFound, codes.NotFound},
		{errs.ErrUnauthorized, codes.Unauthenticated},
		{errs.ErrRateLimited, codes.ResourceExhausted},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{errs.ErrInvariant, codes.Internal},
		{errors.New("pg: connection reset"), codes.Internal},
	}
	for _, c := range cases {
		if got := status.Code(toStatus(c.err)); got != c.want {
			t.Fatalf("%v: got %s want %s", c.err, got, c.want)
		}
	}

	st, _ := status.FromError(toStatus(errors.New("secret dsn in message")))
	if st.Message() != "internal" {
		t.Fatalf("internal errors must not leak: %q", st.Message())
	}
}
