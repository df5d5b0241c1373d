package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/and161185/piggybank/api/ledgerv1"
	"github.com/and161185/piggybank/internal/ledger"
	"github.com/and161185/piggybank/internal/repository/memory"
	grpcserver "github.com/and161185/piggybank/internal/server/grpc"
	"github.com/and161185/piggybank/internal/service"
)

const testKey = "cli-test-key"

func withTmpConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("PIGGY_AUTH_JWT_KEY", "")
	return filepath.Join(dir, "piggybank")
}

func Test_cfgDir_And_Paths(t *testing.T) {
	base := withTmpConfig(t)
	if got := cfgDir(); got != base {
		t.Fatalf("cfgDir=%q, want %q", got, base)
	}
	if !strings.HasPrefix(tokenPath(), base) || !strings.HasSuffix(tokenPath(), "token.json") {
		t.Fatalf("tokenPath unexpected: %s", tokenPath())
	}
}

func Test_token_SaveLoad(t *testing.T) {
	_ = withTmpConfig(t)

	if _, err := loadToken(); err == nil {
		t.Fatalf("expected error when token file missing")
	}
	if err := saveToken(tokenFile{AccessToken: "tok", UserID: "u", ExpiresAt: time.Now().Add(time.Minute)}); err != nil {
		t.Fatalf("saveToken: %v", err)
	}
	tf, err := loadToken()
	if err != nil || tf.AccessToken != "tok" || tf.UserID != "u" {
		t.Fatalf("loadToken: %+v err=%v", tf, err)
	}
	fi, err := os.Stat(tokenPath())
	if err != nil || fi.Mode().Perm() != 0o600 {
		t.Fatalf("token file mode: %v %v", fi, err)
	}
	if err := saveToken(tokenFile{AccessToken: "tok2", ExpiresAt: time.Now().Add(-time.Minute)}); err != nil {
		t.Fatalf("saveToken expired: %v", err)
	}
	if _, err := loadToken(); err == nil {
		t.Fatalf("want error for expired token")
	}
}

func Test_printJSON_WritesPretty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printJSON(&buf, map[string]string{"a": "b"})
	if got := buf.String(); got != "{\n  \"a\": \"b\"\n}\n" {
		t.Fatalf("unexpected output: %q", got)
	}
}

func Test_describe(t *testing.T) {
	t.Parallel()

	if got := describe(status.Error(codes.FailedPrecondition, "insufficient balance")); got != "rpc error: code=FailedPrecondition msg=insufficient balance" {
		t.Fatalf("status: %q", got)
	}
	if got := describe(errors.New("plain")); got != "plain" {
		t.Fatalf("plain: %q", got)
	}
}

func Test_bearerCreds_Metadata(t *testing.T) {
	t.Parallel()

	b := bearerCreds{token: "T", secure: true}
	md, err := b.GetRequestMetadata(context.Background())
	if err != nil {
		t.Fatalf("GetRequestMetadata: %v", err)
	}
	if md["authorization"] != "Bearer T" {
		t.Fatalf("auth header mismatch: %v", md)
	}
	if !b.RequireTransportSecurity() {
		t.Fatalf("bearerCreds must require TLS when secure")
	}
	if (bearerCreds{token: "T"}).RequireTransportSecurity() {
		t.Fatalf("plaintext creds must not require TLS")
	}
}

func Test_loadTLS_Variants(t *testing.T) {
	t.Parallel()

	creds, err := loadTLS("", true)
	if err != nil || creds == nil {
		t.Fatalf("insecure: %v %v", creds, err)
	}

	creds, err = loadTLS("", false)
	if err != nil || creds == nil {
		t.Fatalf("default tls: %v %v", creds, err)
	}

	tmp := filepath.Join(t.TempDir(), "bad.pem")
	_ = os.WriteFile(tmp, []byte("not pem"), 0o600)
	creds, err = loadTLS(tmp, false)
	if err == nil || creds != nil {
		t.Fatalf("bad CA should error, got creds=%v err=%v", creds, err)
	}

	if _, err := loadTLS(filepath.Join(t.TempDir(), "missing.pem"), false); err == nil {
		t.Fatalf("missing CA should error")
	}
}

// startServer runs a real ledger over bufconn and returns a dialer for it.
func startServer(t *testing.T) func(context.Context, *options, string) (*grpc.ClientConn, error) {
	t.Helper()
	log := zaptest.NewLogger(t)
	auth := service.NewAuthService([]byte(testKey), time.Hour)
	svc := service.NewLedgerService(memory.New(), ledger.NewEngine(ledger.DefaultRates(), nil), service.WithLogger(log))

	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcserver.RecoverUnary(log), grpcserver.AuthUnary(auth)))
	ledgerv1.RegisterLedgerServer(gs, grpcserver.New(svc))
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(func() { gs.Stop(); _ = lis.Close() })

	return func(_ context.Context, _ *options, bearer string) (*grpc.ClientConn, error) {
		return grpc.NewClient("passthrough:///bufnet",
			grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithPerRPCCredentials(bearerCreds{token: bearer}),
		)
	}
}

func runCLI(t *testing.T, dial func(context.Context, *options, string) (*grpc.ClientConn, error), args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	o := &options{out: &buf, dial: dial}
	root := newRootCmd(o)
	root.SetArgs(args)
	root.SetOut(&buf)
	root.SetErr(&buf)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestCLI_Flow(t *testing.T) {
	_ = withTmpConfig(t)
	dial := startServer(t)

	_, err := runCLI(t, dial, "balance")
	require.Error(t, err, "no token saved yet")

	out, err := runCLI(t, dial, "token", "--jwt-key", testKey)
	require.NoError(t, err)
	var tok map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &tok))
	require.NotEmpty(t, tok["user_id"])

	// a second token keeps the saved identity
	out, err = runCLI(t, dial, "token", "--jwt-key", testKey)
	require.NoError(t, err)
	var again map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &again))
	require.Equal(t, tok["user_id"], again["user_id"])

	out, err = runCLI(t, dial, "mint", "--amount", "1000", "--period", "SixMonths")
	require.NoError(t, err)
	var mint ledgerv1.MintResponse
	require.NoError(t, json.Unmarshal([]byte(out), &mint))
	require.Equal(t, "1000", mint.Minted)

	out, err = runCLI(t, dial, "balance")
	require.NoError(t, err)
	var bal ledgerv1.BalanceResponse
	require.NoError(t, json.Unmarshal([]byte(out), &bal))
	require.Equal(t, "1000", bal.LockedBalance)
	require.Len(t, bal.Deposits, 1)

	out, err = runCLI(t, dial, "burn-deposit", "--id", mint.DepositID, "--amount", "100")
	require.NoError(t, err)
	var burn ledgerv1.BurnResponse
	require.NoError(t, json.Unmarshal([]byte(out), &burn))
	require.Equal(t, "100", burn.Burned)
	require.Equal(t, "10", burn.Penalty)

	out, err = runCLI(t, dial, "rewards")
	require.NoError(t, err)
	require.Contains(t, out, `"credited"`)

	_, err = runCLI(t, dial, "burn", "--amount", "5000")
	require.Equal(t, codes.FailedPrecondition, status.Code(err))

	_, err = runCLI(t, dial, "mint", "--amount", "1", "--period", "Forever")
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestCLI_TokenNeedsKey(t *testing.T) {
	_ = withTmpConfig(t)

	_, err := runCLI(t, nil, "token")
	require.Error(t, err)

	_, err = runCLI(t, nil, "token", "--jwt-key", "k", "--user", "not-a-uuid")
	require.Error(t, err)
}

func TestCLI_ExplicitTokenAndVersion(t *testing.T) {
	_ = withTmpConfig(t)
	dial := startServer(t)

	_, err := runCLI(t, dial, "--token", "garbage", "balance")
	require.Equal(t, codes.Unauthenticated, status.Code(err))

	out, err := runCLI(t, nil, "version")
	require.NoError(t, err)
	require.Contains(t, out, "piggy dev")
}
