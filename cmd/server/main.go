// Command piggybank-server starts the token ledger gRPC server and its admin HTTP endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/piggybank/api/ledgerv1"
	"github.com/and161185/piggybank/internal/cache"
	"github.com/and161185/piggybank/internal/config"
	"github.com/and161185/piggybank/internal/ledger"
	"github.com/and161185/piggybank/internal/limiter"
	"github.com/and161185/piggybank/internal/metrics"
	"github.com/and161185/piggybank/internal/migrate"
	"github.com/and161185/piggybank/internal/repository"
	"github.com/and161185/piggybank/internal/repository/memory"
	"github.com/and161185/piggybank/internal/repository/postgres"
	"github.com/and161185/piggybank/internal/repository/sqlite"
	"github.com/and161185/piggybank/internal/scheduler"
	"github.com/and161185/piggybank/internal/server/admin"
	grpcserver "github.com/and161185/piggybank/internal/server/grpc"
	"github.com/and161185/piggybank/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.GRPC.Addr),
		zap.String("store", cfg.Store.Driver),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// backend is the opened store plus what else depends on the driver.
type backend struct {
	repo    repository.LedgerRepository
	limiter limiter.Limiter
	checks  map[string]admin.Pinger
	close   func()
}

func openBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*backend, error) {
	b := &backend{checks: map[string]admin.Pinger{}, close: func() {}}
	if cfg.RateLimit.RPS > 0 {
		b.limiter = limiter.NewLocal(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}

	switch cfg.Store.Driver {
	case config.DriverPostgres:
		if err := migrate.Up(ctx, cfg.Store.DSN); err != nil {
			return nil, fmt.Errorf("migrate up: %w", err)
		}
		db, err := postgres.New(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		b.repo = postgres.NewLedgerRepo(db)
		b.close = db.Close
		b.checks["store"] = admin.PingFunc(func(ctx context.Context) error {
			_, err := db.Pool.Exec(ctx, "SELECT 1")
			return err
		})
		if cfg.RateLimit.RPS > 0 {
			// shared across replicas; a one-minute window smooths the budget
			perMinute := int(math.Ceil(cfg.RateLimit.RPS * 60))
			b.limiter = limiter.NewPGWithQuerier(db.Pool, time.Minute, max(perMinute, cfg.RateLimit.Burst))
		}
	case config.DriverSQLite:
		repo, err := sqlite.Open(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		b.repo = repo
		b.close = func() { _ = repo.Close() }
		b.checks["store"] = repo
	case config.DriverMemory:
		logger.Warn("memory store selected: balances are lost on restart, use it for development only")
		b.repo = memory.New()
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	return b, nil
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	rates, err := cfg.RateTable()
	if err != nil {
		return err
	}
	conversion, err := cfg.ConversionRate()
	if err != nil {
		return err
	}

	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.close()

	m := metrics.New()
	opts := []service.Option{
		service.WithLogger(logger),
		service.WithMetrics(m),
		service.WithConversionRate(conversion),
	}
	if cfg.Cache.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
		defer func() { _ = rdb.Close() }()
		opts = append(opts, service.WithCache(cache.NewRedis(rdb, cfg.Cache.TTL)))
		b.checks["cache"] = admin.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}

	ledgerSvc := service.NewLedgerService(b.repo, ledger.NewEngine(rates, nil), opts...)
	authSvc := service.NewAuthService([]byte(cfg.Auth.JWTKey), cfg.Auth.TokenTTL)

	interceptors := []grpc.UnaryServerInterceptor{
		grpcserver.RecoverUnary(logger),
		grpcserver.LoggingUnary(logger),
		grpcserver.AuthUnary(authSvc, "/grpc.reflection."),
	}
	if b.limiter != nil {
		interceptors = append(interceptors, grpcserver.RateLimitUnary(b.limiter, logger))
	}
	serverOpts := []grpc.ServerOption{grpc.ChainUnaryInterceptor(interceptors...)}
	if cfg.GRPC.TLSCert != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.GRPC.TLSCert, cfg.GRPC.TLSKey)
		if err != nil {
			return fmt.Errorf("load TLS cert/key: %w", err)
		}
		serverOpts = append(serverOpts, grpc.Creds(creds))
	} else {
		logger.Warn("TLS disabled, serving plaintext gRPC")
	}

	s := grpc.NewServer(serverOpts...)
	ledgerv1.RegisterLedgerServer(s, grpcserver.New(ledgerSvc))

	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	if cfg.GRPC.Reflection {
		reflection.Register(s)
	}

	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.GRPC.Addr), zap.Bool("tls", cfg.GRPC.TLSCert != ""))
		errCh <- s.Serve(lis)
	}()

	var adminSrv *http.Server
	if cfg.Admin.Addr != "" {
		adminSrv = &http.Server{
			Addr:              cfg.Admin.Addr,
			Handler:           admin.Router(logger, m.Handler(), b.checks),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("admin listening", zap.String("addr", cfg.Admin.Addr))
			if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("admin: %w", err)
			}
		}()
	}

	var sweep *scheduler.Sweep
	if cfg.Rewards.Schedule != "" {
		sweep = scheduler.NewSweep(b.repo, ledgerSvc, logger)
		if err := sweep.Start(ctx, cfg.Rewards.Schedule); err != nil {
			s.Stop()
			return err
		}
		logger.Info("reward sweep scheduled", zap.String("schedule", cfg.Rewards.Schedule))
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	hs.Shutdown()
	if sweep != nil {
		sweep.Stop()
	}
	if adminSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = adminSrv.Shutdown(shutdownCtx)
		cancel()
	}

	// graceful shutdown
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.Stop()
	}
	return serveErr
}
