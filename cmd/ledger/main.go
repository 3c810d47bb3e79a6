// Command ledger serves the doint ledger over gRPC and HTTP and runs the
// daily and hourly jobs.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	ledgerv1 "github.com/example/doint-ledger/api/ledgerv1"
	"github.com/example/doint-ledger/internal/api"
	"github.com/example/doint-ledger/internal/auth"
	"github.com/example/doint-ledger/internal/config"
	"github.com/example/doint-ledger/internal/ledger"
	"github.com/example/doint-ledger/internal/logging"
	"github.com/example/doint-ledger/internal/rpc"
	"github.com/example/doint-ledger/internal/scheduler"
	"github.com/example/doint-ledger/internal/security"
	"github.com/example/doint-ledger/internal/telemetry"
	"github.com/example/doint-ledger/pkg/audit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("ledger exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting ledger", "environment", cfg.Environment, "driver", cfg.Database.Driver)

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
	}()

	store, err := ledger.OpenStore(ctx, cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	l := ledger.New(store, logger)

	trail, closeTrail, err := openTrail(cfg.AuditSink)
	if err != nil {
		return err
	}
	defer closeTrail.Close()

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to reach redis: %w", err)
		}
	}

	validator, allowAnonymous, err := newValidator(cfg, logger)
	if err != nil {
		return err
	}

	var tlsCfg *tls.Config
	if cfg.TLS.Enabled() {
		tlsCfg, err = security.LoadServerTLSConfig(security.TLSFiles{
			CertFile:          cfg.TLS.CertFile,
			KeyFile:           cfg.TLS.KeyFile,
			CAFile:            cfg.TLS.CAFile,
			RequireClientCert: cfg.TLS.RequireClientCert,
		})
		if err != nil {
			return fmt.Errorf("failed to load TLS config: %w", err)
		}
	}

	adminAllowlist, err := security.ParseCIDRAllowlist(cfg.Server.AdminAllowCIDRs)
	if err != nil {
		return fmt.Errorf("invalid ADMIN_ALLOW_CIDRS: %w", err)
	}

	var locker scheduler.Locker
	if rdb != nil {
		locker = &scheduler.RedisLocker{Redis: rdb, Prefix: "doint"}
	}
	runner := scheduler.NewRunner(l, locker, trail, logger, scheduler.Options{
		DailyInterval:  cfg.Scheduler.DailyInterval,
		HourlyInterval: cfg.Scheduler.HourlyInterval,
		RetryAttempts:  cfg.Scheduler.RetryAttempts,
		RetryBackoff:   cfg.Scheduler.RetryBackoff,
		LockTTL:        cfg.Scheduler.LockTTL,
	})

	grpcServer, health := rpc.NewServer(rpc.NewLedgerService(l, trail, logger), rpc.ServerOptions{
		Logger:         logger,
		Validator:      validator,
		AllowAnonymous: allowAnonymous,
		TLS:            tlsCfg,
	})

	var limiter *security.RedisTokenBucket
	if rdb != nil {
		limiter = &security.RedisTokenBucket{
			Redis:      rdb,
			Prefix:     "doint:ratelimit",
			Capacity:   cfg.RateLimit.Capacity,
			RefillRate: cfg.RateLimit.RefillRate,
		}
	}
	router, err := api.NewRouter(api.Dependencies{
		Logger:         logger,
		Ledger:         l,
		Jobs:           runner,
		Validator:      validator,
		AllowAnonymous: allowAnonymous,
		Recorder:       trail,
		RateLimiter:    limiter,
		AdminAllowlist: adminAllowlist,
		MaxBodyBytes:   security.DefaultMaxBodyBytes,
	})
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		TLSConfig:         tlsCfg,
	}

	grpcLis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.GRPCAddr, err)
	}
	httpLis, err := net.Listen("tcp", cfg.Server.HTTPAddr)
	if err != nil {
		grpcLis.Close()
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.HTTPAddr, err)
	}
	if tlsCfg != nil {
		httpLis = tls.NewListener(httpLis, tlsCfg)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("grpc listening", "addr", grpcLis.Addr().String(), "tls", tlsCfg != nil)
		return grpcServer.Serve(grpcLis)
	})
	g.Go(func() error {
		logger.Info("http listening", "addr", httpLis.Addr().String(), "tls", tlsCfg != nil)
		if err := httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.Scheduler.Enabled {
		g.Go(func() error { return runner.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		health.SetServingStatus(ledgerv1.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		err := httpServer.Shutdown(shutdownCtx)
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			grpcServer.Stop()
		}
		return err
	})

	return g.Wait()
}

// openTrail appends to sink when set and keeps the chain in memory
// otherwise.
func openTrail(sink string) (*audit.Trail, io.Closer, error) {
	if sink == "" {
		return audit.NewTrail(nil), nopCloser{}, nil
	}
	trail, closer, err := audit.OpenFile(sink)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open audit sink: %w", err)
	}
	return trail, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// newValidator builds the bearer token validator. Outside production a
// missing secret admits every caller as an anonymous admin.
func newValidator(cfg *config.Config, logger *slog.Logger) (*auth.Validator, bool, error) {
	if cfg.Auth.JWTSecret == "" {
		if cfg.IsProduction() {
			return nil, false, auth.ErrMissingSecret
		}
		logger.Warn("JWT_SECRET not set; every caller is treated as an anonymous admin")
		return nil, true, nil
	}
	v, err := auth.NewValidator([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, cfg.Auth.Audience)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create token validator: %w", err)
	}
	return v, false, nil
}
