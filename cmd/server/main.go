// Command server starts the AI job verification HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ai-job-verifier/internal/adapter/erp"
	"github.com/fairyhunter13/ai-job-verifier/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-job-verifier/internal/adapter/observability"
	"github.com/fairyhunter13/ai-job-verifier/internal/adapter/queue/redpanda"
	"github.com/fairyhunter13/ai-job-verifier/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ai-job-verifier/internal/app"
	"github.com/fairyhunter13/ai-job-verifier/internal/config"
	"github.com/fairyhunter13/ai-job-verifier/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Register all Prometheus metrics once per process so that /metrics
	// exposes HTTP, ERP, LLM and request instrumentation.
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL())
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	// The server owns schema migrations; the worker assumes they ran.
	if err := postgres.Migrate(ctx, pool); err != nil {
		slog.Error("db migrate failed", slog.Any("error", err))
		os.Exit(1)
	}

	requests := postgres.NewVerificationRequestRepo(pool)
	activity := postgres.NewActivityLogRepo(pool)

	// Retention: terminal requests, documents and activity older than the
	// configured window are purged in the background.
	if cfg.DataRetentionDays > 0 {
		cleanupSvc := postgres.NewCleanupService(pool, cfg.DataRetentionDays)
		go cleanupSvc.RunPeriodic(ctx, cfg.CleanupInterval)
		slog.Info("cleanup service started",
			slog.Int("retention_days", cfg.DataRetentionDays),
			slog.Duration("interval", cfg.CleanupInterval))
	}

	producer, err := redpanda.NewProducer(cfg)
	if err != nil {
		slog.Error("queue producer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := producer.Close(); err != nil {
			slog.Error("failed to close queue producer", slog.Any("error", err))
		}
	}()

	// Redis backs the shared LLM quota in the worker; the server only
	// probes it for readiness, and skips the probe when unconfigured.
	var rdbCheck app.RedisClient
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid redis url", slog.Any("error", err))
			os.Exit(1)
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		rdbCheck = app.GoRedisAdapter{C: rdb}
	}

	erpClient := erp.New(cfg)

	verifySvc := usecase.NewVerifyService(requests, producer, activity)
	eligibilitySvc := usecase.NewEligibilityService(erpClient)

	dbCheck, redisCheck, renderCheck := app.BuildReadinessChecks(cfg, pool, rdbCheck)

	srv := httpserver.NewServer(cfg, verifySvc, eligibilitySvc, dbCheck, redisCheck, renderCheck)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
