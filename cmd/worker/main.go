// Command worker consumes verification tasks from the Redpanda queue and
// runs the document verification pipeline against ERP and LLM services.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ai-job-verifier/internal/adapter/erp"
	"github.com/fairyhunter13/ai-job-verifier/internal/adapter/llm"
	"github.com/fairyhunter13/ai-job-verifier/internal/adapter/observability"
	"github.com/fairyhunter13/ai-job-verifier/internal/adapter/queue/redpanda"
	"github.com/fairyhunter13/ai-job-verifier/internal/adapter/render"
	"github.com/fairyhunter13/ai-job-verifier/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ai-job-verifier/internal/app"
	"github.com/fairyhunter13/ai-job-verifier/internal/config"
	"github.com/fairyhunter13/ai-job-verifier/internal/service/ratelimiter"
	"github.com/fairyhunter13/ai-job-verifier/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Register Prometheus metrics in the worker process and expose them on
	// a dedicated /metrics endpoint so queue and LLM metrics are scrapeable.
	observability.InitMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: ":9090", Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		if err := srv.ListenAndServe(); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL())
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	requests := postgres.NewVerificationRequestRepo(pool)
	jobs := postgres.NewJobRepo(pool)
	documents := postgres.NewJobDocumentRepo(pool)
	activity := postgres.NewActivityLogRepo(pool)

	// The LLM quota is shared across all workers through Redis; without
	// Redis, or with a zero rate, the client falls back to provider-side
	// limits only.
	var limiter ratelimiter.Limiter
	if cfg.RedisURL != "" && cfg.LLMRatePerMin > 0 {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid redis url", slog.Any("error", err))
			os.Exit(1)
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()

		buckets := make(map[string]ratelimiter.BucketConfig, len(cfg.LLMModels()))
		for _, model := range cfg.LLMModels() {
			buckets["llm:"+model] = ratelimiter.NewBucketConfigFromPerMinute(cfg.LLMRatePerMin)
		}
		if l := ratelimiter.NewRedisLuaLimiter(rdb, pool, buckets); l != nil {
			// Seed Redis with the bucket state mirrored on the last run so a
			// restart does not reset the shared quota.
			if err := l.WarmFromPostgres(ctx); err != nil {
				slog.Warn("rate limit warm-up failed", slog.Any("error", err))
			}
			limiter = l
		}
	}

	rubric, err := config.LoadRubric(cfg.RubricPath)
	if err != nil {
		slog.Error("rubric load failed", slog.Any("error", err))
		os.Exit(1)
	}

	llmClient, err := llm.New(ctx, cfg, rubric, limiter)
	if err != nil {
		slog.Error("llm client init failed", slog.Any("error", err))
		os.Exit(1)
	}

	erpClient := erp.New(cfg)
	renderer := render.New(cfg)

	processSvc := usecase.NewProcessService(
		requests, jobs, documents, activity,
		erpClient, erpClient, llmClient, renderer,
		cfg.WritebackActor, cfg.DocConcurrency,
	)

	handler := &redpanda.VerificationHandler{
		Requests: requests,
		Process:  processSvc.Process,
	}
	consumer, err := redpanda.NewConsumer(cfg, "ai-job-verifier-workers", handler)
	if err != nil {
		slog.Error("queue consumer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := consumer.Close(); err != nil {
			slog.Error("failed to close consumer", slog.Any("error", err))
		}
	}()

	// DLQ consumer records poison payloads in the activity log so
	// operators can see what was parked and why.
	dlqConsumer, err := redpanda.NewDLQConsumer(cfg, "ai-job-verifier-dlq-workers", activity)
	if err != nil {
		slog.Error("dlq consumer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := dlqConsumer.Close(); err != nil {
			slog.Error("failed to close dlq consumer", slog.Any("error", err))
		}
	}()

	// Requests stuck in PROCESSING past the max age are failed so their
	// jobs do not stay locked when a worker dies mid-run.
	sweeper := app.NewStuckRequestSweeper(requests, jobs, activity,
		cfg.SweeperMaxProcessingAge, cfg.SweeperInterval)
	go sweeper.Run(ctx)

	go func() {
		if err := consumer.Run(ctx); err != nil {
			slog.Error("consumer stopped", slog.Any("error", err))
		}
	}()
	go func() {
		if err := dlqConsumer.Run(ctx); err != nil {
			slog.Error("dlq consumer stopped", slog.Any("error", err))
		}
	}()

	slog.Info("worker started, waiting for shutdown signal")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	slog.Info("signal received, shutting down", slog.String("signal", sig.String()))
	cancel()
}
