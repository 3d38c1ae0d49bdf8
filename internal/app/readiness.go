package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ai-job-verifier/internal/config"
)

// Pinger is the minimal interface for a database pool capable of Ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RedisPingResult is the minimal return type of a Redis client's Ping.
type RedisPingResult interface{ Err() error }

// RedisClient is the minimal interface for a Redis client needed for
// readiness.
type RedisClient interface {
	Ping(ctx context.Context) RedisPingResult
}

// GoRedisAdapter adapts *redis.Client to RedisClient.
type GoRedisAdapter struct{ C *redis.Client }

// Ping delegates to the wrapped client.
func (a GoRedisAdapter) Ping(ctx context.Context) RedisPingResult { return a.C.Ping(ctx) }

// BuildReadinessChecks returns the db, redis and render-sidecar probes. The
// redis probe is nil when the client is absent (quota limiter disabled), so
// the readiness handler skips it.
func BuildReadinessChecks(cfg config.Config, pool Pinger, rdb RedisClient) (
	func(ctx context.Context) error,
	func(ctx context.Context) error,
	func(ctx context.Context) error,
) {
	dbCheck := func(ctx context.Context) error {
		if pool == nil {
			return fmt.Errorf("db not configured")
		}
		return pool.Ping(ctx)
	}
	var redisCheck func(ctx context.Context) error
	if rdb != nil {
		redisCheck = func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}
	}
	renderCheck := func(ctx context.Context) error {
		if cfg.RenderURL == "" {
			return fmt.Errorf("render url not configured")
		}
		client := &http.Client{Timeout: 2 * time.Second}
		u := strings.TrimRight(cfg.RenderURL, "/") + "/healthz"
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		return fmt.Errorf("render status %d", resp.StatusCode)
	}
	return dbCheck, redisCheck, renderCheck
}
