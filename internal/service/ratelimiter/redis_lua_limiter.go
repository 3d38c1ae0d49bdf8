// Package ratelimiter enforces shared per-model request quotas. Bucket state
// lives in Redis so every worker replica draws from the same token budget;
// Postgres mirrors the buckets so a Redis restart does not hand out a fresh
// quota.
package ratelimiter

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Limiter gates one upstream call. Implementations must fail open: a broken
// limiter may not take the verification pipeline down with it.
type Limiter interface {
	Allow(ctx context.Context, key string, cost int64) (allowed bool, retryAfter time.Duration, err error)
}

// BucketConfig sizes one token bucket. RefillRate is tokens per second.
type BucketConfig struct {
	Capacity   int64
	RefillRate float64
}

// NewBucketConfigFromPerMinute sizes a bucket from a requests-per-minute
// quota. Non-positive quotas produce the zero config, which Allow treats as
// unlimited.
func NewBucketConfigFromPerMinute(perMinute int) BucketConfig {
	if perMinute <= 0 {
		return BucketConfig{}
	}
	return BucketConfig{
		Capacity:   int64(perMinute),
		RefillRate: float64(perMinute) / 60.0,
	}
}

// RedisLuaLimiter is a token bucket evaluated atomically inside Redis, so
// concurrent workers cannot double-spend the same tokens.
type RedisLuaLimiter struct {
	redis   *redis.Client
	pool    *pgxpool.Pool
	buckets map[string]BucketConfig
	script  *redis.Script
	mu      sync.RWMutex
}

// NewRedisLuaLimiter returns nil when rdb is nil; callers treat a nil limiter
// as quota-off. The pool is optional and only used to mirror bucket state.
func NewRedisLuaLimiter(rdb *redis.Client, pool *pgxpool.Pool, buckets map[string]BucketConfig) *RedisLuaLimiter {
	if rdb == nil {
		return nil
	}
	if buckets == nil {
		buckets = map[string]BucketConfig{}
	}
	return &RedisLuaLimiter{
		redis:   rdb,
		pool:    pool,
		buckets: buckets,
		script:  redis.NewScript(tokenBucketSrc),
	}
}

// tokenBucketSrc refills lazily: tokens accrue at fill_rate per second up to
// burst, and a call is admitted when the bucket covers its cost. Fractional
// values return as strings because Redis truncates Lua numbers to integers.
// Idle buckets expire after twice their full refill window; the Postgres
// mirror restores anything Redis forgot.
const tokenBucketSrc = `
local burst = tonumber(ARGV[1])
local fill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local state = redis.call("HMGET", KEYS[1], "tokens", "stamp")
local tokens = tonumber(state[1]) or burst
local stamp = tonumber(state[2]) or now

local elapsed = now - stamp
if elapsed < 0 then
  elapsed = 0
end
tokens = math.min(burst, tokens + elapsed * fill_rate)

local ok = 0
local wait = 0
if tokens >= cost then
  tokens = tokens - cost
  ok = 1
elseif fill_rate > 0 then
  wait = (cost - tokens) / fill_rate
end

redis.call("HSET", KEYS[1], "tokens", tokens, "stamp", now)
if fill_rate > 0 then
  redis.call("EXPIRE", KEYS[1], math.ceil(burst / fill_rate) * 2)
end

return { ok, tostring(tokens), tostring(now), tostring(wait) }
`

// Allow spends cost tokens from the bucket behind key. Unknown keys and
// zero-sized buckets pass unchecked, and any Redis failure fails open: quota
// enforcement is never worth an outage.
func (l *RedisLuaLimiter) Allow(ctx context.Context, key string, cost int64) (bool, time.Duration, error) {
	if l == nil || l.redis == nil {
		return true, 0, nil
	}
	l.mu.RLock()
	cfg, ok := l.buckets[key]
	l.mu.RUnlock()
	if !ok || cfg.Capacity <= 0 || cfg.RefillRate <= 0 {
		return true, 0, nil
	}
	if cost <= 0 {
		cost = 1
	}

	nowSec := float64(time.Now().UnixNano()) / 1e9
	res, err := l.script.Run(ctx, l.redis, []string{"quota:" + key}, cfg.Capacity, cfg.RefillRate, nowSec, cost).Result()
	if err != nil {
		slog.Error("quota script failed; failing open",
			slog.String("bucket", key), slog.Any("error", err))
		return true, 0, err
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) < 4 {
		slog.Error("quota script returned malformed reply",
			slog.String("bucket", key), slog.Any("result", res))
		return true, 0, nil
	}

	allowed := asInt(vals[0]) == 1
	tokens := asFloat(vals[1])
	stamp := asFloat(vals[2])
	retryAfter := time.Duration(asFloat(vals[3]) * float64(time.Second))

	if l.pool != nil {
		l.mirrorToPostgres(ctx, key, cfg, tokens, stamp)
	}
	return allowed, retryAfter, nil
}

const mirrorBucketSQL = `
INSERT INTO rate_limit_buckets (bucket_key, capacity, refill_rate, tokens, last_refill)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (bucket_key) DO UPDATE SET
  capacity = EXCLUDED.capacity,
  refill_rate = EXCLUDED.refill_rate,
  tokens = EXCLUDED.tokens,
  last_refill = EXCLUDED.last_refill`

// mirrorToPostgres persists the bucket after every spend. Best effort; a
// failed mirror costs at worst one refill window of extra quota after a
// Redis wipe.
func (l *RedisLuaLimiter) mirrorToPostgres(ctx context.Context, key string, cfg BucketConfig, tokens, stampSec float64) {
	if l.pool == nil {
		return
	}
	_, err := l.pool.Exec(ctx, mirrorBucketSQL,
		key, cfg.Capacity, cfg.RefillRate, tokens, epochToTime(stampSec))
	if err != nil {
		slog.Error("bucket mirror failed",
			slog.String("bucket", key), slog.Any("error", err))
	}
}

// WarmFromPostgres seeds Redis from the mirrored buckets. Run at worker boot
// so a restart resumes the quota instead of resetting it.
func (l *RedisLuaLimiter) WarmFromPostgres(ctx context.Context) error {
	if l == nil || l.pool == nil || l.redis == nil {
		return nil
	}

	rows, err := l.pool.Query(ctx, `SELECT bucket_key, tokens, EXTRACT(EPOCH FROM last_refill) FROM rate_limit_buckets`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var tokens, stampSec float64
		if err := rows.Scan(&key, &tokens, &stampSec); err != nil {
			return err
		}
		// Same representation the script reads: seconds with fraction.
		if err := l.redis.HSet(ctx, "quota:"+key, "tokens", tokens, "stamp", stampSec).Err(); err != nil {
			slog.Error("bucket warm-up failed",
				slog.String("bucket", key), slog.Any("error", err))
		}
	}
	return rows.Err()
}

// SetBucketConfig resizes one bucket at runtime. The LLM client shrinks a
// model's bucket when the provider answers 429, so a misconfigured quota
// converges instead of hammering the API. Safe for concurrent use.
func (l *RedisLuaLimiter) SetBucketConfig(key string, cfg BucketConfig) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.buckets == nil {
		l.buckets = map[string]BucketConfig{}
	}
	l.buckets[key] = cfg
}

func asInt(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	default:
		return 0
	}
}

func asFloat(v interface{}) float64 {
	switch t := v.(type) {
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	case int64:
		return float64(t)
	case float64:
		return t
	default:
		return math.NaN()
	}
}

func epochToTime(sec float64) time.Time {
	s := int64(sec)
	ns := int64((sec - float64(s)) * 1e9)
	if ns < 0 {
		ns = 0
	}
	return time.Unix(s, ns)
}
