package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// tokenBucketScript refills and consumes a bucket atomically.
// KEYS[1] bucket key; ARGV: now (float seconds), rate (tokens/s), capacity, cost.
// Returns {allowed, remaining, retry_after_seconds}.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local capacity = tonumber(ARGV[3])
local cost = tonumber(ARGV[4]) or 1

local tokens = tonumber(redis.call('HGET', key, 'tokens'))
local last_refill = tonumber(redis.call('HGET', key, 'last_refill'))

if tokens == nil then
	tokens = capacity
	last_refill = now
end

local elapsed = math.max(0, now - last_refill)
tokens = math.min(tokens + elapsed * rate, capacity)

local allowed = tokens >= cost
if allowed then
	tokens = tokens - cost
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill', now)
redis.call('EXPIRE', key, math.ceil(capacity / rate * 2))

local retry_after = 0
if not allowed then
	retry_after = (cost - tokens) / rate
end

return {allowed and 1 or 0, math.floor(tokens), math.ceil(retry_after)}
`)

// RedisLimiter implements rate limiting using Redis with a token bucket algorithm
type RedisLimiter struct {
	client redis.UniversalClient
	config *Config
	logger *zap.Logger
	now    func() time.Time
}

// NewRedisLimiter creates a new Redis-backed rate limiter
func NewRedisLimiter(client redis.UniversalClient, config *Config, logger *zap.Logger) *RedisLimiter {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLimiter{
		client: client,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// NewRedisClient creates the client the limiter runs its script on. The
// connection handshake skips CLIENT SETINFO, which older servers and
// miniredis reject.
func NewRedisClient(opts *redis.Options) *redis.Client {
	o := *opts
	o.DisableIndentity = true
	return redis.NewClient(&o)
}

// Allow takes one token from the bucket of key
func (rl *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	return rl.take(ctx, key, 1)
}

func (rl *RedisLimiter) take(ctx context.Context, key string, n int) (Result, error) {
	now := rl.now()
	bucket := rl.config.BucketFor(key)
	capacity := bucket.Capacity

	raw, err := tokenBucketScript.Run(
		ctx,
		rl.client,
		[]string{rl.redisKey(key)},
		float64(now.UnixNano())/1e9,
		bucket.Rate,
		capacity,
		n,
	).Result()
	if err != nil {
		if rl.config.FailOpen {
			rl.logger.Warn("rate limiter unavailable, allowing request", zap.String("key", key), zap.Error(err))
			return Result{Allowed: true, Remaining: capacity, ResetTime: now.Add(rl.config.Window), Limit: capacity}, nil
		}
		return Result{Limit: capacity}, fmt.Errorf("rate limit check failed: %w", err)
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 3 {
		return Result{Limit: capacity}, fmt.Errorf("invalid script result %v", raw)
	}
	allowed, _ := values[0].(int64)
	remaining, _ := values[1].(int64)
	retryAfter, _ := values[2].(int64)

	resetTime := now.Add(rl.config.Window)
	if retryAfter > 0 {
		resetTime = now.Add(time.Duration(retryAfter) * time.Second)
	}

	return Result{
		Allowed:   allowed == 1,
		Remaining: int(remaining),
		ResetTime: resetTime,
		Limit:     capacity,
	}, nil
}

// Reset clears the rate limit for a key
func (rl *RedisLimiter) Reset(ctx context.Context, key string) error {
	return rl.client.Del(ctx, rl.redisKey(key)).Err()
}

func (rl *RedisLimiter) redisKey(key string) string {
	return fmt.Sprintf("%s:%s", rl.config.KeyPrefix, key)
}
