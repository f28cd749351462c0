package cache

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisCache implements Cache using Redis as a distributed decision cache
type RedisCache struct {
	client redis.UniversalClient
	config *RedisConfig
	logger *zap.Logger

	hits   uint64
	misses uint64
	errors uint64
}

// NewRedisCache connects to Redis and verifies the connection
func NewRedisCache(config *RedisConfig, logger *zap.Logger) (*RedisCache, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(config.Host, strconv.Itoa(config.Port))
	client := redis.NewClient(&redis.Options{
		Addr:             addr,
		Password:         config.Password,
		DB:               config.DB,
		PoolSize:         config.PoolSize,
		PoolTimeout:      config.PoolTimeout,
		ConnMaxIdleTime:  config.ConnMaxIdleTime,
		ReadTimeout:      config.ReadTimeout,
		WriteTimeout:     config.WriteTimeout,
		DialTimeout:      config.DialTimeout,
		DisableIndentity: true,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errUnavailable(addr, err)
	}

	return NewRedisCacheWithClient(client, config, logger), nil
}

// NewRedisCacheWithClient wraps an existing client
func NewRedisCacheWithClient(client redis.UniversalClient, config *RedisConfig, logger *zap.Logger) *RedisCache {
	if config == nil {
		config = DefaultRedisConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCache{
		client: client,
		config: config,
		logger: logger.Named("redis-cache"),
	}
}

func (c *RedisCache) key(key string) string {
	return c.config.KeyPrefix + key
}

// Get retrieves a value from the cache. Redis errors count as misses.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		atomic.AddUint64(&c.misses, 1)
		if !errors.Is(err, redis.Nil) {
			atomic.AddUint64(&c.errors, 1)
			c.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	atomic.AddUint64(&c.hits, 1)
	return data, true
}

// Set stores a value with the configured TTL
func (c *RedisCache) Set(ctx context.Context, key string, value []byte) {
	if err := c.client.Set(ctx, c.key(key), value, c.config.TTL).Err(); err != nil {
		atomic.AddUint64(&c.errors, 1)
		c.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// Delete removes a key from the cache
func (c *RedisCache) Delete(ctx context.Context, key string) {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		atomic.AddUint64(&c.errors, 1)
		c.logger.Warn("cache delete failed", zap.String("key", key), zap.Error(err))
	}
}

// Clear removes all entries matching the key prefix
func (c *RedisCache) Clear(ctx context.Context) {
	iter := c.client.Scan(ctx, 0, c.config.KeyPrefix+"*", 100).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		atomic.AddUint64(&c.errors, 1)
		c.logger.Warn("cache scan failed", zap.Error(err))
		return
	}

	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			atomic.AddUint64(&c.errors, 1)
			c.logger.Warn("cache clear failed", zap.Error(err))
		}
	}
}

// Stats returns cache statistics. Size is the whole Redis DB size.
func (c *RedisCache) Stats() Stats {
	size := 0
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if dbSize, err := c.client.DBSize(ctx).Result(); err == nil {
		size = int(dbSize)
	}
	return newStats(size,
		atomic.LoadUint64(&c.hits),
		atomic.LoadUint64(&c.misses),
		atomic.LoadUint64(&c.errors))
}

// TTL returns the remaining TTL for a key, or -1 when unknown
func (c *RedisCache) TTL(ctx context.Context, key string) time.Duration {
	ttl, err := c.client.TTL(ctx, c.key(key)).Result()
	if err != nil {
		return -1
	}
	return ttl
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}
