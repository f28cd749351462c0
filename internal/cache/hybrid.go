package cache

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// HybridCache keeps hot decisions in a process-local LRU (L1) in front of
// the Redis cache shared by every replica (L2). Writes go to both levels;
// L2 hits are copied into L1.
type HybridCache struct {
	l1 *LRU
	// nil when Redis was unreachable at startup
	l2 *RedisCache

	l1Hits atomic.Uint64
	l2Hits atomic.Uint64
	misses atomic.Uint64
}

// HybridConfig sizes the L1 level and locates the L2 level. A nil Redis
// runs the cache on L1 alone.
type HybridConfig struct {
	L1Capacity int
	L1TTL      time.Duration
	Redis      *RedisConfig
}

// Levels reports where lookups were served
type Levels struct {
	L1Hits    uint64 `json:"l1Hits"`
	L2Hits    uint64 `json:"l2Hits"`
	Misses    uint64 `json:"misses"`
	L2Enabled bool   `json:"l2Enabled"`
}

// NewHybridCache creates a hybrid cache. An unreachable Redis is logged and
// the cache degrades to L1 instead of failing startup.
func NewHybridCache(cfg HybridConfig, logger *zap.Logger) *HybridCache {
	if logger == nil {
		logger = zap.NewNop()
	}

	var l2 *RedisCache
	if cfg.Redis != nil {
		var err error
		if l2, err = NewRedisCache(cfg.Redis, logger); err != nil {
			logger.Warn("Redis decision cache unavailable, caching in process only", zap.Error(err))
			l2 = nil
		}
	}
	return newHybrid(NewLRU(cfg.L1Capacity, cfg.L1TTL), l2)
}

func newHybrid(l1 *LRU, l2 *RedisCache) *HybridCache {
	return &HybridCache{l1: l1, l2: l2}
}

// Get checks L1 then L2
func (c *HybridCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if value, ok := c.l1.Get(ctx, key); ok {
		c.l1Hits.Add(1)
		return value, true
	}
	if c.l2 != nil {
		if value, ok := c.l2.Get(ctx, key); ok {
			c.l1.Set(ctx, key, value)
			c.l2Hits.Add(1)
			return value, true
		}
	}
	c.misses.Add(1)
	return nil, false
}

func (c *HybridCache) Set(ctx context.Context, key string, value []byte) {
	c.l1.Set(ctx, key, value)
	if c.l2 != nil {
		c.l2.Set(ctx, key, value)
	}
}

func (c *HybridCache) Delete(ctx context.Context, key string) {
	c.l1.Delete(ctx, key)
	if c.l2 != nil {
		c.l2.Delete(ctx, key)
	}
}

// Clear empties both levels. Other replicas drop their L1 entries on their
// own policy change.
func (c *HybridCache) Clear(ctx context.Context) {
	c.l1.Clear(ctx)
	if c.l2 != nil {
		c.l2.Clear(ctx)
	}
}

// Stats combines both levels; Size counts L1 entries and Errors counts
// Redis failures
func (c *HybridCache) Stats() Stats {
	var errs uint64
	if c.l2 != nil {
		errs = atomic.LoadUint64(&c.l2.errors)
	}
	hits := c.l1Hits.Load() + c.l2Hits.Load()
	return newStats(c.l1.Stats().Size, hits, c.misses.Load(), errs)
}

// Levels returns per-level counters
func (c *HybridCache) Levels() Levels {
	return Levels{
		L1Hits:    c.l1Hits.Load(),
		L2Hits:    c.l2Hits.Load(),
		Misses:    c.misses.Load(),
		L2Enabled: c.l2 != nil,
	}
}

// Close releases the Redis connection
func (c *HybridCache) Close() error {
	if c.l2 != nil {
		return c.l2.Close()
	}
	return nil
}
