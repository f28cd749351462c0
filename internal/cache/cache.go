// Package cache provides decision caches keyed by policy version and context hash
package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Cache stores encoded decisions. Implementations never fail a caller:
// backend errors become misses.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte)
	Delete(ctx context.Context, key string)
	Clear(ctx context.Context)
	Stats() Stats
	Close() error
}

// Stats contains cache statistics
type Stats struct {
	Size    int     `json:"size"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Errors  uint64  `json:"errors"`
	HitRate float64 `json:"hitRate"`
}

func newStats(size int, hits, misses, errors uint64) Stats {
	hitRate := float64(0)
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return Stats{Size: size, Hits: hits, Misses: misses, Errors: errors, HitRate: hitRate}
}

// LRU implements an in-process LRU cache with TTL
type LRU struct {
	capacity int
	ttl      time.Duration

	items map[string]*list.Element
	order *list.List
	mu    sync.Mutex

	hits   uint64
	misses uint64
}

type cacheEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// NewLRU creates a new LRU cache
func NewLRU(capacity int, ttl time.Duration) *LRU {
	if capacity <= 0 {
		capacity = 10000
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &LRU{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get retrieves a value from the cache
func (c *LRU) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*cacheEntry)
		if time.Now().After(entry.expiresAt) {
			c.removeElement(elem)
			atomic.AddUint64(&c.misses, 1)
			return nil, false
		}
		c.order.MoveToFront(elem)
		atomic.AddUint64(&c.hits, 1)
		return entry.value, true
	}

	atomic.AddUint64(&c.misses, 1)
	return nil, false
}

// Set adds or updates a value in the cache
func (c *LRU) Set(_ context.Context, key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		entry.expiresAt = time.Now().Add(c.ttl)
		c.order.MoveToFront(elem)
		return
	}

	for c.order.Len() >= c.capacity {
		c.evictOldest()
	}

	elem := c.order.PushFront(&cacheEntry{
		key:       key,
		value:     value,
		expiresAt: time.Now().Add(c.ttl),
	})
	c.items[key] = elem
}

// Delete removes a key from the cache
func (c *LRU) Delete(_ context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

// Clear removes all entries from the cache
func (c *LRU) Clear(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.order.Init()
}

// Stats returns cache statistics
func (c *LRU) Stats() Stats {
	c.mu.Lock()
	size := c.order.Len()
	c.mu.Unlock()
	return newStats(size, atomic.LoadUint64(&c.hits), atomic.LoadUint64(&c.misses), 0)
}

// Close is a no-op for the in-process cache
func (c *LRU) Close() error { return nil }

func (c *LRU) removeElement(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	delete(c.items, entry.key)
	c.order.Remove(elem)
}

func (c *LRU) evictOldest() {
	if elem := c.order.Back(); elem != nil {
		c.removeElement(elem)
	}
}

// Cleanup removes expired entries and returns how many were dropped
func (c *LRU) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	now := time.Now()
	var next *list.Element
	for elem := c.order.Back(); elem != nil; elem = next {
		next = elem.Prev()
		if now.After(elem.Value.(*cacheEntry).expiresAt) {
			c.removeElement(elem)
			removed++
		}
	}
	return removed
}

// Type selects a cache implementation
type Type string

const (
	TypeNone   Type = "none"
	TypeLRU    Type = "lru"
	TypeRedis  Type = "redis"
	TypeHybrid Type = "hybrid"
)

// Config selects and sizes the decision cache
type Config struct {
	Type     Type
	Capacity int
	TTL      time.Duration
	Redis    *RedisConfig
}

// New builds the cache described by cfg. TypeNone returns nil.
func New(cfg Config, logger *zap.Logger) (Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Type {
	case TypeNone, "":
		return nil, nil
	case TypeLRU:
		return NewLRU(cfg.Capacity, cfg.TTL), nil
	case TypeRedis:
		return NewRedisCache(cfg.Redis, logger)
	case TypeHybrid:
		redisCfg := cfg.Redis
		if redisCfg == nil {
			redisCfg = DefaultRedisConfig()
		}
		return NewHybridCache(HybridConfig{
			L1Capacity: cfg.Capacity,
			L1TTL:      cfg.TTL,
			Redis:      redisCfg,
		}, logger), nil
	default:
		return nil, errInvalidConfig("unknown cache type %q", cfg.Type)
	}
}
