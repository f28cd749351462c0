package cache

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func miniredisConfig(t *testing.T, s *miniredis.Miniredis, prefix string) *RedisConfig {
	t.Helper()
	port, err := strconv.Atoi(s.Port())
	require.NoError(t, err)

	cfg := DefaultRedisConfig()
	cfg.Host = s.Host()
	cfg.Port = port
	cfg.KeyPrefix = prefix
	return cfg
}

// setupMiniredisTest creates a Redis cache backed by miniredis
func setupMiniredisTest(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	s := miniredis.RunT(t)
	cfg := miniredisConfig(t, s, "test:")

	client := redis.NewClient(&redis.Options{
		Addr:             s.Addr(),
		DisableIndentity: true,
	})
	cache := NewRedisCacheWithClient(client, cfg, zap.NewNop())
	t.Cleanup(func() { _ = cache.Close() })

	return cache, s
}

func TestNewRedisCache(t *testing.T) {
	s := miniredis.RunT(t)

	cache, err := NewRedisCache(miniredisConfig(t, s, "abac:"), zap.NewNop())
	require.NoError(t, err)
	defer cache.Close()

	cache.Set(context.Background(), "k", []byte("v"))
	assert.True(t, s.Exists("abac:k"))
}

func TestNewRedisCache_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		config *RedisConfig
	}{
		{"missing host", &RedisConfig{Port: 6379, PoolSize: 1, TTL: time.Second}},
		{"invalid port", &RedisConfig{Host: "localhost", Port: 99999, PoolSize: 1, TTL: time.Second}},
		{"zero pool", &RedisConfig{Host: "localhost", Port: 6379, TTL: time.Second}},
		{"zero ttl", &RedisConfig{Host: "localhost", Port: 6379, PoolSize: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRedisCache(tt.config, nil)
			require.Error(t, err)
			assert.Equal(t, CodeInvalidConfig, errorCode(err))
		})
	}
}

func TestNewRedisCache_Unreachable(t *testing.T) {
	s := miniredis.RunT(t)
	cfg := miniredisConfig(t, s, "abac:")
	s.Close()

	cfg.DialTimeout = 100 * time.Millisecond
	_, err := NewRedisCache(cfg, nil)
	require.Error(t, err)
	assert.Equal(t, CodeUnavailable, errorCode(err))
}

func TestRedisCache_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	cache, s := setupMiniredisTest(t)

	_, ok := cache.Get(ctx, "missing")
	assert.False(t, ok)

	cache.Set(ctx, "decision", []byte(`{"decision":"DENY"}`))
	assert.True(t, s.Exists("test:decision"))

	v, ok := cache.Get(ctx, "decision")
	require.True(t, ok)
	assert.JSONEq(t, `{"decision":"DENY"}`, string(v))

	cache.Delete(ctx, "decision")
	_, ok = cache.Get(ctx, "decision")
	assert.False(t, ok)

	stats := cache.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(2), stats.Misses)
	assert.Equal(t, uint64(0), stats.Errors)
}

func TestRedisCache_TTL(t *testing.T) {
	ctx := context.Background()
	cache, s := setupMiniredisTest(t)

	cache.Set(ctx, "k", []byte("v"))
	assert.Equal(t, 5*time.Minute, cache.TTL(ctx, "k"))

	s.FastForward(6 * time.Minute)
	_, ok := cache.Get(ctx, "k")
	assert.False(t, ok)
}

func TestRedisCache_ClearOnlyTouchesPrefix(t *testing.T) {
	ctx := context.Background()
	cache, s := setupMiniredisTest(t)

	require.NoError(t, s.Set("other:key", "keep"))
	cache.Set(ctx, "a", []byte("1"))
	cache.Set(ctx, "b", []byte("2"))

	cache.Clear(ctx)

	assert.False(t, s.Exists("test:a"))
	assert.False(t, s.Exists("test:b"))
	assert.True(t, s.Exists("other:key"))
}

func TestRedisCache_ErrorsBecomeMisses(t *testing.T) {
	ctx := context.Background()
	client, mock := redismock.NewClientMock()
	cfg := DefaultRedisConfig()
	cache := NewRedisCacheWithClient(client, cfg, nil)

	mock.ExpectGet(cfg.KeyPrefix + "k").SetErr(errors.New("connection reset"))
	_, ok := cache.Get(ctx, "k")
	assert.False(t, ok)

	mock.ExpectSet(cfg.KeyPrefix+"k", []byte("v"), cfg.TTL).SetErr(errors.New("readonly replica"))
	cache.Set(ctx, "k", []byte("v"))

	mock.ExpectGet(cfg.KeyPrefix + "absent").RedisNil()
	_, ok = cache.Get(ctx, "absent")
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, uint64(2), atomic.LoadUint64(&cache.errors))
	assert.Equal(t, uint64(2), atomic.LoadUint64(&cache.misses))
}

func TestHybridCache_PromotesFromL2(t *testing.T) {
	ctx := context.Background()
	l2, _ := setupMiniredisTest(t)
	hybrid := newHybrid(NewLRU(10, time.Minute), l2)

	l2.Set(ctx, "shared", []byte("from-replica"))

	v, ok := hybrid.Get(ctx, "shared")
	require.True(t, ok)
	assert.Equal(t, []byte("from-replica"), v)

	// second read is served by L1
	_, ok = hybrid.Get(ctx, "shared")
	require.True(t, ok)

	assert.Equal(t, Levels{L1Hits: 1, L2Hits: 1, L2Enabled: true}, hybrid.Levels())
	assert.Equal(t, uint64(2), hybrid.Stats().Hits)
}

func TestHybridCache_WriteThroughAndClear(t *testing.T) {
	ctx := context.Background()
	l2, s := setupMiniredisTest(t)
	hybrid := newHybrid(NewLRU(10, time.Minute), l2)

	hybrid.Set(ctx, "k", []byte("v"))
	assert.True(t, s.Exists("test:k"))

	hybrid.Delete(ctx, "k")
	assert.False(t, s.Exists("test:k"))

	hybrid.Set(ctx, "a", []byte("1"))
	hybrid.Clear(ctx)
	_, ok := hybrid.Get(ctx, "a")
	assert.False(t, ok)
	assert.Equal(t, uint64(1), hybrid.Stats().Misses)
}

func TestHybridCache_NoRedis(t *testing.T) {
	s := miniredis.RunT(t)
	cfg := miniredisConfig(t, s, "abac:")
	s.Close()
	cfg.DialTimeout = 100 * time.Millisecond

	hybrid := NewHybridCache(HybridConfig{
		L1Capacity: 10,
		L1TTL:      time.Minute,
		Redis:      cfg,
	}, zap.NewNop())
	defer hybrid.Close()

	assert.False(t, hybrid.Levels().L2Enabled)

	ctx := context.Background()
	hybrid.Set(ctx, "k", []byte("v"))
	v, ok := hybrid.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), v)
}

func BenchmarkRedisCacheGet(b *testing.B) {
	s := miniredis.RunT(b)
	client := redis.NewClient(&redis.Options{Addr: s.Addr(), DisableIndentity: true})
	cache := NewRedisCacheWithClient(client, DefaultRedisConfig(), nil)
	defer cache.Close()

	ctx := context.Background()
	cache.Set(ctx, "bench", []byte(`{"decision":"ALLOW"}`))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cache.Get(ctx, "bench")
	}
}
