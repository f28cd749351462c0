package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func errorCode(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := oopsErr.Code().(string)
	return code
}

func TestLRU_SetGet(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(10, time.Minute)

	_, ok := c.Get(ctx, "missing")
	assert.False(t, ok)

	c.Set(ctx, "k", []byte("v"))
	v, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	c.Set(ctx, "k", []byte("v2"))
	v, _ = c.Get(ctx, "k")
	assert.Equal(t, []byte("v2"), v)

	stats := c.Stats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 0.0001)
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(2, time.Minute)

	c.Set(ctx, "a", []byte("1"))
	c.Set(ctx, "b", []byte("2"))
	_, _ = c.Get(ctx, "a")
	c.Set(ctx, "c", []byte("3"))

	_, ok := c.Get(ctx, "b")
	assert.False(t, ok, "b should have been evicted")
	_, ok = c.Get(ctx, "a")
	assert.True(t, ok)
	_, ok = c.Get(ctx, "c")
	assert.True(t, ok)
}

func TestLRU_Expiry(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(10, 10*time.Millisecond)

	c.Set(ctx, "a", []byte("1"))
	c.Set(ctx, "b", []byte("2"))
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 2, c.Cleanup())
	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)
}

func TestLRU_DeleteAndClear(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(10, time.Minute)

	c.Set(ctx, "a", []byte("1"))
	c.Set(ctx, "b", []byte("2"))
	c.Delete(ctx, "a")
	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)

	c.Clear(ctx)
	assert.Equal(t, 0, c.Stats().Size)
	assert.NoError(t, c.Close())
}

func TestLRU_Concurrency(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(100, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("k-%d-%d", id, j%20)
				c.Set(ctx, key, []byte(key))
				_, _ = c.Get(ctx, key)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Stats().Size, 100)
}

func TestNew(t *testing.T) {
	c, err := New(Config{Type: TypeNone}, nil)
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = New(Config{Type: TypeLRU, Capacity: 5, TTL: time.Second}, nil)
	require.NoError(t, err)
	assert.IsType(t, &LRU{}, c)

	_, err = New(Config{Type: "memcached"}, nil)
	require.Error(t, err)
	assert.Equal(t, CodeInvalidConfig, errorCode(err))
}
