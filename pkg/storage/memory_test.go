package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_GetSetDel(t *testing.T) {
	cache := NewMemoryCache(10, time.Hour)
	ctx := context.Background()

	_, ok, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, "k", "v", time.Minute))
	v, ok, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	require.NoError(t, cache.Del(ctx, "k"))
	_, ok, _ = cache.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryCache_PerEntryExpiry(t *testing.T) {
	cache := NewMemoryCache(10, time.Hour)
	now := time.Now()
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "short", "v", time.Minute))
	require.NoError(t, cache.Set(ctx, "long", "v", 0))

	now = now.Add(2 * time.Minute)

	_, ok, _ := cache.Get(ctx, "short")
	assert.False(t, ok)
	_, ok, _ = cache.Get(ctx, "long")
	assert.True(t, ok)
	assert.Equal(t, 1, cache.Len())
}

func TestMemoryCache_Eviction(t *testing.T) {
	cache := NewMemoryCache(2, time.Hour)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "a", "1", 0))
	require.NoError(t, cache.Set(ctx, "b", "2", 0))
	require.NoError(t, cache.Set(ctx, "c", "3", 0))

	_, ok, _ := cache.Get(ctx, "a")
	assert.False(t, ok)
	assert.Equal(t, 2, cache.Len())
}
