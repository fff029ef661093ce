package storage

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryCache implements Cache with an in-process expiring LRU. The LRU's own
// TTL caps every entry; shorter per-entry TTLs are checked on read.
type MemoryCache struct {
	cache      *lru.LRU[string, memoryEntry]
	defaultTTL time.Duration
	now        func() time.Time
}

// NewMemoryCache creates a cache holding at most size entries
func NewMemoryCache(size int, defaultTTL time.Duration) *MemoryCache {
	if size <= 0 {
		size = 10000
	}
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &MemoryCache{
		cache:      lru.NewLRU[string, memoryEntry](size, nil, defaultTTL),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// Get retrieves a value
func (c *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	entry, ok := c.cache.Get(key)
	if !ok {
		return "", false, nil
	}
	if c.now().After(entry.expiresAt) {
		c.cache.Remove(key)
		return "", false, nil
	}
	return entry.value, true, nil
}

// Set stores a value
func (c *MemoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 || ttl > c.defaultTTL {
		ttl = c.defaultTTL
	}
	c.cache.Add(key, memoryEntry{value: value, expiresAt: c.now().Add(ttl)})
	return nil
}

// Del removes a value
func (c *MemoryCache) Del(_ context.Context, key string) error {
	c.cache.Remove(key)
	return nil
}

// Len returns the number of cached entries
func (c *MemoryCache) Len() int {
	return c.cache.Len()
}
