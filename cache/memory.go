package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// MemoryConfig configures the in-memory cache.
type MemoryConfig struct {
	// MaxEntries bounds the number of stored entries. When full, the least
	// recently used entry is evicted.
	// Default: 10000
	MaxEntries int

	// Now returns the current time.
	// Default: time.Now
	Now func() time.Time
}

// MemoryCache is a bounded in-memory cache. Expired entries are evicted on
// read and swept on every write, all under a single mutex.
type MemoryCache struct {
	now func() time.Time

	mu      sync.Mutex
	entries *simplelru.LRU[string, cacheEntry]
}

type cacheEntry struct {
	value    []byte
	storedAt time.Time
	ttl      time.Duration
}

func (e cacheEntry) expired(now time.Time) bool {
	return now.Sub(e.storedAt) >= e.ttl
}

// NewMemoryCache creates a new in-memory cache.
func NewMemoryCache(config MemoryConfig) *MemoryCache {
	// Apply defaults
	if config.MaxEntries <= 0 {
		config.MaxEntries = 10000
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	// Only errors on a non-positive size.
	entries, _ := simplelru.NewLRU[string, cacheEntry](config.MaxEntries, nil)

	return &MemoryCache{
		now:     config.Now,
		entries: entries,
	}
}

// Get retrieves a value from the cache. Returns (nil, false) on miss or expiry.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}

	// Check expiry
	if entry.expired(c.now()) {
		c.entries.Remove(key)
		return nil, false
	}

	return append([]byte(nil), entry.value...), true
}

// Set stores a value with the given TTL and sweeps expired entries.
// TTL=0 means no caching.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	// TTL=0 means don't cache
	if ttl <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.sweepLocked(now)
	c.entries.Add(key, cacheEntry{
		value:    append([]byte(nil), value...),
		storedAt: now,
		ttl:      ttl,
	})

	return nil
}

func (c *MemoryCache) sweepLocked(now time.Time) {
	for _, key := range c.entries.Keys() {
		// Peek leaves recency untouched.
		if entry, ok := c.entries.Peek(key); ok && entry.expired(now) {
			c.entries.Remove(key)
		}
	}
}

// Delete removes a value from the cache. Idempotent - no error on miss.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	c.entries.Remove(key)
	c.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, including expired ones not yet
// swept.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Ensure MemoryCache implements Cache
var _ Cache = (*MemoryCache)(nil)
