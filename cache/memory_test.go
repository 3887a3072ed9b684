package cache

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryCache_GetSetDelete(t *testing.T) {
	cache := NewMemoryCache(MemoryConfig{})
	ctx := context.Background()

	// Test Get on empty cache
	val, ok := cache.Get(ctx, "nonexistent")
	if ok {
		t.Error("Get on empty cache should return ok=false")
	}
	if val != nil {
		t.Error("Get on empty cache should return nil value")
	}

	key := "idem:Patient:abc"
	value := []byte(`{"resourceType":"Patient","id":"p1"}`)
	if err := cache.Set(ctx, key, value, 5*time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, ok := cache.Get(ctx, key)
	if !ok {
		t.Error("Get after Set should return ok=true")
	}
	if !bytes.Equal(got, value) {
		t.Errorf("Get returned %q, want %q", got, value)
	}

	if err := cache.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok := cache.Get(ctx, key); ok {
		t.Error("Get after Delete should return ok=false")
	}

	// Delete is idempotent
	if err := cache.Delete(ctx, "nonexistent"); err != nil {
		t.Errorf("Delete on non-existent key should not error, got: %v", err)
	}
}

func TestMemoryCache_ZeroTTLNotStored(t *testing.T) {
	cache := NewMemoryCache(MemoryConfig{})
	ctx := context.Background()

	if err := cache.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, ok := cache.Get(ctx, "k"); ok {
		t.Error("zero TTL should not store")
	}
	if cache.Len() != 0 {
		t.Errorf("Len() = %d, want 0", cache.Len())
	}
}

func TestMemoryCache_Expiry(t *testing.T) {
	clock := newFakeClock()
	cache := NewMemoryCache(MemoryConfig{Now: clock.Now})
	ctx := context.Background()

	_ = cache.Set(ctx, "k", []byte("v"), time.Minute)

	clock.Advance(time.Minute - time.Nanosecond)
	if _, ok := cache.Get(ctx, "k"); !ok {
		t.Error("entry should be served before ttl elapses")
	}

	// now - storedAt == ttl is already stale
	clock.Advance(time.Nanosecond)
	if _, ok := cache.Get(ctx, "k"); ok {
		t.Error("entry should expire once ttl has elapsed")
	}
	if cache.Len() != 0 {
		t.Errorf("expired entry should be evicted on Get, Len() = %d", cache.Len())
	}
}

func TestMemoryCache_SetSweepsExpired(t *testing.T) {
	clock := newFakeClock()
	cache := NewMemoryCache(MemoryConfig{Now: clock.Now})
	ctx := context.Background()

	_ = cache.Set(ctx, "short-1", []byte("1"), time.Second)
	_ = cache.Set(ctx, "short-2", []byte("2"), time.Second)
	_ = cache.Set(ctx, "long", []byte("3"), time.Hour)

	clock.Advance(2 * time.Second)
	_ = cache.Set(ctx, "fresh", []byte("4"), time.Hour)

	if cache.Len() != 2 {
		t.Errorf("Len() after sweep = %d, want 2", cache.Len())
	}
	if _, ok := cache.Get(ctx, "long"); !ok {
		t.Error("unexpired entry should survive the sweep")
	}
}

func TestMemoryCache_MaxEntriesEvictsLeastRecentlyUsed(t *testing.T) {
	cache := NewMemoryCache(MemoryConfig{MaxEntries: 2})
	ctx := context.Background()

	_ = cache.Set(ctx, "a", []byte("a"), time.Hour)
	_ = cache.Set(ctx, "b", []byte("b"), time.Hour)

	// Touch a so b becomes the oldest.
	_, _ = cache.Get(ctx, "a")
	_ = cache.Set(ctx, "c", []byte("c"), time.Hour)

	if _, ok := cache.Get(ctx, "b"); ok {
		t.Error("least recently used entry should be evicted")
	}
	for _, k := range []string{"a", "c"} {
		if _, ok := cache.Get(ctx, k); !ok {
			t.Errorf("entry %q should still be present", k)
		}
	}
}

func TestMemoryCache_StoresCopy(t *testing.T) {
	cache := NewMemoryCache(MemoryConfig{})
	ctx := context.Background()

	value := []byte("original")
	_ = cache.Set(ctx, "k", value, time.Hour)
	copy(value, "mutated!")

	got, _ := cache.Get(ctx, "k")
	if string(got) != "original" {
		t.Errorf("Get() = %q, want %q", got, "original")
	}

	copy(got, "mutated!")
	again, _ := cache.Get(ctx, "k")
	if string(again) != "original" {
		t.Errorf("Get() after mutating a returned value = %q, want %q", again, "original")
	}
}

func TestMemoryCache_Concurrency(t *testing.T) {
	cache := NewMemoryCache(MemoryConfig{MaxEntries: 64})
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k-%d-%d", g, i%16)
				_ = cache.Set(ctx, key, []byte("v"), time.Minute)
				_, _ = cache.Get(ctx, key)
				if i%10 == 0 {
					_ = cache.Delete(ctx, key)
				}
			}
		}(g)
	}
	wg.Wait()

	if cache.Len() > 64 {
		t.Errorf("Len() = %d, exceeds MaxEntries", cache.Len())
	}
}
