package cache_test

import (
	"context"
	"fmt"
	"time"

	"github.com/jonwraymond/registrylink/cache"
)

func ExampleNewMemoryCache() {
	c := cache.NewMemoryCache(cache.MemoryConfig{MaxEntries: 1000})
	ctx := context.Background()

	_ = c.Set(ctx, "idem:Patient:4f1c", []byte(`{"status":201}`), 5*time.Minute)

	value, ok := c.Get(ctx, "idem:Patient:4f1c")
	if ok {
		fmt.Println("Stored:", string(value))
	}
	// Output:
	// Stored: {"status":201}
}

func ExampleDefaultPolicy() {
	policy := cache.DefaultPolicy()

	fmt.Println("TTL:", policy.TTL)
	fmt.Println("Stores a 2 MiB bundle:", policy.Admits(2<<20))
	// Output:
	// TTL: 24h0m0s
	// Stores a 2 MiB bundle: false
}

func ExampleIdempotency_Execute() {
	idem, _ := cache.NewIdempotency(
		cache.NewMemoryCache(cache.MemoryConfig{}),
		cache.NewDefaultKeyer(),
		cache.DefaultPolicy(),
	)
	ctx := context.Background()

	create := func(context.Context) ([]byte, error) {
		return []byte(`{"id":"p1"}`), nil
	}

	_, replayed, _ := idem.Execute(ctx, "Patient", "create-p1", create)
	fmt.Println("First replayed:", replayed)

	result, replayed, _ := idem.Execute(ctx, "Patient", "create-p1", create)
	fmt.Println("Second replayed:", replayed)
	fmt.Println("Result:", string(result))
	// Output:
	// First replayed: false
	// Second replayed: true
	// Result: {"id":"p1"}
}
