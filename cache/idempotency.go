package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrMissingKey is returned by Execute when no idempotency key is given.
var ErrMissingKey = errors.New("cache: idempotency key is required")

// Idempotency replays completed responses for repeated idempotency keys.
//
// Only successful results are stored. A failed call leaves no entry, so a
// retry with the same key runs again.
type Idempotency struct {
	cache  Cache
	keyer  Keyer
	policy Policy
}

// NewIdempotency creates an idempotency guard over a cache.
// If keyer is nil, NewDefaultKeyer is used.
func NewIdempotency(cache Cache, keyer Keyer, policy Policy) (*Idempotency, error) {
	if cache == nil {
		return nil, ErrNilCache
	}
	if keyer == nil {
		keyer = NewDefaultKeyer()
	}
	return &Idempotency{
		cache:  cache,
		keyer:  keyer,
		policy: policy,
	}, nil
}

// Lookup returns the stored response for key on endpoint, if any.
// Invalid keys and store errors are reported as misses.
func (i *Idempotency) Lookup(ctx context.Context, endpoint, key string) ([]byte, bool) {
	if !i.policy.Enabled() {
		return nil, false
	}
	storageKey, err := i.keyer.Key(endpoint, key)
	if err != nil {
		return nil, false
	}
	return i.cache.Get(ctx, storageKey)
}

// Store records a successful response for key on endpoint. It returns
// ErrEntryTooLarge, and stores nothing, when the policy refuses value's size.
func (i *Idempotency) Store(ctx context.Context, endpoint, key string, value []byte) error {
	if !i.policy.Enabled() {
		return nil
	}
	if !i.policy.Admits(len(value)) {
		return fmt.Errorf("%w: %d bytes", ErrEntryTooLarge, len(value))
	}
	storageKey, err := i.keyer.Key(endpoint, key)
	if err != nil {
		return err
	}
	return i.cache.Set(ctx, storageKey, value, i.policy.TTL)
}

// Forget removes any stored response for key on endpoint.
func (i *Idempotency) Forget(ctx context.Context, endpoint, key string) error {
	storageKey, err := i.keyer.Key(endpoint, key)
	if err != nil {
		return err
	}
	return i.cache.Delete(ctx, storageKey)
}

// TTL returns the retention applied to stored responses.
func (i *Idempotency) TTL() time.Duration {
	return i.policy.TTL
}

// Execute returns the stored response for key, or runs fn and stores its
// result on success. replayed reports whether fn was skipped.
//
// A store failure after a successful fn is not reported: the caller already
// has a valid result.
func (i *Idempotency) Execute(
	ctx context.Context,
	endpoint, key string,
	fn func(ctx context.Context) ([]byte, error),
) (result []byte, replayed bool, err error) {
	if err := ValidateKey(key); err != nil {
		if errors.Is(err, ErrInvalidKey) && key == "" {
			return nil, false, ErrMissingKey
		}
		return nil, false, err
	}

	if cached, ok := i.Lookup(ctx, endpoint, key); ok {
		return cached, true, nil
	}

	result, err = fn(ctx)
	if err != nil {
		return nil, false, err
	}

	_ = i.Store(ctx, endpoint, key, result)
	return result, false, nil
}
