package cache

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNilCache      = errors.New("cache: cache is nil")
	ErrInvalidKey    = errors.New("cache: key is invalid")
	ErrKeyTooLong    = errors.New("cache: key exceeds max length")
	ErrEntryTooLarge = errors.New("cache: response exceeds max entry size")
)

// Cache holds encoded responses by storage key.
//
// Get never fails: a store that cannot be reached reports a miss, and the
// caller goes to the registry instead. An entry is served only while
// now - storedAt < ttl. Implementations are safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores value for ttl. A ttl of zero stores nothing.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
