// Package cache stores completed registry responses under caller-supplied
// idempotency keys.
//
// It provides a Cache interface with a bounded in-memory implementation and
// a Redis implementation for stores shared between processes, namespaced
// SHA-256 key derivation, and a TTL policy (24 hours by default).
// Idempotency ties them together: lookup before a call, store after a
// successful one.
package cache
