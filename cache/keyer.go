package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"
)

// MaxKeyLength is the longest idempotency key accepted.
const MaxKeyLength = 512

// ValidateKey rejects idempotency keys that are blank, longer than
// MaxKeyLength or contain control characters. Such keys are not sent to
// the server either.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	if strings.IndexFunc(key, unicode.IsControl) >= 0 {
		return ErrInvalidKey
	}
	return nil
}

// Keyer derives storage keys from an endpoint and an idempotency key.
//
// Contract:
//   - Determinism: same inputs must produce same key.
//   - Isolation: the same idempotency key on different endpoints must not
//     collide.
//   - Concurrency: implementations must be safe for concurrent use.
type Keyer interface {
	// Key generates a storage key.
	Key(endpoint, idempotencyKey string) (string, error)
}

// DefaultKeyer generates SHA-256 based keys.
type DefaultKeyer struct {
	// Prefix namespaces keys in shared stores.
	// Default: "idem"
	Prefix string
}

// NewDefaultKeyer creates a new default keyer.
func NewDefaultKeyer() *DefaultKeyer {
	return &DefaultKeyer{Prefix: "idem"}
}

// Key generates a deterministic storage key.
// Format: <prefix>:<endpoint>:<hash>
// where hash is the hex SHA-256 of the idempotency key, so arbitrary
// caller input never reaches the store verbatim.
func (k *DefaultKeyer) Key(endpoint, idempotencyKey string) (string, error) {
	if err := ValidateKey(idempotencyKey); err != nil {
		return "", err
	}

	prefix := k.Prefix
	if prefix == "" {
		prefix = "idem"
	}

	hash := sha256.Sum256([]byte(idempotencyKey))
	return fmt.Sprintf("%s:%s:%s", prefix, endpoint, hex.EncodeToString(hash[:])), nil
}

// Ensure DefaultKeyer implements Keyer
var _ Keyer = (*DefaultKeyer)(nil)
