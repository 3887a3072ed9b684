package cache

import "time"

// Policy decides which completed responses are kept and for how long.
type Policy struct {
	// TTL is how long a stored response is replayed. Zero disables storing.
	TTL time.Duration

	// MaxEntryBytes skips responses whose encoding is larger, so one large
	// search bundle cannot crowd a shared store. Zero means no limit.
	MaxEntryBytes int
}

// DefaultPolicy keeps responses up to 1 MiB for 24 hours.
func DefaultPolicy() Policy {
	return Policy{
		TTL:           24 * time.Hour,
		MaxEntryBytes: 1 << 20,
	}
}

// DisabledPolicy stores nothing; keys are still forwarded to the server.
func DisabledPolicy() Policy {
	return Policy{}
}

// Enabled reports whether anything is stored.
func (p Policy) Enabled() bool {
	return p.TTL > 0
}

// Admits reports whether an encoded response of this size may be stored.
func (p Policy) Admits(size int) bool {
	return p.Enabled() && (p.MaxEntryBytes <= 0 || size <= p.MaxEntryBytes)
}
