package transport

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Header names read or written by the transport.
const (
	HeaderRequestID          = "X-Request-ID"
	HeaderIdempotencyKey     = "Idempotency-Key"
	HeaderAuthorization      = "Authorization"
	HeaderRetryAfter         = "Retry-After"
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
)

// ContentTypeFHIR is the default Content-Type and Accept value.
const ContentTypeFHIR = "application/fhir+json"

// maxRetryAfter caps server-requested delays.
const maxRetryAfter = time.Hour

// RateLimitHints are the rate-limit headers of a response.
type RateLimitHints struct {
	// Limit is the raw X-RateLimit-Limit value, empty when absent.
	Limit string
	// Remaining is X-RateLimit-Remaining, or -1 when absent or invalid.
	Remaining int
	// ResetAt is X-RateLimit-Reset (unix seconds), zero when absent.
	ResetAt time.Time
}

// Present reports whether any hint was sent.
func (h RateLimitHints) Present() bool {
	return h.Limit != "" || h.Remaining >= 0 || !h.ResetAt.IsZero()
}

// ParseRateLimitHints extracts rate-limit hints from h.
func ParseRateLimitHints(h http.Header) RateLimitHints {
	hints := RateLimitHints{
		Limit:     strings.TrimSpace(h.Get(HeaderRateLimitLimit)),
		Remaining: -1,
	}
	if v := strings.TrimSpace(h.Get(HeaderRateLimitRemaining)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			hints.Remaining = n
		}
	}
	if v := strings.TrimSpace(h.Get(HeaderRateLimitReset)); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil && epoch > 0 {
			hints.ResetAt = time.Unix(epoch, 0)
		}
	}
	return hints
}

// ParseRetryAfter parses a Retry-After value in delay-seconds or HTTP-date
// form relative to now. Invalid, past and zero values yield 0; delays are
// capped at one hour.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	// Try parsing as seconds first
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0
		}
		if seconds >= int(maxRetryAfter/time.Second) {
			return maxRetryAfter
		}
		return time.Duration(seconds) * time.Second
	}

	// Try parsing as HTTP-date
	if t, err := http.ParseTime(value); err == nil {
		if delay := t.Sub(now); delay > 0 {
			return min(delay, maxRetryAfter)
		}
	}

	return 0
}
