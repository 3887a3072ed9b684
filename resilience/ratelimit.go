package resilience

import (
	"context"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimiterConfig configures the rate limiter.
type RateLimiterConfig struct {
	// Limit is the number of requests allowed per Window. It is the base
	// limit that server hints may lower.
	// Default: 100
	Limit int

	// Window is the period Limit applies to.
	// Default: 1 minute
	Window time.Duration

	// Burst is the bucket capacity.
	// Default: Limit
	Burst int

	// Adaptive enables UpdateFromServerHint.
	// Default: false
	Adaptive bool

	// MaxWait caps a single sleep inside WaitForToken. Values above one
	// second are clamped.
	// Default: 1 second
	MaxWait time.Duration

	// Now returns the current time.
	// Default: time.Now
	Now func() time.Time
}

// minLimitFactor is the floor applied to server hints, relative to the base limit.
const minLimitFactor = 0.5

// RateLimiter is an adaptive token bucket.
//
// Tokens refill at CurrentLimit/Window per second and never exceed Burst.
// The bucket starts full.
type RateLimiter struct {
	config RateLimiterConfig

	mu              sync.Mutex
	tokens          float64
	currentLimit    float64
	lastRefill      time.Time
	serverRemaining int
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	// Apply defaults
	if config.Limit <= 0 {
		config.Limit = 100
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	if config.Burst <= 0 {
		config.Burst = config.Limit
	}
	if config.MaxWait <= 0 || config.MaxWait > time.Second {
		config.MaxWait = time.Second
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &RateLimiter{
		config:          config,
		tokens:          float64(config.Burst),
		currentLimit:    float64(config.Limit),
		lastRefill:      config.Now(),
		serverRemaining: -1,
	}
}

// Allow reports whether a single request may proceed now.
func (rl *RateLimiter) Allow() bool {
	return rl.Acquire(1)
}

// Acquire deducts n tokens if at least n are available. A failed Acquire
// leaves the bucket untouched.
func (rl *RateLimiter) Acquire(n int) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillLocked()

	if rl.tokens >= float64(n) {
		rl.tokens -= float64(n)
		return true
	}

	return false
}

// WaitForToken blocks until n tokens were acquired or ctx is done, and
// returns how long it waited.
func (rl *RateLimiter) WaitForToken(ctx context.Context, n int) (time.Duration, error) {
	if n > rl.config.Burst {
		return 0, &Error{
			Kind:    KindRateLimited,
			Message: "requested " + strconv.Itoa(n) + " tokens exceeds burst " + strconv.Itoa(rl.config.Burst),
		}
	}

	start := rl.config.Now()
	for {
		// Check context first
		if err := ctx.Err(); err != nil {
			return rl.config.Now().Sub(start), NewError(KindOf(err), "waiting for rate limit token", err)
		}

		if rl.Acquire(n) {
			return rl.config.Now().Sub(start), nil
		}

		timer := time.NewTimer(rl.waitInterval(n))
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}
}

// waitInterval estimates how long until n tokens are available, capped at MaxWait.
func (rl *RateLimiter) waitInterval(n int) time.Duration {
	rl.mu.Lock()
	needed := float64(n) - rl.tokens
	rate := rl.rateLocked()
	rl.mu.Unlock()

	wait := time.Duration(needed / rate * float64(time.Second))
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	if wait > rl.config.MaxWait {
		wait = rl.config.MaxWait
	}
	return wait
}

// Execute runs op once a token is available. With wait false it fails fast
// with KindRateLimited instead of waiting.
func (rl *RateLimiter) Execute(ctx context.Context, wait bool, op func(context.Context) error) error {
	if wait {
		if _, err := rl.WaitForToken(ctx, 1); err != nil {
			return err
		}
	} else if !rl.Allow() {
		return &Error{Kind: KindRateLimited, Message: "no token available"}
	}

	return op(ctx)
}

// UpdateFromServerHint adapts the refill rate to a server-advertised limit
// (the X-RateLimit-Limit header value). The new limit is clamped between
// half the base limit and the base limit, so a hint at or above the base
// restores it. Unparseable hints and non-adaptive limiters are ignored.
// It returns the resulting current limit.
func (rl *RateLimiter) UpdateFromServerHint(value string) float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if !rl.config.Adaptive {
		return rl.currentLimit
	}
	hint, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || hint <= 0 || math.IsInf(hint, 0) || math.IsNaN(hint) {
		return rl.currentLimit
	}

	// Tokens earned so far accrue at the old rate.
	rl.refillLocked()

	base := float64(rl.config.Limit)
	rl.currentLimit = math.Min(base, math.Max(hint, base*minLimitFactor))
	return rl.currentLimit
}

// RecordServerRemaining stores the server-reported remaining quota
// (X-RateLimit-Remaining) for snapshots. Negative values clear it.
func (rl *RateLimiter) RecordServerRemaining(remaining int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if remaining < 0 {
		remaining = -1
	}
	rl.serverRemaining = remaining
}

func (rl *RateLimiter) rateLocked() float64 {
	return rl.currentLimit / rl.config.Window.Seconds()
}

func (rl *RateLimiter) refillLocked() {
	now := rl.config.Now()
	elapsed := now.Sub(rl.lastRefill)
	if elapsed <= 0 {
		return
	}
	rl.lastRefill = now

	// Add tokens based on elapsed time
	rl.tokens += elapsed.Seconds() * rl.rateLocked()

	// Cap at burst size
	if rl.tokens > float64(rl.config.Burst) {
		rl.tokens = float64(rl.config.Burst)
	}
}

// Tokens returns the current number of available tokens.
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refillLocked()
	return rl.tokens
}

// CurrentLimit returns the adapted requests-per-window limit.
func (rl *RateLimiter) CurrentLimit() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.currentLimit
}

// Reset refills the bucket and restores the base limit.
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.tokens = float64(rl.config.Burst)
	rl.currentLimit = float64(rl.config.Limit)
	rl.lastRefill = rl.config.Now()
	rl.serverRemaining = -1
}

// Metrics returns current rate limiter metrics.
func (rl *RateLimiter) Metrics() RateLimiterMetrics {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refillLocked()

	return RateLimiterMetrics{
		BaseLimit:       rl.config.Limit,
		CurrentLimit:    rl.currentLimit,
		Window:          rl.config.Window,
		Burst:           rl.config.Burst,
		Tokens:          rl.tokens,
		ServerRemaining: rl.serverRemaining,
	}
}

// RateLimiterMetrics contains rate limiter statistics.
type RateLimiterMetrics struct {
	BaseLimit    int
	CurrentLimit float64
	Window       time.Duration
	Burst        int
	Tokens       float64
	// ServerRemaining is -1 when the server never reported it.
	ServerRemaining int
}
