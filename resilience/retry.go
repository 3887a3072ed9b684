package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// RetryConfig configures the retry behavior.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	// Default: 3
	MaxAttempts int

	// BaseDelay is the delay before the first retry.
	// Default: 100ms
	BaseDelay time.Duration

	// MaxDelay caps the backoff delay between retries.
	// Default: 30s
	MaxDelay time.Duration

	// Multiplier is the exponential backoff base.
	// Default: 2.0
	Multiplier float64

	// Jitter scales each delay by a random factor in [0.5, 1.0].
	// Default: false
	Jitter bool

	// MaxElapsed bounds the total time spent across attempts and delays.
	// Default: 5 minutes
	MaxElapsed time.Duration

	// RetryIf determines if an error should trigger a retry.
	// Default: Retryable
	RetryIf func(err error) bool

	// OnRetry is called before each retry delay.
	OnRetry func(attempt int, err error, delay time.Duration)

	// Rand returns a float in [0, 1) for jitter.
	// Default: math/rand/v2 Float64
	Rand func() float64

	// Now returns the current time.
	// Default: time.Now
	Now func() time.Time

	// Sleep waits for d or until ctx is done.
	// Default: a timer-based wait
	Sleep func(ctx context.Context, d time.Duration) error
}

// Retry implements retry with exponential backoff.
type Retry struct {
	config RetryConfig
}

// NewRetry creates a new retry handler.
func NewRetry(config RetryConfig) *Retry {
	// Apply defaults
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	if config.MaxElapsed <= 0 {
		config.MaxElapsed = 5 * time.Minute
	}
	if config.RetryIf == nil {
		config.RetryIf = Retryable
	}
	if config.Rand == nil {
		// #nosec G404 -- jitter is non-cryptographic timing variance.
		config.Rand = rand.Float64
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Sleep == nil {
		config.Sleep = sleepContext
	}

	return &Retry{config: config}
}

// Decide reports whether a call that failed with err on the given attempt
// (1-based) should be retried, and how long to wait first. elapsed is the
// time spent on the call so far.
//
// A server-provided Retry-After on the error replaces the computed backoff.
func (r *Retry) Decide(err error, attempt int, elapsed time.Duration) (bool, time.Duration) {
	if err == nil || !r.config.RetryIf(err) {
		return false, 0
	}
	if attempt >= r.config.MaxAttempts {
		return false, 0
	}

	delay := RetryAfterOf(err)
	if delay <= 0 {
		delay = r.Backoff(attempt)
	}

	if elapsed+delay > r.config.MaxElapsed {
		return false, 0
	}
	return true, delay
}

// Backoff returns the delay after the given failed attempt:
// min(MaxDelay, BaseDelay * Multiplier^(attempt-1)), jittered when enabled.
func (r *Retry) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	multiplier := math.Pow(r.config.Multiplier, float64(attempt-1))
	raw := float64(r.config.BaseDelay) * multiplier

	// Cap at max delay
	if raw > float64(r.config.MaxDelay) || math.IsInf(raw, 0) {
		raw = float64(r.config.MaxDelay)
	}

	if r.config.Jitter {
		raw *= 0.5 + 0.5*r.config.Rand()
	}
	return time.Duration(raw)
}

// Execute runs the operation with retry logic.
func (r *Retry) Execute(ctx context.Context, op func(context.Context) error) error {
	_, err := r.Run(ctx, func(ctx context.Context, _ int) error {
		return op(ctx)
	})
	return err
}

// Run runs op until it succeeds, Decide declines another attempt, or ctx is
// done. op receives the 1-based attempt number. Run returns the number of
// attempts made.
//
// Cancellation of ctx ends the loop with a KindCancelled error, or
// KindTimeout if ctx hit its deadline; neither is retried.
func (r *Retry) Run(ctx context.Context, op func(ctx context.Context, attempt int) error) (int, error) {
	start := r.config.Now()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, aborted(err)
		}

		err := op(ctx, attempt)
		if err == nil {
			return attempt, nil
		}

		// The caller gave up; the failure is not the remote side's.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempt, aborted(ctxErr)
		}

		retry, delay := r.Decide(err, attempt, r.config.Now().Sub(start))
		if !retry {
			return attempt, err
		}

		// Callback before retry
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		if err := r.config.Sleep(ctx, delay); err != nil {
			return attempt, aborted(err)
		}
	}
}

// Config returns the retry configuration.
func (r *Retry) Config() RetryConfig {
	return r.config
}

func aborted(ctxErr error) error {
	return NewError(KindOf(ctxErr), "call aborted", ctxErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
