// Package resilience provides the failure-handling primitives used to call a
// remote registry API.
//
// Every logical endpoint gets its own circuit breaker, adaptive rate limiter
// and optional bulkhead, created lazily by an Endpoints registry. Retry
// decides which failures are worth another attempt and how long to wait.
//
// # Patterns
//
//   - Circuit Breaker: fails fast after FailureThreshold failures, admits a
//     single probe once RecoveryTimeout has passed since the last failure,
//     and closes after HalfOpenTrialCount successful probes.
//
//   - Rate Limiter: a token bucket refilled at CurrentLimit/Window that can
//     lower its rate from server-supplied X-RateLimit-Limit hints, never
//     below half the configured limit.
//
//   - Retry: exponential backoff with optional jitter in [0.5, 1.0], honoring
//     server Retry-After, bounded by MaxAttempts and MaxElapsed.
//
//   - Bulkhead: caps in-flight calls per endpoint.
//
//   - AttemptTimeout: bounds a single attempt and separates its expiry from the
//     caller's own deadline.
//
// # Errors
//
// All failures are reported as *Error values tagged with a Kind. Match them
// with errors.Is against the package sentinels or with KindOf:
//
//	if errors.Is(err, resilience.ErrCircuitOpen) {
//	    var rerr *resilience.Error
//	    errors.As(err, &rerr)
//	    log.Printf("retry after %s", rerr.RecoveryAt)
//	}
//
// # Usage
//
//	endpoints := resilience.NewEndpoints(resilience.EndpointConfig{
//	    CircuitBreaker: resilience.CircuitBreakerConfig{
//	        FailureThreshold: 5,
//	        RecoveryTimeout:  30 * time.Second,
//	    },
//	    RateLimiter: resilience.RateLimiterConfig{
//	        Limit:    100,
//	        Window:   time.Minute,
//	        Adaptive: true,
//	    },
//	    AttemptTimeout: 10 * time.Second,
//	})
//	retry := resilience.NewRetry(resilience.RetryConfig{MaxAttempts: 3, Jitter: true})
//
//	ep := endpoints.Get("Patient")
//	if _, err := ep.Limiter.WaitForToken(ctx, 1); err != nil {
//	    return err
//	}
//	err := retry.Execute(ctx, func(ctx context.Context) error {
//	    return ep.Attempt(ctx, callRegistry)
//	})
package resilience
