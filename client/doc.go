// Package client is the resilient request pipeline in front of one or more
// registry endpoints.
//
// Client.Execute runs each request through the same sequence:
//
//  1. Replay a stored response when the idempotency key was seen before.
//  2. Take a rate limit token for the endpoint key (or fail fast with
//     NoWait).
//  3. Take a bulkhead slot when MaxConcurrent is configured.
//  4. Obtain a bearer token and sign the request.
//  5. Attempt the call through the endpoint's circuit breaker, retrying
//     retryable failures with backoff. A 401 invalidates the token and
//     repeats the attempt once with a fresh one.
//  6. Store the response under the idempotency key on success.
//  7. Feed server rate limit headers back into the limiter.
//
// Each attempt goes to the endpoint the health monitor currently considers
// active. Cross-cutting concerns are Middleware wrapped around Execute;
// Observability adapts the observe package.
//
// Every failure is a *resilience.Error carrying the endpoint key, the
// correlation id sent as X-Request-ID and the number of attempts made.
package client
