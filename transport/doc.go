// Package transport performs single HTTP attempts against a registry base
// URL and classifies the outcome.
//
// A Transport never retries. Every non-2xx status is returned as a
// *resilience.Error tagged with the matching Kind, alongside the response
// so callers can still read rate-limit hints and bodies.
package transport
