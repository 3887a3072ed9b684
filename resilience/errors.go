package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for resilience operations.
var (
	// ErrCircuitOpen is returned when the circuit breaker is open.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

	// ErrRateLimitExceeded is returned when the local rate limit is exceeded.
	ErrRateLimitExceeded = errors.New("resilience: rate limit exceeded")

	// ErrBulkheadFull is returned when the bulkhead is at capacity.
	ErrBulkheadFull = errors.New("resilience: bulkhead at capacity")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("resilience: operation timed out")

	// ErrAuthentication is returned when credentials could not be obtained.
	ErrAuthentication = errors.New("resilience: authentication failed")

	// ErrNetwork is returned when the remote endpoint could not be reached.
	ErrNetwork = errors.New("resilience: network error")

	// ErrServer is returned for 5xx responses.
	ErrServer = errors.New("resilience: server error")

	// ErrClient is returned for 4xx responses other than 429.
	ErrClient = errors.New("resilience: client error")

	// ErrThrottled is returned when the server answers 429.
	ErrThrottled = errors.New("resilience: throttled by server")

	// ErrCancelled is returned when the caller aborted the operation.
	ErrCancelled = errors.New("resilience: cancelled")
)

// Kind tags an Error with its failure class.
type Kind int

const (
	// KindUnknown is an unclassified failure.
	KindUnknown Kind = iota
	// KindAuthentication means a credential refresh failed.
	KindAuthentication
	// KindCircuitOpen means the breaker rejected the call.
	KindCircuitOpen
	// KindRateLimited means the local limiter refused a non-blocking call.
	KindRateLimited
	// KindNetwork means a connection-level failure.
	KindNetwork
	// KindTimeout means an attempt or call deadline passed.
	KindTimeout
	// KindServer means a 5xx response.
	KindServer
	// KindClient means a 4xx response other than 429.
	KindClient
	// KindThrottled means a 429 response.
	KindThrottled
	// KindCancelled means the caller cancelled the context.
	KindCancelled
	// KindBulkheadFull means no concurrency slot was free.
	KindBulkheadFull
)

var kindNames = map[Kind]string{
	KindUnknown:        "unknown",
	KindAuthentication: "authentication",
	KindCircuitOpen:    "circuit_open",
	KindRateLimited:    "rate_limited",
	KindNetwork:        "network",
	KindTimeout:        "timeout",
	KindServer:         "server",
	KindClient:         "client",
	KindThrottled:      "throttled",
	KindCancelled:      "cancelled",
	KindBulkheadFull:   "bulkhead_full",
}

var kindSentinels = map[Kind]error{
	KindAuthentication: ErrAuthentication,
	KindCircuitOpen:    ErrCircuitOpen,
	KindRateLimited:    ErrRateLimitExceeded,
	KindNetwork:        ErrNetwork,
	KindTimeout:        ErrTimeout,
	KindServer:         ErrServer,
	KindClient:         ErrClient,
	KindThrottled:      ErrThrottled,
	KindCancelled:      ErrCancelled,
	KindBulkheadFull:   ErrBulkheadFull,
}

// String returns the string representation of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Error is the error type produced by the request pipeline.
//
// Callers match on Kind (or errors.Is against the sentinels above) instead of
// on concrete types. Structured fields are populated when they apply.
type Error struct {
	Kind Kind

	// Endpoint is the logical endpoint key the call was made against.
	Endpoint string

	// StatusCode is the HTTP status, if a response was received.
	StatusCode int

	// RecoveryAt is when an open circuit will admit a probe.
	RecoveryAt time.Time

	// RetryAfter is the server-requested delay for 429/503 responses.
	RetryAfter time.Duration

	// CorrelationID is the X-Request-ID sent with the call.
	CorrelationID string

	// Attempts is the number of transport attempts made.
	Attempts int

	// Message is a short human readable description.
	Message string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.CorrelationID != "" {
		fmt.Fprintf(&b, "[%s] ", e.CorrelationID)
	}
	b.WriteString("resilience: ")
	b.WriteString(e.Kind.String())
	if e.Endpoint != "" {
		fmt.Fprintf(&b, " (%s)", e.Endpoint)
	}
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " status %d", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	if e.Attempts > 1 {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	if sentinel, ok := kindSentinels[e.Kind]; ok && sentinel == target {
		return true
	}
	if t, ok := target.(*Error); ok {
		return t.Kind == e.Kind
	}
	return false
}

// NewError creates an Error of the given kind.
func NewError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// KindOf returns the kind of err. Context errors are mapped to KindCancelled
// and KindTimeout; anything else unclassified is KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}
	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindUnknown
}

// Retryable reports whether an error of this kind may succeed on retry.
func (k Kind) Retryable() bool {
	switch k {
	case KindNetwork, KindTimeout, KindServer, KindThrottled:
		return true
	default:
		return false
	}
}

// Retryable reports whether err may succeed on retry.
func Retryable(err error) bool {
	return KindOf(err).Retryable()
}

// CountsAsFailure reports whether err should count against a circuit breaker.
// Only failures that indicate the remote side is unhealthy are counted.
func CountsAsFailure(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindTimeout, KindServer:
		return true
	case KindUnknown:
		return err != nil
	default:
		return false
	}
}

// RetryAfterOf returns the server-requested delay carried by err, if any.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}
