package health

import (
	"context"
	"time"
)

// Probe is the outcome of probing one endpoint.
type Probe struct {
	// Healthy is set when the endpoint can take registry traffic.
	Healthy bool

	// StatusCode is the HTTP status of the probe response, 0 if none
	// arrived.
	StatusCode int

	// Latency is how long the probe took.
	Latency time.Duration

	Message string
	Err     error
}

// Up is a healthy probe.
func Up(statusCode int, latency time.Duration) Probe {
	return Probe{Healthy: true, StatusCode: statusCode, Latency: latency, Message: "ok"}
}

// Down is a failed probe.
func Down(message string, err error) Probe {
	return Probe{Message: message, Err: err}
}

// Checker probes a single endpoint.
type Checker interface {
	// Endpoint returns the base URL being probed.
	Endpoint() string

	Check(ctx context.Context) Probe
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc struct {
	endpoint string
	fn       func(context.Context) Probe
}

// NewCheckerFunc returns a Checker for endpoint backed by fn.
func NewCheckerFunc(endpoint string, fn func(context.Context) Probe) *CheckerFunc {
	return &CheckerFunc{endpoint: endpoint, fn: fn}
}

// Endpoint returns the endpoint passed to NewCheckerFunc.
func (f *CheckerFunc) Endpoint() string {
	return f.endpoint
}

// Check calls the function.
func (f *CheckerFunc) Check(ctx context.Context) Probe {
	return f.fn(ctx)
}

var _ Checker = (*CheckerFunc)(nil)
