package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jonwraymond/registrylink/resilience"
)

// Metrics records registry call metrics.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must honor cancellation/deadlines and return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordCall records a completed call with its duration, transport
	// attempt count and outcome.
	RecordCall(ctx context.Context, meta CallMeta, duration time.Duration, attempts int, err error)

	// RecordBreakerTransition records a circuit state change for an endpoint.
	RecordBreakerTransition(ctx context.Context, endpoint, from, to string)
}

// metricsImpl is the concrete implementation of Metrics.
type metricsImpl struct {
	totalCount   metric.Int64Counter
	errorCount   metric.Int64Counter
	durationHist metric.Float64Histogram
	attemptsHist metric.Int64Histogram
	transitions  metric.Int64Counter
}

// NewMetrics creates the call instruments on meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	return newMetrics(meter)
}

func newMetrics(meter metric.Meter) (*metricsImpl, error) {
	totalCount, err := meter.Int64Counter(
		"registry.call.total",
		metric.WithDescription("Total number of registry calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		"registry.call.errors",
		metric.WithDescription("Total number of failed registry calls"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		"registry.call.duration_ms",
		metric.WithDescription("Registry call duration in milliseconds, including retries"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	attemptsHist, err := meter.Int64Histogram(
		"registry.call.attempts",
		metric.WithDescription("Transport attempts per registry call"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	transitions, err := meter.Int64Counter(
		"registry.breaker.transitions",
		metric.WithDescription("Circuit breaker state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		totalCount:   totalCount,
		errorCount:   errorCount,
		durationHist: durationHist,
		attemptsHist: attemptsHist,
		transitions:  transitions,
	}, nil
}

// RecordCall records metrics for a registry call.
func (m *metricsImpl) RecordCall(ctx context.Context, meta CallMeta, duration time.Duration, attempts int, err error) {
	attrs := meta.attributes()
	opt := metric.WithAttributes(attrs...)

	// Always increment total counter
	m.totalCount.Add(ctx, 1, opt)

	// Error counter carries the failure class.
	if err != nil {
		errAttrs := append(attrs, attribute.String("error.kind", resilience.KindOf(err).String()))
		m.errorCount.Add(ctx, 1, metric.WithAttributes(errAttrs...))
	}

	m.durationHist.Record(ctx, float64(duration.Milliseconds()), opt)
	if attempts > 0 {
		m.attemptsHist.Record(ctx, int64(attempts), opt)
	}
}

// RecordBreakerTransition records a circuit state change.
func (m *metricsImpl) RecordBreakerTransition(ctx context.Context, endpoint, from, to string) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("registry.endpoint", endpoint),
		attribute.String("breaker.from", from),
		attribute.String("breaker.to", to),
	))
}

// noopMetrics is a metrics implementation that does nothing.
type noopMetrics struct{}

func (noopMetrics) RecordCall(context.Context, CallMeta, time.Duration, int, error) {}

func (noopMetrics) RecordBreakerTransition(context.Context, string, string, string) {}

// NopMetrics returns a Metrics that records nothing.
func NopMetrics() Metrics {
	return noopMetrics{}
}
