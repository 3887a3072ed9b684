package observe

import (
	"context"
	"time"

	"github.com/jonwraymond/registrylink/resilience"
)

// ExecuteFunc is the signature Middleware wraps. It reports how many
// transport attempts the call took.
type ExecuteFunc func(ctx context.Context, call CallMeta) (attempts int, err error)

// Middleware wraps registry calls with observability (tracing, metrics, logging).
//
// Contract:
//   - Concurrency: Wrap() returns a thread-safe ExecuteFunc.
//   - Context: Propagates context through tracing spans.
//   - Errors: Errors from wrapped function are recorded and propagated unchanged.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewMiddleware creates a new Middleware with the given observability components.
// Nil components are replaced with no-ops.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	if tracer == nil {
		tracer = NopTracer()
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	if logger == nil {
		logger = NopLogger()
	}
	return &Middleware{
		tracer:  tracer,
		metrics: metrics,
		logger:  logger,
	}
}

// Wrap wraps an ExecuteFunc with tracing, metrics, and logging.
func (m *Middleware) Wrap(fn ExecuteFunc) ExecuteFunc {
	return func(ctx context.Context, call CallMeta) (int, error) {
		ctx, span := m.tracer.StartSpan(ctx, call)
		start := time.Now()

		attempts, err := fn(ctx, call)

		duration := time.Since(start)
		m.tracer.EndSpan(span, attempts, err)
		m.metrics.RecordCall(ctx, call, duration, attempts, err)

		fields := []Field{
			F("endpoint", call.Endpoint),
			F("duration_ms", float64(duration.Milliseconds())),
			F("attempts", attempts),
		}
		if call.Operation != "" {
			fields = append(fields, F("operation", call.Operation))
		}
		if call.Method != "" {
			fields = append(fields, F("method", call.Method))
		}

		if err != nil {
			kind := resilience.KindOf(err)
			fields = append(fields, F("error", err.Error()), F("error_kind", kind.String()))
			// Caller-side outcomes are not service faults.
			if kind == resilience.KindClient || kind == resilience.KindCancelled {
				m.logger.Warn(ctx, "registry call failed", fields...)
			} else {
				m.logger.Error(ctx, "registry call failed", fields...)
			}
		} else {
			m.logger.Info(ctx, "registry call completed", fields...)
		}

		return attempts, err
	}
}

// Metrics returns the metrics recorder used by the middleware.
func (m *Middleware) Metrics() Metrics {
	return m.metrics
}

// Logger returns the logger used by the middleware.
func (m *Middleware) Logger() Logger {
	return m.logger
}

// MiddlewareFromObserver creates a Middleware from an Observer.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}

	metrics, err := NewMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}

	return NewMiddleware(NewTracer(obs.Tracer()), metrics, obs.Logger()), nil
}
