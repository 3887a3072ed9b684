package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/jonwraymond/registrylink/resilience"
)

// CallMeta describes a registry call for telemetry purposes.
type CallMeta struct {
	Endpoint  string // Logical endpoint key, usually the resource type (required)
	Operation string // create|read|search|update|delete|batch (optional)
	Method    string // HTTP method (optional)
}

// Validate checks that the metadata is usable.
func (m CallMeta) Validate() error {
	if m.Endpoint == "" {
		return ErrMissingEndpoint
	}
	return nil
}

// SpanName returns the deterministic span name for this call.
// Format: registry.<operation>.<endpoint> or registry.call.<endpoint>
func (m CallMeta) SpanName() string {
	op := m.Operation
	if op == "" {
		op = "call"
	}
	return "registry." + op + "." + m.Endpoint
}

func (m CallMeta) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("registry.endpoint", m.Endpoint),
	}
	if m.Operation != "" {
		attrs = append(attrs, attribute.String("registry.operation", m.Operation))
	}
	if m.Method != "" {
		attrs = append(attrs, attribute.String("http.request.method", m.Method))
	}
	return attrs
}

// Tracer wraps OpenTelemetry tracing with call-specific span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	// StartSpan starts a new client span for a registry call.
	StartSpan(ctx context.Context, meta CallMeta) (context.Context, trace.Span)

	// EndSpan ends the span, recording attempts and any error.
	EndSpan(span trace.Span, attempts int, err error)
}

// tracerImpl is the concrete implementation of Tracer.
type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer creates a new Tracer wrapping the given OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

// StartSpan starts a new span with call metadata as attributes.
func (t *tracerImpl) StartSpan(ctx context.Context, meta CallMeta) (context.Context, trace.Span) {
	attrs := append(meta.attributes(), attribute.Bool("registry.error", false))
	if id := CorrelationID(ctx); id != "" {
		attrs = append(attrs, attribute.String("registry.request_id", id))
	}

	return t.tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndSpan ends the span and records the error status if present.
func (t *tracerImpl) EndSpan(span trace.Span, attempts int, err error) {
	if attempts > 0 {
		span.SetAttributes(attribute.Int("registry.attempts", attempts))
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(
			attribute.Bool("registry.error", true),
			attribute.String("error.kind", resilience.KindOf(err).String()),
		)
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// noopTracer is a tracer that does nothing.
type noopTracer struct {
	noop trace.Tracer
}

// NopTracer returns a tracer that records nothing.
func NopTracer() Tracer {
	return &noopTracer{
		noop: tracenoop.NewTracerProvider().Tracer("noop"),
	}
}

func (t *noopTracer) StartSpan(ctx context.Context, meta CallMeta) (context.Context, trace.Span) {
	return t.noop.Start(ctx, meta.SpanName())
}

func (t *noopTracer) EndSpan(span trace.Span, _ int, _ error) {
	span.End()
}
