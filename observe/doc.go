// Package observe provides logging, tracing and metrics for registry calls.
//
// Logging is zap based with optional rotating file output. Tracing and
// metrics use OpenTelemetry with otlp, prometheus, stdout or no exporter.
// Middleware records one span, one set of metrics and one log entry per
// call; the client package adapts it to its handler chain.
package observe
