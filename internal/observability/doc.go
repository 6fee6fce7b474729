// Package observability wires the runtime's operational surface: a structured
// slog root with secret redaction, Prometheus metrics for the message and
// query pipeline, and optional OpenTelemetry tracing.
//
// The package hands out standard types on purpose. NewLogger returns
// *slog.Logger so components derive their own loggers with
// With("component", ...) and never import this package for logging calls.
// NewMetrics takes a prometheus.Registerer so the server owns the registry it
// serves from /metrics and tests register into throwaway registries.
// NewTracer returns a no-op tracer unless an OTLP endpoint is configured, so
// instrumented code paths never branch on whether tracing is on.
package observability
