package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// TraceConfig configures distributed tracing. Tracing is off unless Endpoint
// names an OTLP gRPC collector.
type TraceConfig struct {
	// ServiceName identifies this process in exported spans.
	ServiceName string `yaml:"service_name" json:"service_name,omitempty"`

	// ServiceVersion is attached to the trace resource.
	ServiceVersion string `yaml:"service_version" json:"service_version,omitempty"`

	// Environment names the deployment environment (production, staging, dev).
	Environment string `yaml:"environment" json:"environment,omitempty"`

	// Endpoint is the OTLP collector address, e.g. "localhost:4317".
	// Empty disables export entirely.
	Endpoint string `yaml:"endpoint" json:"endpoint,omitempty"`

	// SamplingRate is the fraction of traces recorded, 0.0 to 1.0.
	// Zero means sample everything.
	SamplingRate float64 `yaml:"sampling_rate" json:"sampling_rate,omitempty"`

	// Insecure disables TLS on the collector connection.
	Insecure bool `yaml:"insecure" json:"insecure,omitempty"`
}

// Tracer wraps an OpenTelemetry tracer with runtime-specific span helpers.
// The zero-config form records nothing and exports nothing.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracer builds a tracer from the config and returns it with a shutdown
// function that flushes pending spans. With no Endpoint the returned tracer is
// a no-op and shutdown does nothing, so callers never need to branch.
func NewTracer(cfg TraceConfig) (*Tracer, func(context.Context) error, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "courier"
	}
	if cfg.Endpoint == "" {
		return &Tracer{tracer: otel.Tracer(cfg.ServiceName)}, func(context.Context) error { return nil }, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	if err != nil {
		return nil, nil, fmt.Errorf("tracing: create otlp exporter: %w", err)
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		res = resource.Default()
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SamplingRate > 0 && cfg.SamplingRate < 1.0 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SamplingRate)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	t := &Tracer{provider: provider, tracer: provider.Tracer(cfg.ServiceName)}
	return t, provider.Shutdown, nil
}

// Start opens a span. Callers must end it.
func (t *Tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// TraceEnvelope opens the root span for one inbound envelope.
func (t *Tracer) TraceEnvelope(ctx context.Context, channel, sessionKey string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "envelope.process",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("channel", channel),
			attribute.String("session_key", sessionKey),
		),
	)
	return ctx, span
}

// TraceQuery opens a span for one provider query.
func (t *Tracer) TraceQuery(ctx context.Context, providerID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "provider."+providerID,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("provider", providerID)),
	)
}

// TraceDispatch opens a span for one outbound delivery.
func (t *Tracer) TraceDispatch(ctx context.Context, channel, kind string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "outbound."+channel,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("channel", channel),
			attribute.String("kind", kind),
		),
	)
}

// RecordError marks the span failed and records err on it. Nil errors are
// ignored so callers can pass the result straight through.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TraceID returns the active trace id from ctx, or "" when no trace is
// recording. Useful for correlating log lines with exported spans.
func TraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
