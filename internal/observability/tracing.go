// Package observability provides OpenTelemetry tracing for the portal
// backend. Spans are exported over OTLP HTTP to a local collector; an empty
// endpoint disables export and all tracing calls become no-ops.
package observability

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config configures distributed tracing.
type Config struct {
	// OTLPEndpoint is the collector's OTLP HTTP endpoint (host:port).
	// Empty disables tracing.
	OTLPEndpoint string
	ServiceName  string
	Environment  string
}

// TracerProvider wraps the OpenTelemetry tracer provider. A disabled
// provider carries a noop tracer, so callers never branch.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracerProvider creates a tracer provider per cfg and installs it as
// the global provider when enabled.
func NewTracerProvider(ctx context.Context, cfg Config) (*TracerProvider, error) {
	if cfg.OTLPEndpoint == "" {
		return &TracerProvider{
			tracer: noop.NewTracerProvider().Tracer("portal-backend"),
		}, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "portal-backend"
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	attrs := []attribute.KeyValue{semconv.ServiceName(serviceName)}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	return &TracerProvider{
		provider: provider,
		tracer:   provider.Tracer("portal-backend"),
	}, nil
}

// Shutdown flushes pending spans. Safe to call on a disabled provider.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider != nil {
		return tp.provider.Shutdown(ctx)
	}
	return nil
}

// Tracer returns the tracer.
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// Span names.
const (
	SpanHTTPRequest = "portal.http.request"
)

// Attribute keys.
const (
	AttrHTTPMethod = "http.request.method"
	AttrHTTPPath   = "http.route"
	AttrChatID     = "portal.chat_id"
	AttrToolName   = "portal.tool_name"
	AttrModel      = "portal.llm.model"
)

// Middleware wraps handler so every request runs inside a span.
func (tp *TracerProvider) Middleware(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tp.tracer.Start(r.Context(), SpanHTTPRequest,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String(AttrHTTPMethod, r.Method),
				attribute.String(AttrHTTPPath, r.URL.Path),
			),
		)
		defer span.End()

		handler.ServeHTTP(w, r.WithContext(ctx))
	})
}
