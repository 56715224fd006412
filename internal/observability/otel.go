package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope used by every span in the module.
const TracerName = "github.com/valreg/valreg-go"

// ServiceInfo identifies the process in exported telemetry.
type ServiceInfo struct {
	Name    string
	Version string
	// Repository and RunID tie spans to the workflow run; both are optional.
	Repository string
	RunID      int64
}

// InitTracer installs a global trace provider exporting over OTLP/HTTP
// (configured through the standard OTEL_EXPORTER_OTLP_* variables). The
// returned shutdown flushes pending spans.
func InitTracer(ctx context.Context, info ServiceInfo) (func(context.Context) error, error) {
	res, err := newResource(ctx, info)
	if err != nil {
		return nil, fmt.Errorf("otel: build resource: %w", err)
	}
	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("otel: create exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	slog.Info("tracing enabled", "service", info.Name, "version", info.Version, "tracer", TracerName)
	return tp.Shutdown, nil
}

func newResource(ctx context.Context, info ServiceInfo) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(info.Name),
		semconv.ServiceVersion(info.Version),
	}
	if info.Repository != "" {
		attrs = append(attrs, attribute.String("github.repository", info.Repository))
	}
	if info.RunID > 0 {
		attrs = append(attrs, attribute.Int64("github.run_id", info.RunID))
	}
	return resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(attrs...),
	)
}

// Tracer returns the module tracer from the global provider (no-op until
// InitTracer runs).
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// HTTPClient returns an http.Client whose transport emits client spans.
func HTTPClient(base http.RoundTripper) *http.Client {
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{Transport: otelhttp.NewTransport(base)}
}
