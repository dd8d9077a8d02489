package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope for all loom spans.
const tracerName = "github.com/tessellate-ai/loom"

// StartSpan starts a span under the globally installed tracer
// provider. Without an installed provider this is a no-op span, so
// callers never need to guard tracing.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// InstallTracing installs a sampling tracer provider and returns its
// shutdown function. Exporters are attached by the deployment (an
// OTLP collector sidecar in production); standalone runs keep the
// provider so span context propagates into logs.
func InstallTracing(sampleRatio float64) func(context.Context) error {
	sampler := sdktrace.AlwaysSample()
	if sampleRatio > 0 && sampleRatio < 1 {
		sampler = sdktrace.TraceIDRatioBased(sampleRatio)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sampler))
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}
