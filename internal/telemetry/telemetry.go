// Package telemetry bootstraps the process-wide OpenTelemetry tracer and
// exposes it to the packages that wrap the service's external calls in
// spans. Grounded on the teacher's pkg/telemetry/providers/otlp exporter
// config (Endpoint/Headers/Insecure) and the Config{ServiceName,
// ServiceVersion}-plus-injected-TracerProvider shape its HTTP middleware
// takes.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/cloudjit/jitaccess"

// Config controls exporter construction for NewTracerProvider.
type Config struct {
	Endpoint     string
	ServiceName  string
	SamplingRate float64
	Insecure     bool
}

// NewTracerProvider installs the process-wide TracerProvider and returns a
// shutdown func that flushes and closes the exporter. An empty Endpoint
// leaves tracing enabled but unexported, same as the teacher's config
// command treats an unset OTEL endpoint as "no-op, not an error."
func NewTracerProvider(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		otel.SetTracerProvider(sdktrace.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to build trace resource: %w", err)
	}

	sampler := sdktrace.TraceIDRatioBased(cfg.SamplingRate)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// Tracer returns the shared tracer used for every suspension-point span:
// IAM policy read/write, analyzer/directory calls, token signing, and
// notification delivery.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}
