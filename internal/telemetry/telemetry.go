// Package telemetry configures OpenTelemetry tracing for poll cycles. Spans
// are exported to Google Cloud Trace when a project is configured and are
// otherwise kept in-process so trace context still propagates to Pub/Sub.
package telemetry

import (
	"context"
	"fmt"
	"sync"

	texporter "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/trace"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// Config identifies the service and selects the exporter.
type Config struct {
	ServiceName string
	Version     string
	ProjectID   string
	SampleRatio float64
}

var (
	initOnce  sync.Once
	traceProv *sdktrace.TracerProvider
	initErr   error
)

// Init installs the global tracer provider and propagator once per process.
func Init(ctx context.Context, cfg Config) (*sdktrace.TracerProvider, error) {
	initOnce.Do(func() {
		var exporter sdktrace.SpanExporter
		if cfg.ProjectID != "" {
			exporter, initErr = texporter.New(texporter.WithProjectID(cfg.ProjectID))
			if initErr != nil {
				initErr = fmt.Errorf("failed to create google trace exporter: %w", initErr)
				return
			}
		}
		traceProv, initErr = NewTracerProvider(ctx, cfg, exporter)
		if initErr != nil {
			return
		}
		otel.SetTracerProvider(traceProv)
		otel.SetTextMapPropagator(
			propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
		)
	})
	return traceProv, initErr
}

// NewTracerProvider builds a provider batching spans to exporter. A nil
// exporter yields a provider that samples but exports nothing.
func NewTracerProvider(ctx context.Context, cfg Config, exporter sdktrace.SpanExporter) (*sdktrace.TracerProvider, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "statuswatch"
	}
	attrs := resource.WithAttributes(
		semconv.ServiceName(name),
		semconv.ServiceVersion(cfg.Version),
	)
	opts := []resource.Option{attrs}
	if cfg.ProjectID != "" {
		opts = append(opts, resource.WithAttributes(semconv.CloudProviderGCP))
	}
	res, err := resource.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	}
	if exporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	}
	return sdktrace.NewTracerProvider(tpOpts...), nil
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}
