package observe

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// defaultServiceName is reported in telemetry when the config leaves the
// service name empty.
const defaultServiceName = "lingolive"

// TelemetryConfig describes the service identity and span export target for
// [Setup].
type TelemetryConfig struct {
	ServiceName    string
	ServiceVersion string

	// SpanExporter receives finished spans. Leave nil to keep tracing
	// in-process only; an OTLP exporter slots in here for production.
	SpanExporter sdktrace.SpanExporter
}

// Setup installs the process-global OpenTelemetry providers: a meter
// provider bridged to Prometheus so every instrument surfaces on the
// /metrics scrape endpoint, and a tracer provider batching to
// cfg.SpanExporter when one is configured.
//
// The returned function flushes and stops both providers; call it during
// shutdown with a bounded context.
func Setup(cfg TelemetryConfig) (func(context.Context) error, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = defaultServiceName
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, err
	}

	bridge, err := promexporter.New()
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(bridge),
	)
	otel.SetMeterProvider(mp)

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.SpanExporter != nil {
		opts = append(opts, sdktrace.WithBatcher(cfg.SpanExporter))
	}
	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(mp.Shutdown(ctx), tp.Shutdown(ctx))
	}, nil
}
