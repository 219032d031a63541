// Package observe provides application-wide observability primitives for
// LingoLive: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [Setup] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all LingoLive metrics.
const meterName = "github.com/lingolive/lingolive"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// EngineDialDuration tracks how long opening an engine stream takes.
	EngineDialDuration metric.Float64Histogram

	// AppendDuration tracks transcript persistence latency, sequence
	// allocation included.
	AppendDuration metric.Float64Histogram

	// --- Counters ---

	// TranscriptAppends counts finalized transcript rows. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	TranscriptAppends metric.Int64Counter

	// PreviewBroadcasts counts preview events published to the fan-out layer.
	PreviewBroadcasts metric.Int64Counter

	// TokenBatches counts engine token batches by kind. Use with attribute:
	//   attribute.String("kind", "final"|"non_final")
	TokenBatches metric.Int64Counter

	// EngineErrors counts failed engine streams.
	EngineErrors metric.Int64Counter

	// ContextImports counts context set import attempts. Use with attribute:
	//   attribute.String("status", "valid"|"invalid")
	ContextImports metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live translation sessions started
	// through this instance.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveRecordings tracks the number of open engine streams.
	ActiveRecordings metric.Int64UpDownCounter

	// ActiveSubscribers tracks connected real-time listeners.
	ActiveSubscribers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// real-time streaming operations.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.EngineDialDuration, err = m.Float64Histogram("lingolive.engine.dial.duration",
		metric.WithDescription("Latency of opening an engine stream."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AppendDuration, err = m.Float64Histogram("lingolive.transcript.append.duration",
		metric.WithDescription("Latency of persisting a finalized transcript."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.TranscriptAppends, err = m.Int64Counter("lingolive.transcript.appends",
		metric.WithDescription("Total finalized transcript rows by status."),
	); err != nil {
		return nil, err
	}
	if met.PreviewBroadcasts, err = m.Int64Counter("lingolive.preview.broadcasts",
		metric.WithDescription("Total preview events published to the fan-out layer."),
	); err != nil {
		return nil, err
	}
	if met.TokenBatches, err = m.Int64Counter("lingolive.engine.token_batches",
		metric.WithDescription("Total engine token batches by kind."),
	); err != nil {
		return nil, err
	}
	if met.EngineErrors, err = m.Int64Counter("lingolive.engine.errors",
		metric.WithDescription("Total failed engine streams."),
	); err != nil {
		return nil, err
	}
	if met.ContextImports, err = m.Int64Counter("lingolive.context.imports",
		metric.WithDescription("Total context set import attempts by status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("lingolive.active_sessions",
		metric.WithDescription("Number of live translation sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveRecordings, err = m.Int64UpDownCounter("lingolive.active_recordings",
		metric.WithDescription("Number of open engine streams."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSubscribers, err = m.Int64UpDownCounter("lingolive.active_subscribers",
		metric.WithDescription("Number of connected real-time listeners."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("lingolive.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordAppend records one transcript persistence attempt.
func (m *Metrics) RecordAppend(ctx context.Context, status string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.TranscriptAppends.Add(ctx, 1, attrs)
	m.AppendDuration.Record(ctx, seconds, attrs)
}

// RecordTokenBatch records one engine token batch.
func (m *Metrics) RecordTokenBatch(ctx context.Context, kind string) {
	m.TokenBatches.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordContextImport records one context set import attempt.
func (m *Metrics) RecordContextImport(ctx context.Context, valid bool) {
	status := "valid"
	if !valid {
		status = "invalid"
	}
	m.ContextImports.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)))
}
