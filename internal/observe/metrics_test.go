package observe

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordAppend(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordAppend(ctx, "ok", 0.012)
	m.RecordAppend(ctx, "ok", 0.020)
	m.RecordAppend(ctx, "error", 0.500)

	rm := collect(t, reader)

	counter := findMetric(rm, "lingolive.transcript.appends")
	if counter == nil {
		t.Fatal("transcript appends counter not found")
	}
	sum, ok := counter.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", counter.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 3 {
		t.Fatalf("append count = %d, want 3", total)
	}
	if len(sum.DataPoints) != 2 {
		t.Fatalf("expected 2 status series, got %d", len(sum.DataPoints))
	}

	hist := findMetric(rm, "lingolive.transcript.append.duration")
	if hist == nil {
		t.Fatal("append duration histogram not found")
	}
}

func TestGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 2)
	m.ActiveSessions.Add(ctx, -1)
	m.ActiveRecordings.Add(ctx, 1)

	rm := collect(t, reader)

	sessions := findMetric(rm, "lingolive.active_sessions")
	if sessions == nil {
		t.Fatal("active sessions gauge not found")
	}
	sum, ok := sessions.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", sessions.Data)
	}
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
		t.Fatalf("active sessions = %+v, want single point of 1", sum.DataPoints)
	}
}

func TestRecordContextImport(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordContextImport(ctx, true)
	m.RecordContextImport(ctx, false)

	rm := collect(t, reader)
	counter := findMetric(rm, "lingolive.context.imports")
	if counter == nil {
		t.Fatal("context imports counter not found")
	}
	sum := counter.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 2 {
		t.Fatalf("expected valid and invalid series, got %d", len(sum.DataPoints))
	}
}

func TestDefaultMetricsIsSingleton(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Fatal("DefaultMetrics must return the same instance")
	}
}
