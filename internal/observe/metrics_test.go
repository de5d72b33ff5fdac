package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
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

// sumWith returns the value of the data point whose attribute key equals val.
func sumWith(t *testing.T, met *metricdata.Metrics, key, val string) (int64, bool) {
	t.Helper()
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", met.Name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.Emit() == val {
			return dp.Value, true
		}
	}
	return 0, false
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordDecision(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordDecision(ctx, "command_word_detected", true, 0.0002)
	m.RecordDecision(ctx, "command_word_detected", true, 0.0003)
	m.RecordDecision(ctx, "soft_word_ignored_while_speaking", false, 0.21)

	rm := collect(t, reader)

	met := findMetric(rm, "turnguard.decisions")
	if met == nil {
		t.Fatal("turnguard.decisions not found")
	}
	if got, ok := sumWith(t, met, "reason", "command_word_detected"); !ok || got != 2 {
		t.Errorf("command_word_detected = %d (found=%v), want 2", got, ok)
	}
	if got, ok := sumWith(t, met, "reason", "soft_word_ignored_while_speaking"); !ok || got != 1 {
		t.Errorf("soft_word_ignored_while_speaking = %d (found=%v), want 1", got, ok)
	}

	hmet := findMetric(rm, "turnguard.decision.duration")
	if hmet == nil {
		t.Fatal("turnguard.decision.duration not found")
	}
	hist, ok := hmet.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("decision duration is not a histogram")
	}
	var total uint64
	for _, dp := range hist.DataPoints {
		total += dp.Count
	}
	if total != 3 {
		t.Errorf("sample count = %d, want 3", total)
	}
}

func TestRecordStateTransition(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordStateTransition(ctx, "silent", "speaking")
	m.RecordStateTransition(ctx, "speaking", "silent")
	m.RecordStateTransition(ctx, "silent", "speaking")

	met := findMetric(collect(t, reader), "turnguard.state.transitions")
	if met == nil {
		t.Fatal("metric not found")
	}
	if got, ok := sumWith(t, met, "to", "speaking"); !ok || got != 2 {
		t.Errorf("to=speaking = %d (found=%v), want 2", got, ok)
	}
}

func TestRecordDispatchError(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.RecordDispatchError(context.Background(), "cancel_output")

	met := findMetric(collect(t, reader), "turnguard.dispatch.errors")
	if met == nil {
		t.Fatal("metric not found")
	}
	if got, ok := sumWith(t, met, "action", "cancel_output"); !ok || got != 1 {
		t.Errorf("cancel_output = %d (found=%v), want 1", got, ok)
	}
}

func TestGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	// UpDownCounters are additive, so we simulate Set(n) as Add(n).
	m.PendingTranscriptions.Add(ctx, 2)
	m.PendingTranscriptions.Add(ctx, -1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.AuditDropped.Add(ctx, 4)

	rm := collect(t, reader)

	gauges := []struct {
		name string
		want int64
	}{
		{"turnguard.pending_transcriptions", 1},
		{"turnguard.active_sessions", 2},
		{"turnguard.audit.dropped", 4},
	}

	for _, tc := range gauges {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is not a sum", tc.name)
			}
			if len(sum.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := sum.DataPoints[0].Value; got != tc.want {
				t.Errorf("gauge value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05,
		metric.WithAttributes(
			attribute.String("method", "GET"),
			attribute.String("path", "/healthz"),
		),
	)

	met := findMetric(collect(t, reader), "turnguard.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
