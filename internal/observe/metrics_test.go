package observe

import (
	"context"
	"errors"
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

// sumWhere returns the value of the int64 sum data point whose attributes
// contain key=value, and whether such a point exists.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) (int64, bool) {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.Emit() == value {
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

func TestRecordEngineCall(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordEngineCall(ctx, "whisper", "mic", 0.8, nil)
	m.RecordEngineCall(ctx, "whisper", "mic", 1.2, nil)
	m.RecordEngineCall(ctx, "whisper", "mic", 0.1, errors.New("boom"))

	rm := collect(t, reader)
	met := findMetric(rm, "subtitles.engine.duration")
	if met == nil {
		t.Fatal("engine duration not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("engine duration is not a histogram")
	}
	var total uint64
	for _, dp := range hist.DataPoints {
		total += dp.Count
	}
	if total != 3 {
		t.Errorf("sample count = %d, want 3", total)
	}

	if v, ok := sumWhere(t, rm, "subtitles.engine.errors", "engine", "whisper"); !ok || v != 1 {
		t.Errorf("engine errors = %d (found=%v), want 1", v, ok)
	}
}

func TestRecordWindow(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordWindow(ctx, "mic", "skipped", "silence")
	m.RecordWindow(ctx, "mic", "skipped", "silence")
	m.RecordWindow(ctx, "mic", "accepted", "")

	rm := collect(t, reader)
	if v, ok := sumWhere(t, rm, "subtitles.windows", "reason", "silence"); !ok || v != 2 {
		t.Errorf("silence windows = %d (found=%v), want 2", v, ok)
	}
	if v, ok := sumWhere(t, rm, "subtitles.windows", "outcome", "accepted"); !ok || v != 1 {
		t.Errorf("accepted windows = %d (found=%v), want 1", v, ok)
	}
}

func TestCaptureCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFrame(ctx, "discord", false)
	m.RecordDrop(ctx, "discord")
	m.RecordFallback(ctx, "discord", "eof")
	m.RecordContextReset(ctx, "discord")

	rm := collect(t, reader)
	for _, name := range []string{
		"subtitles.capture.frames",
		"subtitles.capture.frames_dropped",
		"subtitles.capture.fallbacks",
		"subtitles.context.resets",
	} {
		if v, ok := sumWhere(t, rm, name, "source", "discord"); !ok || v != 1 {
			t.Errorf("%s = %d (found=%v), want 1", name, v, ok)
		}
	}
}

func TestRecordDelivery(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordDelivery(ctx, "nats", nil)
	m.RecordDelivery(ctx, "nats", errors.New("no responders"))

	rm := collect(t, reader)
	if v, ok := sumWhere(t, rm, "subtitles.sink.deliveries", "status", "error"); !ok || v != 1 {
		t.Errorf("failed deliveries = %d (found=%v), want 1", v, ok)
	}
}

func TestGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSources.Add(ctx, 2)
	m.OverlayClients.Add(ctx, 3)
	m.OverlayClients.Add(ctx, -1)

	rm := collect(t, reader)
	gauges := []struct {
		name string
		want int64
	}{
		{"subtitles.active_sources", 2},
		{"subtitles.overlay_clients", 2},
	}
	for _, tc := range gauges {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok || len(sum.DataPoints) == 0 {
				t.Fatalf("metric %q has no sum data points", tc.name)
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

	rm := collect(t, reader)
	met := findMetric(rm, "subtitles.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 || hist.DataPoints[0].Count != 1 {
		t.Errorf("unexpected data points: %+v", hist.DataPoints)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
