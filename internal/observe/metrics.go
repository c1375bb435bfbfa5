// Package observe provides application-wide observability primitives for the
// subtitles pipeline: OpenTelemetry metrics, tracing, trace-correlated
// logging and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is set up by [InitProvider] and scraped via /metrics. A
// package-level default [Metrics] instance ([DefaultMetrics]) is provided for
// convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/ElKroko/DISCORD-SUBTITLES"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Capture ---

	// FramesCaptured counts frames pushed into a source queue. Attributes:
	//   attribute.String("source", ...), attribute.Bool("fallback", ...)
	FramesCaptured metric.Int64Counter

	// FramesDropped counts frames evicted from a full queue. Attribute: source.
	FramesDropped metric.Int64Counter

	// CaptureFallbacks counts sources that switched to silent fallback.
	// Attributes: source, reason ("open" | "eof").
	CaptureFallbacks metric.Int64Counter

	// --- Windows ---

	// Windows counts assembled windows by outcome. Attributes: source,
	// outcome ("accepted" | "skipped" | "failed"), reason.
	Windows metric.Int64Counter

	// ContextResets counts rolling-context clears after long silence.
	ContextResets metric.Int64Counter

	// --- Engine ---

	// EngineDuration tracks speech-to-text latency per window. Attributes:
	// engine, status.
	EngineDuration metric.Float64Histogram

	// EngineErrors counts failed engine calls. Attributes: source, engine.
	EngineErrors metric.Int64Counter

	// Confidence records the confidence of every transcribed window.
	Confidence metric.Float64Histogram

	// --- Delivery ---

	// SinkDeliveries counts transcriptions handed to sinks. Attributes:
	// sink, status.
	SinkDeliveries metric.Int64Counter

	// --- Gauges ---

	// ActiveSources tracks the number of running capture workers.
	ActiveSources metric.Int64UpDownCounter

	// OverlayClients tracks connected WebSocket overlay clients.
	OverlayClients metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for batch
// transcription of multi-second windows.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 1.5, 2, 3, 5, 10,
}

var confidenceBuckets = []float64{
	0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesCaptured, err = m.Int64Counter("subtitles.capture.frames",
		metric.WithDescription("Frames pushed into source queues."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("subtitles.capture.frames_dropped",
		metric.WithDescription("Frames evicted from full source queues."),
	); err != nil {
		return nil, err
	}
	if met.CaptureFallbacks, err = m.Int64Counter("subtitles.capture.fallbacks",
		metric.WithDescription("Sources that switched to silent fallback."),
	); err != nil {
		return nil, err
	}
	if met.Windows, err = m.Int64Counter("subtitles.windows",
		metric.WithDescription("Assembled windows by outcome and reason."),
	); err != nil {
		return nil, err
	}
	if met.ContextResets, err = m.Int64Counter("subtitles.context.resets",
		metric.WithDescription("Rolling-context clears after sustained silence."),
	); err != nil {
		return nil, err
	}
	if met.EngineDuration, err = m.Float64Histogram("subtitles.engine.duration",
		metric.WithDescription("Latency of speech-to-text transcription per window."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EngineErrors, err = m.Int64Counter("subtitles.engine.errors",
		metric.WithDescription("Failed speech-to-text calls."),
	); err != nil {
		return nil, err
	}
	if met.Confidence, err = m.Float64Histogram("subtitles.confidence",
		metric.WithDescription("Confidence of transcribed windows."),
		metric.WithExplicitBucketBoundaries(confidenceBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SinkDeliveries, err = m.Int64Counter("subtitles.sink.deliveries",
		metric.WithDescription("Transcriptions delivered to sinks by sink and status."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSources, err = m.Int64UpDownCounter("subtitles.active_sources",
		metric.WithDescription("Number of running capture workers."),
	); err != nil {
		return nil, err
	}
	if met.OverlayClients, err = m.Int64UpDownCounter("subtitles.overlay_clients",
		metric.WithDescription("Connected WebSocket overlay clients."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("subtitles.http.request.duration",
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
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFrame counts one captured frame.
func (m *Metrics) RecordFrame(ctx context.Context, source string, fallback bool) {
	m.FramesCaptured.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.Bool("fallback", fallback),
	))
}

// RecordDrop counts one frame evicted from a full queue.
func (m *Metrics) RecordDrop(ctx context.Context, source string) {
	m.FramesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordFallback counts a source switching to silent fallback.
func (m *Metrics) RecordFallback(ctx context.Context, source, reason string) {
	m.CaptureFallbacks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("reason", reason),
	))
}

// RecordWindow counts one processed window by outcome and reason.
func (m *Metrics) RecordWindow(ctx context.Context, source, outcome, reason string) {
	m.Windows.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("outcome", outcome),
		attribute.String("reason", reason),
	))
}

// RecordContextReset counts one rolling-context clear.
func (m *Metrics) RecordContextReset(ctx context.Context, source string) {
	m.ContextResets.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordEngineCall records the latency and outcome of one engine call.
func (m *Metrics) RecordEngineCall(ctx context.Context, engine, source string, seconds float64, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		m.EngineErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("source", source),
			attribute.String("engine", engine),
		))
	}
	m.EngineDuration.Record(ctx, seconds, metric.WithAttributes(
		attribute.String("engine", engine),
		attribute.String("status", status),
	))
}

// RecordDelivery counts one sink delivery attempt.
func (m *Metrics) RecordDelivery(ctx context.Context, sink string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.SinkDeliveries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("sink", sink),
		attribute.String("status", status),
	))
}
