// Package observe provides application-wide observability primitives for
// murmur: OpenTelemetry metrics, tracing helpers, and trace-aware structured
// logging.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all murmur metrics.
const meterName = "github.com/MrWong99/murmur"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TranscribeDuration tracks transcription stage latency, retries included.
	TranscribeDuration metric.Float64Histogram

	// PolishDuration tracks polishing stage latency, retries included.
	PolishDuration metric.Float64Histogram

	// --- Counters ---

	// StageRuns counts pipeline stage completions. Use with attributes:
	//   attribute.String("stage", ...), attribute.String("status", ...)
	StageRuns metric.Int64Counter

	// RetryAttempts counts provider call attempts beyond the first. Use with
	// attribute: attribute.String("stage", ...)
	RetryAttempts metric.Int64Counter

	// --- Error counters ---

	// StorageFailures counts recoverable record-store failures. Use with
	// attribute: attribute.String("op", ...)
	StorageFailures metric.Int64Counter

	// --- Gauges ---

	// NotesActive tracks the size of the in-memory note collection.
	NotesActive metric.Int64UpDownCounter

	// --- Ops server ---

	// HTTPRequestDuration tracks request latency on the metrics/health
	// endpoint. Use with attributes: method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// stageLatencyBuckets defines histogram bucket boundaries (in seconds) sized
// for remote transcription and polishing calls, which run seconds to minutes.
var stageLatencyBuckets = []float64{
	0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranscribeDuration, err = m.Float64Histogram("murmur.transcribe.duration",
		metric.WithDescription("Latency of the transcription stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stageLatencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PolishDuration, err = m.Float64Histogram("murmur.polish.duration",
		metric.WithDescription("Latency of the polishing stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stageLatencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.StageRuns, err = m.Int64Counter("murmur.pipeline.stage_runs",
		metric.WithDescription("Total pipeline stage completions by stage and status."),
	); err != nil {
		return nil, err
	}
	if met.RetryAttempts, err = m.Int64Counter("murmur.pipeline.retries",
		metric.WithDescription("Total provider call retries by stage."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.StorageFailures, err = m.Int64Counter("murmur.store.failures",
		metric.WithDescription("Total recoverable record-store failures by operation."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.NotesActive, err = m.Int64UpDownCounter("murmur.notes.active",
		metric.WithDescription("Number of notes in the in-memory collection."),
	); err != nil {
		return nil, err
	}

	// Ops server.
	if met.HTTPRequestDuration, err = m.Float64Histogram("murmur.http.request.duration",
		metric.WithDescription("Latency of requests to the metrics/health endpoint."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the shared package-level [Metrics] instance, created
// lazily from the global MeterProvider. Production code should call
// [InitProvider] first so the instruments are backed by a real exporter.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			// Fall back to a zero struct; all record helpers tolerate nil
			// instruments.
			m = &Metrics{}
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// RecordStageDuration records elapsed time since start on hist with a status
// attribute. A nil histogram is a no-op so call sites stay unconditional.
func RecordStageDuration(ctx context.Context, hist metric.Float64Histogram, start time.Time, status string) {
	if hist == nil {
		return
	}
	hist.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("status", status)))
}

// AddCounter increments c by delta with the given attributes. A nil counter
// is a no-op.
func AddCounter(ctx context.Context, c metric.Int64Counter, delta int64, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.Add(ctx, delta, metric.WithAttributes(attrs...))
}

// AddGauge adjusts g by delta. A nil gauge is a no-op.
func AddGauge(ctx context.Context, g metric.Int64UpDownCounter, delta int64) {
	if g == nil {
		return
	}
	g.Add(ctx, delta)
}
