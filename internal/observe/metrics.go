// Package observe provides application-wide observability primitives for
// Escriba: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
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

// meterName is the instrumentation scope name used for all Escriba metrics.
const meterName = "github.com/escriba-ai/escriba"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// ChunkProcessDuration tracks per-chunk consolidation latency.
	ChunkProcessDuration metric.Float64Histogram

	// DictionaryCheckDuration tracks glossary lookup latency per segment.
	DictionaryCheckDuration metric.Float64Histogram

	// OracleConfirmDuration tracks completion-confirmation oracle latency.
	OracleConfirmDuration metric.Float64Histogram

	// OracleEnhanceDuration tracks enhancement oracle latency.
	OracleEnhanceDuration metric.Float64Histogram

	// --- Counters ---

	// SegmentsFinalized counts flushed segments. Use with attribute:
	//   attribute.String("flush_reason", ...)
	SegmentsFinalized metric.Int64Counter

	// ChunksDropped counts discarded malformed chunks. Use with attribute:
	//   attribute.String("reason", ...)
	ChunksDropped metric.Int64Counter

	// DictionaryCorrections counts applied glossary corrections. Use with
	// attribute: attribute.String("category", ...)
	DictionaryCorrections metric.Int64Counter

	// --- Error counters ---

	// OracleErrors counts oracle failures. Use with attribute:
	//   attribute.String("op", ...)
	OracleErrors metric.Int64Counter

	// EnhanceFallbacks counts segments finalized in degraded (local
	// formatter) mode.
	EnhanceFallbacks metric.Int64Counter

	// --- Gauges ---

	// ActiveHearings tracks the number of live hearing sessions.
	ActiveHearings metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for speech-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ChunkProcessDuration, err = m.Float64Histogram("escriba.chunk.process.duration",
		metric.WithDescription("Latency of consolidating a single ASR chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DictionaryCheckDuration, err = m.Float64Histogram("escriba.dictionary.check.duration",
		metric.WithDescription("Latency of glossary lookups per segment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.OracleConfirmDuration, err = m.Float64Histogram("escriba.oracle.confirm.duration",
		metric.WithDescription("Latency of completion-confirmation oracle calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.OracleEnhanceDuration, err = m.Float64Histogram("escriba.oracle.enhance.duration",
		metric.WithDescription("Latency of enhancement oracle calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SegmentsFinalized, err = m.Int64Counter("escriba.segments.finalized",
		metric.WithDescription("Total finalized segments by flush reason."),
	); err != nil {
		return nil, err
	}
	if met.ChunksDropped, err = m.Int64Counter("escriba.chunks.dropped",
		metric.WithDescription("Total discarded malformed chunks by reason."),
	); err != nil {
		return nil, err
	}
	if met.DictionaryCorrections, err = m.Int64Counter("escriba.dictionary.corrections",
		metric.WithDescription("Total applied glossary corrections by category."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.OracleErrors, err = m.Int64Counter("escriba.oracle.errors",
		metric.WithDescription("Total oracle failures by operation."),
	); err != nil {
		return nil, err
	}
	if met.EnhanceFallbacks, err = m.Int64Counter("escriba.enhance.fallbacks",
		metric.WithDescription("Total segments finalized in degraded local mode."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveHearings, err = m.Int64UpDownCounter("escriba.active_hearings",
		metric.WithDescription("Number of live hearing sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("escriba.http.request.duration",
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSegmentFinalized records a finalized segment with its flush reason.
func (m *Metrics) RecordSegmentFinalized(ctx context.Context, flushReason string) {
	m.SegmentsFinalized.Add(ctx, 1,
		metric.WithAttributes(attribute.String("flush_reason", flushReason)),
	)
}

// RecordChunkDropped records a discarded chunk with the discard reason.
func (m *Metrics) RecordChunkDropped(ctx context.Context, reason string) {
	m.ChunksDropped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordOracleError records an oracle failure for the given operation
// ("confirm" or "enhance").
func (m *Metrics) RecordOracleError(ctx context.Context, op string) {
	m.OracleErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("op", op)),
	)
}

// RecordDictionaryCorrection records an applied glossary correction.
func (m *Metrics) RecordDictionaryCorrection(ctx context.Context, category string) {
	m.DictionaryCorrections.Add(ctx, 1,
		metric.WithAttributes(attribute.String("category", category)),
	)
}
