// Package observe provides application-wide observability primitives for
// the render worker: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all render-worker
// metrics.
const meterName = "github.com/meridianaudio/renderworker"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Durations ---

	// StageDuration tracks per-pipeline-stage wall-clock time. Use with
	// attributes: attribute.String("stage", ...), attribute.String("environment", ...)
	StageDuration metric.Float64Histogram

	// JobDuration tracks total job render time from dequeue to terminal
	// state. Use with attribute.String("environment", ...).
	JobDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency by provider.
	TTSDuration metric.Float64Histogram

	// --- Counters ---

	// JobsProcessed counts jobs reaching a terminal state. Use with
	// attributes: attribute.String("environment", ...), attribute.String("status", ...)
	JobsProcessed metric.Int64Counter

	// UploadRetries counts retry attempts made by UploadRender. Use with
	// attribute.String("environment", ...).
	UploadRetries metric.Int64Counter

	// TTSProviderErrors counts TTS adapter failures by provider.
	TTSProviderErrors metric.Int64Counter

	// AudioProcessErrors counts non-zero exits from the audio process
	// driver, by operation.
	AudioProcessErrors metric.Int64Counter

	// LayerDownloadWarnings counts recovered background-music download
	// failures.
	LayerDownloadWarnings metric.Int64Counter

	// QueueErrors counts backing-store failures surfaced through the
	// circuit breaker, by operation.
	QueueErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveJobs tracks in-flight job count per environment.
	ActiveJobs metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) spanning a
// single ffmpeg filter invocation up to a multi-minute full-job render.
var latencyBuckets = []float64{
	0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.StageDuration, err = m.Float64Histogram("renderworker.stage.duration",
		metric.WithDescription("Wall-clock time of a single pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.JobDuration, err = m.Float64Histogram("renderworker.job.duration",
		metric.WithDescription("Total render time from dequeue to terminal state."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("renderworker.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.JobsProcessed, err = m.Int64Counter("renderworker.jobs.processed",
		metric.WithDescription("Total jobs reaching a terminal state, by environment and status."),
	); err != nil {
		return nil, err
	}
	if met.UploadRetries, err = m.Int64Counter("renderworker.upload.retries",
		metric.WithDescription("Total upload retry attempts."),
	); err != nil {
		return nil, err
	}
	if met.TTSProviderErrors, err = m.Int64Counter("renderworker.tts.errors",
		metric.WithDescription("Total TTS adapter failures by provider."),
	); err != nil {
		return nil, err
	}
	if met.AudioProcessErrors, err = m.Int64Counter("renderworker.audioprocess.errors",
		metric.WithDescription("Total non-zero exits from the audio process driver, by operation."),
	); err != nil {
		return nil, err
	}
	if met.LayerDownloadWarnings, err = m.Int64Counter("renderworker.layer_download.warnings",
		metric.WithDescription("Total recovered background-music download failures."),
	); err != nil {
		return nil, err
	}
	if met.QueueErrors, err = m.Int64Counter("renderworker.queue.errors",
		metric.WithDescription("Total backing-store failures, by operation."),
	); err != nil {
		return nil, err
	}

	if met.ActiveJobs, err = m.Int64UpDownCounter("renderworker.active_jobs",
		metric.WithDescription("In-flight job count per environment."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("renderworker.http.request.duration",
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

// RecordJobProcessed records a job reaching a terminal state.
func (m *Metrics) RecordJobProcessed(ctx context.Context, environment, status string) {
	m.JobsProcessed.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("environment", environment),
			attribute.String("status", status),
		),
	)
}

// RecordStageDuration records the wall-clock time of one pipeline stage.
func (m *Metrics) RecordStageDuration(ctx context.Context, environment, stage string, seconds float64) {
	m.StageDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("environment", environment),
			attribute.String("stage", stage),
		),
	)
}

// RecordUploadRetry records one retry attempt made by UploadRender.
func (m *Metrics) RecordUploadRetry(ctx context.Context, environment string) {
	m.UploadRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("environment", environment)))
}

// RecordTTSProviderError records a TTS adapter failure.
func (m *Metrics) RecordTTSProviderError(ctx context.Context, provider string) {
	m.TTSProviderErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}

// RecordAudioProcessError records a non-zero audio-process-driver exit.
func (m *Metrics) RecordAudioProcessError(ctx context.Context, op string) {
	m.AudioProcessErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

// RecordLayerDownloadWarning records a recovered background-music download
// failure.
func (m *Metrics) RecordLayerDownloadWarning(ctx context.Context, environment string) {
	m.LayerDownloadWarnings.Add(ctx, 1, metric.WithAttributes(attribute.String("environment", environment)))
}

// RecordQueueError records a backing-store failure surfaced through the
// circuit breaker.
func (m *Metrics) RecordQueueError(ctx context.Context, op string) {
	m.QueueErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}
