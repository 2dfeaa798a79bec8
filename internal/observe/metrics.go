// Package observe provides application-wide observability primitives for
// Murmel: OpenTelemetry metrics, tracing, structured logging, and HTTP
// middleware that ties them together.
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

// meterName is the instrumentation scope name used for all Murmel metrics.
const meterName = "github.com/lumora/murmel"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per turn stage ---

	// CaptureDuration tracks how long one recording session ran, from first
	// frame read to utterance end.
	CaptureDuration metric.Float64Histogram

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks chat completion latency.
	LLMDuration metric.Float64Histogram

	// TTSFirstChunk tracks time from synthesis start to the first audio
	// chunk arriving (the latency the prebuffer must absorb).
	TTSFirstChunk metric.Float64Histogram

	// PlaybackDuration tracks full playback session length.
	PlaybackDuration metric.Float64Histogram

	// --- Counters ---

	// Turns counts completed turns. Use with attribute:
	//   attribute.String("outcome", ...) — "ok", "no_speech", "stt_empty",
	//   "stt_error", "exit".
	Turns metric.Int64Counter

	// PlaybackUnderruns counts device write underruns during playback.
	PlaybackUnderruns metric.Int64Counter

	// Alerts counts alerts fired by the supervisor. Use with attribute:
	//   attribute.String("kind", ...) — "stt_slow", "llm_slow", "tts_slow",
	//   "mic_slow", "no_speech_streak", "offline", "online".
	Alerts metric.Int64Counter

	// NetworkTransitions counts online/offline edges. Use with attribute:
	//   attribute.String("state", "online"|"offline").
	NetworkTransitions metric.Int64Counter

	// BackendErrors counts failed best-effort backend calls. Use with
	// attribute: attribute.String("op", ...).
	BackendErrors metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
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
	if met.CaptureDuration, err = m.Float64Histogram("murmel.capture.duration",
		metric.WithDescription("Length of one recording session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.STTDuration, err = m.Float64Histogram("murmel.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("murmel.llm.duration",
		metric.WithDescription("Latency of chat completion."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSFirstChunk, err = m.Float64Histogram("murmel.tts.first_chunk",
		metric.WithDescription("Time from synthesis start to the first audio chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDuration, err = m.Float64Histogram("murmel.playback.duration",
		metric.WithDescription("Full playback session length."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Turns, err = m.Int64Counter("murmel.turns",
		metric.WithDescription("Completed conversational turns by outcome."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackUnderruns, err = m.Int64Counter("murmel.playback.underruns",
		metric.WithDescription("Device write underruns during playback."),
	); err != nil {
		return nil, err
	}
	if met.Alerts, err = m.Int64Counter("murmel.alerts",
		metric.WithDescription("Alerts fired by the supervisor, by kind."),
	); err != nil {
		return nil, err
	}
	if met.NetworkTransitions, err = m.Int64Counter("murmel.network.transitions",
		metric.WithDescription("Online/offline transition edges, by state."),
	); err != nil {
		return nil, err
	}
	if met.BackendErrors, err = m.Int64Counter("murmel.backend.errors",
		metric.WithDescription("Failed best-effort backend calls, by operation."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("murmel.http.request.duration",
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen with
// the global provider).
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

// RecordTurn records a completed turn with its outcome.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordAlert records an alert fired by the supervisor.
func (m *Metrics) RecordAlert(ctx context.Context, kind string) {
	m.Alerts.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordNetworkTransition records one online/offline edge.
func (m *Metrics) RecordNetworkTransition(ctx context.Context, state string) {
	m.NetworkTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

// RecordBackendError records a failed best-effort backend call.
func (m *Metrics) RecordBackendError(ctx context.Context, op string) {
	m.BackendErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

// RecordDuration records d in seconds on one of the stage histograms.
func (m *Metrics) RecordDuration(ctx context.Context, h metric.Float64Histogram, d time.Duration, attrs ...attribute.KeyValue) {
	h.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}
