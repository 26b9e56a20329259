// Package observe provides application-wide observability primitives for
// Mnemovox: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all Mnemovox metrics.
const meterName = "github.com/mnemovox/mnemovox"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per engine stage ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// EmbeddingDuration tracks embedding computation latency.
	EmbeddingDuration metric.Float64Histogram

	// RetrievalDuration tracks per-source retrieval latency. Use with
	// attribute: attribute.String("source", ...)
	RetrievalDuration metric.Float64Histogram

	// IngestDuration tracks end-to-end ingestion latency per recording.
	IngestDuration metric.Float64Histogram

	// ChatTurnDuration tracks end-to-end chat turn latency.
	ChatTurnDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ChatTurns counts answered chat turns. Use with attribute:
	//   attribute.String("status", "ok"|"degraded")
	ChatTurns metric.Int64Counter

	// IngestedChunks counts transcript chunks written to the stores. Use
	// with attribute: attribute.String("store", "pgvector"|"neo4j")
	IngestedChunks metric.Int64Counter

	// PluginCalls counts plugin executions. Use with attributes:
	//   attribute.String("plugin", ...), attribute.String("status", ...)
	PluginCalls metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// RetrievalErrors counts failed retrieval sources. Use with attribute:
	//   attribute.String("source", ...)
	RetrievalErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live chat sessions.
	ActiveSessions metric.Int64UpDownCounter

	// QueuedJobs tracks the number of ingestion jobs waiting or running.
	QueuedJobs metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// retrieval and inference latencies.
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
	if met.STTDuration, err = m.Float64Histogram("mnemovox.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EmbeddingDuration, err = m.Float64Histogram("mnemovox.embedding.duration",
		metric.WithDescription("Latency of embedding computation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RetrievalDuration, err = m.Float64Histogram("mnemovox.retrieval.duration",
		metric.WithDescription("Latency of retrieval by source."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.IngestDuration, err = m.Float64Histogram("mnemovox.ingest.duration",
		metric.WithDescription("End-to-end ingestion latency per recording."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ChatTurnDuration, err = m.Float64Histogram("mnemovox.chat.turn.duration",
		metric.WithDescription("End-to-end chat turn latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("mnemovox.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ChatTurns, err = m.Int64Counter("mnemovox.chat.turns",
		metric.WithDescription("Total chat turns by status."),
	); err != nil {
		return nil, err
	}
	if met.IngestedChunks, err = m.Int64Counter("mnemovox.ingest.chunks",
		metric.WithDescription("Total transcript chunks written by store."),
	); err != nil {
		return nil, err
	}
	if met.PluginCalls, err = m.Int64Counter("mnemovox.plugin.calls",
		metric.WithDescription("Total plugin executions by plugin name and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("mnemovox.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.RetrievalErrors, err = m.Int64Counter("mnemovox.retrieval.errors",
		metric.WithDescription("Total failed retrieval sources."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("mnemovox.active_sessions",
		metric.WithDescription("Number of live chat sessions."),
	); err != nil {
		return nil, err
	}
	if met.QueuedJobs, err = m.Int64UpDownCounter("mnemovox.queued_jobs",
		metric.WithDescription("Number of ingestion jobs waiting or running."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("mnemovox.http.request.duration",
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

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordChatTurn is a convenience method that records a chat turn counter
// increment with its status.
func (m *Metrics) RecordChatTurn(ctx context.Context, status string) {
	m.ChatTurns.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordIngestedChunks is a convenience method that records chunk writes
// for one store.
func (m *Metrics) RecordIngestedChunks(ctx context.Context, store string, n int64) {
	m.IngestedChunks.Add(ctx, n,
		metric.WithAttributes(attribute.String("store", store)),
	)
}

// RecordPluginCall is a convenience method that records a plugin execution
// counter increment with the standard attribute set.
func (m *Metrics) RecordPluginCall(ctx context.Context, plugin, status string) {
	m.PluginCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("plugin", plugin),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
