// Package observe provides application-wide observability primitives for
// the oracle service: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all oracle metrics.
const meterName = "github.com/astraloracle/oracle"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ProviderDuration tracks generative provider call latency. Use with
	// attribute.String("kind", ...).
	ProviderDuration metric.Float64Histogram

	// LiveSessionDuration tracks how long live oracle sessions stay connected.
	LiveSessionDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ReadingsGenerated counts completed readings. Use with attribute:
	//   attribute.String("kind", "tarot"|"soulmate")
	ReadingsGenerated metric.Int64Counter

	// LiveSessionsEnded counts finished live sessions. Use with attributes:
	//   attribute.String("oracle", ...), attribute.String("reason", ...)
	LiveSessionsEnded metric.Int64Counter

	// FramesSent counts outbound microphone frames sent to the speech agent.
	FramesSent metric.Int64Counter

	// FramesDropped counts microphone blocks dropped while muted.
	FramesDropped metric.Int64Counter

	// BuffersScheduled counts inbound speech buffers placed on the playback clock.
	BuffersScheduled metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of connected live sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...), attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// generative calls, which range from sub-second text to multi-second images.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40,
}

// sessionBuckets covers live sessions up to the eight minute budget.
var sessionBuckets = []float64{
	5, 15, 30, 60, 120, 240, 360, 480,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ProviderDuration, err = m.Float64Histogram("oracle.provider.duration",
		metric.WithDescription("Latency of generative provider calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LiveSessionDuration, err = m.Float64Histogram("oracle.live.session.duration",
		metric.WithDescription("Connected time of live oracle sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("oracle.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ReadingsGenerated, err = m.Int64Counter("oracle.readings.generated",
		metric.WithDescription("Total readings generated by kind."),
	); err != nil {
		return nil, err
	}
	if met.LiveSessionsEnded, err = m.Int64Counter("oracle.live.sessions.ended",
		metric.WithDescription("Total live sessions ended by oracle and reason."),
	); err != nil {
		return nil, err
	}
	if met.FramesSent, err = m.Int64Counter("oracle.live.frames.sent",
		metric.WithDescription("Outbound microphone frames sent to the speech agent."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("oracle.live.frames.dropped",
		metric.WithDescription("Microphone blocks dropped while muted."),
	); err != nil {
		return nil, err
	}
	if met.BuffersScheduled, err = m.Int64Counter("oracle.live.buffers.scheduled",
		metric.WithDescription("Inbound speech buffers scheduled for playback."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("oracle.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("oracle.active_sessions",
		metric.WithDescription("Number of connected live oracle sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("oracle.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
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

// RecordProviderRequest records a provider request counter increment with
// the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordProviderCall records the outcome and latency of one generative call.
func (m *Metrics) RecordProviderCall(ctx context.Context, provider, kind string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		m.RecordProviderError(ctx, provider, kind)
	}
	m.RecordProviderRequest(ctx, provider, kind, status)
	m.ProviderDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordReading records a completed reading of the given kind.
func (m *Metrics) RecordReading(ctx context.Context, kind string) {
	m.ReadingsGenerated.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordSessionEnd records the end of a live session that stayed connected
// for d.
func (m *Metrics) RecordSessionEnd(ctx context.Context, oracle, reason string, d time.Duration) {
	m.LiveSessionsEnded.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("oracle", oracle),
			attribute.String("reason", reason),
		),
	)
	if d > 0 {
		m.LiveSessionDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("oracle", oracle)))
	}
}
