// Package observe provides the observability primitives shared by every
// VerseCatch component: OpenTelemetry metrics, tracing helpers, trace-aware
// logging and the HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed for
// Prometheus scraping by the exporter installed in [InitProvider]. Tests should
// build their own [Metrics] with [NewMetrics] and a ManualReader-backed
// provider to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all VerseCatch metrics.
const meterName = "github.com/MrWong99/versecatch"

// Detection outcomes used as the "status" attribute.
const (
	DetectMatch       = "match"
	DetectNoMatch     = "no_match"
	DetectError       = "error"
	DetectTimeout     = "timeout"
	DetectUnavailable = "unavailable"
)

// Metrics holds all OpenTelemetry instruments. All fields are safe for
// concurrent use.
type Metrics struct {
	// DetectionDuration tracks detection-engine latency per segment.
	//   attribute.String("status", ...)
	DetectionDuration metric.Float64Histogram

	// LedgerDuration tracks storage latency of ledger and achievement writes.
	//   attribute.String("op", ...)
	LedgerDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time.
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// SegmentsReceived counts binary segments accepted into a queue.
	SegmentsReceived metric.Int64Counter

	// SegmentsSkipped counts inbound frames that were not segments.
	//   attribute.String("reason", ...)
	SegmentsSkipped metric.Int64Counter

	// Detections counts processed segments by outcome.
	//   attribute.String("status", ...)
	Detections metric.Int64Counter

	// QuotesCaught counts individual quotes returned to clients.
	QuotesCaught metric.Int64Counter

	// LedgerErrors counts ledger operations that failed after retries.
	//   attribute.String("op", ...)
	LedgerErrors metric.Int64Counter

	// AchievementsUnlocked counts newly awarded achievements.
	//   attribute.String("tag", ...)
	AchievementsUnlocked metric.Int64Counter

	// FramesSent counts outbound text frames.
	//   attribute.String("kind", "quotes"|"error")
	FramesSent metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes.
	//   attribute.String("name", ...), attribute.String("to", ...)
	BreakerTransitions metric.Int64Counter

	// ActiveSessions tracks open WebSocket sessions.
	ActiveSessions metric.Int64UpDownCounter

	// QueuedSegments tracks segments waiting in any session queue.
	QueuedSegments metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries in seconds. Detection of
// a multi-second audio segment routinely takes several seconds.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.DetectionDuration, err = m.Float64Histogram("versecatch.detect.duration",
		metric.WithDescription("Latency of scripture detection per segment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LedgerDuration, err = m.Float64Histogram("versecatch.ledger.duration",
		metric.WithDescription("Latency of usage ledger and achievement operations."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("versecatch.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if met.SegmentsReceived, err = m.Int64Counter("versecatch.segments.received",
		metric.WithDescription("Audio segments accepted for detection."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsSkipped, err = m.Int64Counter("versecatch.segments.skipped",
		metric.WithDescription("Inbound frames skipped by reason."),
	); err != nil {
		return nil, err
	}
	if met.Detections, err = m.Int64Counter("versecatch.detections",
		metric.WithDescription("Processed segments by detection outcome."),
	); err != nil {
		return nil, err
	}
	if met.QuotesCaught, err = m.Int64Counter("versecatch.quotes.caught",
		metric.WithDescription("Scripture quotes returned to clients."),
	); err != nil {
		return nil, err
	}
	if met.LedgerErrors, err = m.Int64Counter("versecatch.ledger.errors",
		metric.WithDescription("Ledger operations that failed after retries, by operation."),
	); err != nil {
		return nil, err
	}
	if met.AchievementsUnlocked, err = m.Int64Counter("versecatch.achievements.unlocked",
		metric.WithDescription("Achievements awarded, by tag."),
	); err != nil {
		return nil, err
	}
	if met.FramesSent, err = m.Int64Counter("versecatch.frames.sent",
		metric.WithDescription("Outbound WebSocket frames by kind."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("versecatch.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by breaker and target state."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("versecatch.active_sessions",
		metric.WithDescription("Number of open detection sessions."),
	); err != nil {
		return nil, err
	}
	if met.QueuedSegments, err = m.Int64UpDownCounter("versecatch.queue.depth",
		metric.WithDescription("Segments waiting for detection across all sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call from [otel.GetMeterProvider]. Call it after [InitProvider].
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordDetection records one processed segment with its outcome and latency.
func (m *Metrics) RecordDetection(ctx context.Context, status string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.Detections.Add(ctx, 1, attrs)
	m.DetectionDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordLedgerOp records the latency of a ledger operation and counts it as
// an error when err is non-nil.
func (m *Metrics) RecordLedgerOp(ctx context.Context, op string, d time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("op", op))
	m.LedgerDuration.Record(ctx, d.Seconds(), attrs)
	if err != nil {
		m.LedgerErrors.Add(ctx, 1, attrs)
	}
}

// RecordSkippedSegment counts an inbound frame that was not a segment.
func (m *Metrics) RecordSkippedSegment(ctx context.Context, reason string) {
	m.SegmentsSkipped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordFrame counts an outbound frame.
func (m *Metrics) RecordFrame(ctx context.Context, kind string) {
	m.FramesSent.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordAchievement counts an unlocked achievement.
func (m *Metrics) RecordAchievement(ctx context.Context, tag string) {
	m.AchievementsUnlocked.Add(ctx, 1, metric.WithAttributes(attribute.String("tag", tag)))
}

// RecordBreakerTransition counts a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, name, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("name", name),
		attribute.String("to", to),
	))
}
