// Package observe provides application-wide observability primitives for
// Parley: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [Init] bridges
// them to a Prometheus registry scraped via the /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Parley metrics.
const meterName = "github.com/MrWong99/parley"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// Latency.

	// ConnectDuration tracks how long the live provider handshake takes.
	// Use with attribute.String("provider", ...).
	ConnectDuration metric.Float64Histogram

	// CritiqueDuration tracks post-session critique latency.
	CritiqueDuration metric.Float64Histogram

	// Session activity.

	// LiveEvents counts inbound live events. Use with attribute:
	//   attribute.String("kind", ...)
	LiveEvents metric.Int64Counter

	// Turns counts completed turns. Use with attribute:
	//   attribute.String("role", ...)
	Turns metric.Int64Counter

	// Interruptions counts barge-ins reported by the remote.
	Interruptions metric.Int64Counter

	// Failures.

	// DecodeErrors counts inbound audio payloads that could not be decoded.
	DecodeErrors metric.Int64Counter

	// SendFailures counts outbound audio chunks that could not be sent.
	SendFailures metric.Int64Counter

	// SessionErrors counts errors that ended a session. Use with attribute:
	//   attribute.String("kind", ...)
	SessionErrors metric.Int64Counter


	// ActiveSessions tracks the number of live practice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...),
	//   attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// network handshakes and model calls.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30,
}

// NewMetrics creates every instrument on mp. The first creation failure is
// returned alongside any others, joined.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &builder{meter: mp.Meter(meterName)}
	met := &Metrics{
		ConnectDuration:  b.latency("parley.live.connect.duration", "Latency of the live provider handshake."),
		CritiqueDuration: b.latency("parley.critique.duration", "Latency of post-session critique."),

		LiveEvents:    b.counter("parley.live.events", "Total inbound live events by kind."),
		Turns:         b.counter("parley.turns", "Total completed turns by role."),
		Interruptions: b.counter("parley.interruptions", "Total barge-ins reported by the live provider."),

		DecodeErrors:  b.counter("parley.decode.errors", "Total inbound audio payloads that failed to decode."),
		SendFailures:  b.counter("parley.send.failures", "Total outbound audio chunks that failed to send."),
		SessionErrors: b.counter("parley.session.errors", "Total session-ending errors by kind."),
	}

	var err error
	met.ActiveSessions, err = b.meter.Int64UpDownCounter("parley.active_sessions",
		metric.WithDescription("Number of live practice sessions."))
	b.errs = append(b.errs, err)
	met.HTTPRequestDuration, err = b.meter.Float64Histogram("parley.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"))
	b.errs = append(b.errs, err)

	if err := errors.Join(b.errs...); err != nil {
		return nil, fmt.Errorf("observe: create instruments: %w", err)
	}
	return met, nil
}

// builder collects instrument creation errors so NewMetrics can report them
// together.
type builder struct {
	meter metric.Meter
	errs  []error
}

func (b *builder) latency(name, desc string) metric.Float64Histogram {
	h, err := b.meter.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	)
	b.errs = append(b.errs, err)
	return h
}

func (b *builder) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	b.errs = append(b.errs, err)
	return c
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide [Metrics] bound to the global meter
// provider at first use. Components fall back to it when none is injected.
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

// RecordConnect records a live provider handshake duration.
func (m *Metrics) RecordConnect(ctx context.Context, provider string, d time.Duration) {
	m.ConnectDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}

// RecordLiveEvent increments the inbound event counter for kind.
func (m *Metrics) RecordLiveEvent(ctx context.Context, kind string) {
	m.LiveEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordTurn increments the completed turn counter for role.
func (m *Metrics) RecordTurn(ctx context.Context, role string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role)))
}

// RecordSessionError increments the session error counter for kind.
func (m *Metrics) RecordSessionError(ctx context.Context, kind string) {
	m.SessionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
