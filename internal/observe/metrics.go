// Package observe provides application-wide observability primitives for
// turnguard: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all turnguard metrics.
const meterName = "github.com/MrWong99/turnguard"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use: the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// DecisionDuration tracks ShouldInterrupt latency, including the
	// debounce wait for interim fragments.
	DecisionDuration metric.Float64Histogram

	// Decisions counts decisions. Use with attributes:
	//   attribute.String("reason", ...), attribute.Bool("interrupt", ...)
	Decisions metric.Int64Counter

	// StateTransitions counts agent state changes. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	StateTransitions metric.Int64Counter

	// DispatchErrors counts failed side effects. Use with attribute:
	//   attribute.String("action", ...)
	DispatchErrors metric.Int64Counter

	// AuditDropped counts decision records dropped because the audit queue
	// was full.
	AuditDropped metric.Int64Counter

	// PendingTranscriptions tracks interim fragments waiting on their
	// debounce delay.
	PendingTranscriptions metric.Int64UpDownCounter

	// ActiveSessions tracks the number of live conversation sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request time, or the session lifetime
	// for WebSocket connections. Attributes: method, path and status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Final
// decisions land in the lowest buckets; debounced ones near the delay.
var latencyBuckets = []float64{
	0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.2, 0.3, 0.5, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.DecisionDuration, err = m.Float64Histogram("turnguard.decision.duration",
		metric.WithDescription("Latency of interruption decisions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Decisions, err = m.Int64Counter("turnguard.decisions",
		metric.WithDescription("Total interruption decisions by reason."),
	); err != nil {
		return nil, err
	}
	if met.StateTransitions, err = m.Int64Counter("turnguard.state.transitions",
		metric.WithDescription("Total agent state transitions by from and to state."),
	); err != nil {
		return nil, err
	}
	if met.DispatchErrors, err = m.Int64Counter("turnguard.dispatch.errors",
		metric.WithDescription("Total failed dispatch side effects by action."),
	); err != nil {
		return nil, err
	}
	if met.AuditDropped, err = m.Int64Counter("turnguard.audit.dropped",
		metric.WithDescription("Decision records dropped because the audit queue was full."),
	); err != nil {
		return nil, err
	}

	if met.PendingTranscriptions, err = m.Int64UpDownCounter("turnguard.pending_transcriptions",
		metric.WithDescription("Interim transcripts waiting on the debounce delay."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("turnguard.active_sessions",
		metric.WithDescription("Number of live conversation sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("turnguard.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
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

// RecordDecision records a decision counter increment and its latency.
func (m *Metrics) RecordDecision(ctx context.Context, reason string, interrupt bool, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("reason", reason),
		attribute.Bool("interrupt", interrupt),
	)
	m.Decisions.Add(ctx, 1, attrs)
	m.DecisionDuration.Record(ctx, seconds, attrs)
}

// RecordStateTransition records an agent state change.
func (m *Metrics) RecordStateTransition(ctx context.Context, from, to string) {
	m.StateTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordDispatchError records a failed dispatch side effect.
func (m *Metrics) RecordDispatchError(ctx context.Context, action string) {
	m.DispatchErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}
