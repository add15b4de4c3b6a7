// Package observe provides the observability primitives shared by the voice,
// reminder and tutor packages: OpenTelemetry metrics, tracing, trace-aware
// logging and an HTTP middleware for the operational endpoints.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported for
// Prometheus by [InitProvider]. [DefaultMetrics] serves production code; tests
// use [NewMetrics] with their own [metric.MeterProvider].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all studybuddy metrics.
const meterName = "github.com/fisimaster/studybuddy"

// Metrics holds all OpenTelemetry instruments of the application. The
// underlying OTel types synchronise internally.
type Metrics struct {
	// ReminderChecks counts scheduler ticks.
	ReminderChecks metric.Int64Counter

	// ReminderDeliveries counts reminders handed to the notification sink.
	ReminderDeliveries metric.Int64Counter

	// ListenSessions counts finished capture sessions by
	// attribute.String("outcome", ...): completed, stopped, no_speech, error.
	ListenSessions metric.Int64Counter

	// RecognitionErrors counts hard recognition errors by
	// attribute.String("kind", ...).
	RecognitionErrors metric.Int64Counter

	// Utterances counts read-aloud utterances by attribute.String("status", ...):
	// completed, cancelled, failed.
	Utterances metric.Int64Counter

	// ModeTransitions counts voice coordinator transitions by
	// attribute.String("from", ...) and attribute.String("to", ...).
	ModeTransitions metric.Int64Counter

	// ActiveVoiceSessions is the number of live voice coordinators.
	ActiveVoiceSessions metric.Int64UpDownCounter

	// TutorDuration tracks lesson, quiz and chat generation latency by
	// attribute.String("kind", ...).
	TutorDuration metric.Float64Histogram

	// TutorRequests counts generation requests by kind and status.
	TutorRequests metric.Int64Counter

	// StorageErrors counts key-value store failures by
	// attribute.String("op", ...).
	StorageErrors metric.Int64Counter

	// HTTPRequestDuration tracks request latency of the operational endpoints.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds sized for model calls.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ReminderChecks, err = m.Int64Counter("studybuddy.reminder.checks",
		metric.WithDescription("Total reminder due checks."),
	); err != nil {
		return nil, err
	}
	if met.ReminderDeliveries, err = m.Int64Counter("studybuddy.reminder.deliveries",
		metric.WithDescription("Total reminders delivered to the notification sink."),
	); err != nil {
		return nil, err
	}
	if met.ListenSessions, err = m.Int64Counter("studybuddy.voice.listen_sessions",
		metric.WithDescription("Total finished capture sessions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.RecognitionErrors, err = m.Int64Counter("studybuddy.voice.recognition_errors",
		metric.WithDescription("Total hard speech recognition errors."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("studybuddy.voice.utterances",
		metric.WithDescription("Total read-aloud utterances by status."),
	); err != nil {
		return nil, err
	}
	if met.ModeTransitions, err = m.Int64Counter("studybuddy.voice.mode_transitions",
		metric.WithDescription("Total voice mode transitions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveVoiceSessions, err = m.Int64UpDownCounter("studybuddy.voice.active_sessions",
		metric.WithDescription("Number of live voice coordinators."),
	); err != nil {
		return nil, err
	}
	if met.TutorDuration, err = m.Float64Histogram("studybuddy.tutor.duration",
		metric.WithDescription("Latency of lesson, quiz and chat generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TutorRequests, err = m.Int64Counter("studybuddy.tutor.requests",
		metric.WithDescription("Total generation requests by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.StorageErrors, err = m.Int64Counter("studybuddy.storage.errors",
		metric.WithDescription("Total key-value store failures by operation."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("studybuddy.http.request.duration",
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
// first call from [otel.GetMeterProvider]. Panics if instrument creation fails.
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

// RecordListenSession counts one finished capture session.
func (m *Metrics) RecordListenSession(ctx context.Context, outcome string) {
	m.ListenSessions.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
}

// RecordRecognitionError counts one hard recognition error.
func (m *Metrics) RecordRecognitionError(ctx context.Context, kind string) {
	m.RecognitionErrors.Add(ctx, 1, metric.WithAttributes(Attr("kind", kind)))
}

// RecordUtterance counts one finished utterance.
func (m *Metrics) RecordUtterance(ctx context.Context, status string) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(Attr("status", status)))
}

// RecordModeTransition counts one voice mode change.
func (m *Metrics) RecordModeTransition(ctx context.Context, from, to string) {
	m.ModeTransitions.Add(ctx, 1, metric.WithAttributes(Attr("from", from), Attr("to", to)))
}

// RecordTutorRequest records latency and outcome of one generation request.
func (m *Metrics) RecordTutorRequest(ctx context.Context, kind, status string, d time.Duration) {
	m.TutorDuration.Record(ctx, d.Seconds(), metric.WithAttributes(Attr("kind", kind)))
	m.TutorRequests.Add(ctx, 1, metric.WithAttributes(Attr("kind", kind), Attr("status", status)))
}

// RecordStorageError counts one failed store operation.
func (m *Metrics) RecordStorageError(ctx context.Context, op string) {
	m.StorageErrors.Add(ctx, 1, metric.WithAttributes(Attr("op", op)))
}
