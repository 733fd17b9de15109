package tracing

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records pipeline and listener metrics. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	runsTotal        metric.Int64Counter
	runDuration      metric.Float64Histogram
	dispatchDuration metric.Float64Histogram
	pullsTotal       metric.Int64Counter
	messagesPulled   metric.Int64Counter

	listenersMu sync.RWMutex
	listeners   func() int
}

// NewMetrics creates the instruments on the given meter provider.
func NewMetrics(meterProvider metric.MeterProvider) (*Metrics, error) {
	meter := meterProvider.Meter("courier")
	m := &Metrics{}

	var err error
	m.runsTotal, err = meter.Int64Counter(
		"courier_runs_total",
		metric.WithDescription("Total number of pipeline runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	m.runDuration, err = meter.Float64Histogram(
		"courier_run_duration_seconds",
		metric.WithDescription("Pipeline run duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.dispatchDuration, err = meter.Float64Histogram(
		"courier_dispatch_duration_seconds",
		metric.WithDescription("Target dispatch latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.pullsTotal, err = meter.Int64Counter(
		"courier_pubsub_pulls_total",
		metric.WithDescription("Total number of Pub/Sub pull calls"),
		metric.WithUnit("{pull}"),
	)
	if err != nil {
		return nil, err
	}

	m.messagesPulled, err = meter.Int64Counter(
		"courier_pubsub_messages_total",
		metric.WithDescription("Total number of Pub/Sub messages received by pull listeners"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"courier_active_listeners",
		metric.WithDescription("Number of running pull listeners"),
		metric.WithUnit("{listener}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			m.listenersMu.RLock()
			count := m.listeners
			m.listenersMu.RUnlock()
			if count != nil {
				observer.Observe(int64(count()))
			}
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordRun records a finished pipeline run.
func (m *Metrics) RecordRun(ctx context.Context, integrationID, source, status string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("integration", integrationID),
		attribute.String("source", source),
		attribute.String("status", status),
	)
	m.runsTotal.Add(ctx, 1, attrs)
	m.runDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordDispatch records one target delivery attempt.
func (m *Metrics) RecordDispatch(ctx context.Context, targetType, status string, latency time.Duration) {
	if m == nil {
		return
	}
	m.dispatchDuration.Record(ctx, latency.Seconds(), metric.WithAttributes(
		attribute.String("target", targetType),
		attribute.String("status", status),
	))
}

// RecordPull records one pull call and the number of messages it returned.
func (m *Metrics) RecordPull(ctx context.Context, integrationID string, messages int, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.pullsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("integration", integrationID),
		attribute.String("result", result),
	))
	if messages > 0 {
		m.messagesPulled.Add(ctx, int64(messages), metric.WithAttributes(
			attribute.String("integration", integrationID),
		))
	}
}

// SetListenerCounter installs the source for the active listener gauge.
func (m *Metrics) SetListenerCounter(count func() int) {
	if m == nil {
		return
	}
	m.listenersMu.Lock()
	m.listeners = count
	m.listenersMu.Unlock()
}
