package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "theragate"

// Metrics holds the OTLP-exported instruments. A nil *Metrics records nothing.
type Metrics struct {
	VerifyFailures   metric.Int64Counter
	Dispatches       metric.Int64Counter
	DispatchDuration metric.Float64Histogram
	Incidents        metric.Int64Counter
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.VerifyFailures, err = meter.Int64Counter("theragate.webhook.verify_failures",
		metric.WithDescription("Webhook deliveries rejected during signature verification"))
	if err != nil {
		return nil, err
	}

	m.Dispatches, err = meter.Int64Counter("theragate.webhook.dispatches",
		metric.WithDescription("Webhook events dispatched, by status"))
	if err != nil {
		return nil, err
	}

	m.DispatchDuration, err = meter.Float64Histogram("theragate.webhook.dispatch.duration_seconds",
		metric.WithDescription("Dispatch duration including retries"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	m.Incidents, err = meter.Int64Counter("theragate.incidents",
		metric.WithDescription("Incidents reported, by type"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordVerifyFailure counts a rejected delivery.
func (m *Metrics) RecordVerifyFailure(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.VerifyFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordDispatch counts one dispatch and its duration.
func (m *Metrics) RecordDispatch(ctx context.Context, eventType, status string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("event_type", eventType), attribute.String("status", status))
	m.Dispatches.Add(ctx, 1, attrs)
	m.DispatchDuration.Record(ctx, seconds, attrs)
}

// RecordIncident counts a reported incident.
func (m *Metrics) RecordIncident(ctx context.Context, incidentType string) {
	if m == nil {
		return
	}
	m.Incidents.Add(ctx, 1, metric.WithAttributes(attribute.String("type", incidentType)))
}
