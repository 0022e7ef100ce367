package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "theragate"

func attributeServiceName(name string) attribute.KeyValue {
	return attribute.String("service.name", name)
}

// StartVerifySpan starts a span for signature verification of one delivery.
func StartVerifySpan(ctx context.Context, payloadBytes int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "webhook.verify",
		trace.WithAttributes(attribute.Int("webhook.payload_bytes", payloadBytes)),
	)
}

// StartDispatchSpan starts a span for dispatching one event.
func StartDispatchSpan(ctx context.Context, eventID, eventType string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "webhook.dispatch",
		trace.WithAttributes(
			attribute.String("webhook.event_id", eventID),
			attribute.String("webhook.event_type", eventType),
		),
	)
}

// StartEscalationSpan starts a span for reporting or escalating an incident.
func StartEscalationSpan(ctx context.Context, incidentType, host string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "incident.escalate",
		trace.WithAttributes(
			attribute.String("incident.type", incidentType),
			attribute.String("incident.host", host),
		),
	)
}

// EndSpan records err on span (if any) and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
