package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/supermarkhq/courier"

// Tracer provides OpenTelemetry tracing for delivery attempts.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a courier tracer.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartAttemptSpan starts a span for one delivery attempt.
func (t *Tracer) StartAttemptSpan(ctx context.Context, jobID, eventID, destinationID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "courier.delivery",
		trace.WithAttributes(
			attribute.String("courier.job_id", jobID),
			attribute.String("courier.event_id", eventID),
			attribute.String("courier.destination_id", destinationID),
		),
	)
}

// EndAttemptSpan ends a delivery attempt span with result attributes.
func (t *Tracer) EndAttemptSpan(span trace.Span, statusCode, latencyMs int, errMsg string) {
	span.SetAttributes(
		attribute.Int("http.status_code", statusCode),
		attribute.Int("courier.latency_ms", latencyMs),
	)
	if errMsg != "" {
		span.SetAttributes(attribute.String("courier.error", errMsg))
	}
	span.End()
}
