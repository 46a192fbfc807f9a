package oteladapters

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AntonStoeckl/entity-store-go/entitystore"
)

const attrStatus = "status"

// TracingCollector implements entitystore.TracingCollector with an OpenTelemetry tracer.
type TracingCollector struct {
	tracer trace.Tracer
}

// NewTracingCollector creates a collector; the tracer should come from the application's TracerProvider.
func NewTracingCollector(tracer trace.Tracer) *TracingCollector {
	return &TracingCollector{tracer: tracer}
}

// StartSpan starts a span as a child of the span in ctx, if any.
func (t *TracingCollector) StartSpan(
	ctx context.Context,
	name string,
	attrs map[string]string,
) (context.Context, entitystore.SpanContext) {
	spanCtx, span := t.tracer.Start(ctx, name, trace.WithAttributes(toAttributes(attrs)...))

	return spanCtx, &OTelSpanContext{span: span}
}

// FinishSpan adds attrs, sets the status and ends the span. Spans of other collectors are ignored.
func (t *TracingCollector) FinishSpan(spanCtx entitystore.SpanContext, status string, attrs map[string]string) {
	otelSpanCtx, ok := spanCtx.(*OTelSpanContext)
	if !ok {
		return
	}

	otelSpanCtx.span.SetAttributes(toAttributes(attrs)...)
	otelSpanCtx.SetStatus(status)
	otelSpanCtx.span.End()
}

var _ entitystore.TracingCollector = (*TracingCollector)(nil)

// OTelSpanContext wraps a trace.Span as entitystore.SpanContext.
type OTelSpanContext struct {
	span trace.Span
}

// SetStatus maps the store's status strings to span status codes. Unknown statuses become an attribute.
func (s *OTelSpanContext) SetStatus(status string) {
	switch status {
	case "success", "ok":
		s.span.SetStatus(codes.Ok, "")
	case "error":
		s.span.SetStatus(codes.Error, "operation failed")
	case "conflict":
		s.span.SetStatus(codes.Error, "concurrency conflict")
	case "canceled", "cancelled":
		s.span.SetStatus(codes.Error, "operation canceled")
	default:
		s.span.SetAttributes(attribute.String(attrStatus, status))
	}
}

func (s *OTelSpanContext) AddAttribute(key, value string) {
	s.span.SetAttributes(attribute.String(key, value))
}

var _ entitystore.SpanContext = (*OTelSpanContext)(nil)
