package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name for pipeline spans.
const TracerName = "bookpipe"

// Span attribute keys
const (
	AttrRunID      = "run_id"
	AttrStage      = "stage"
	AttrErrorCode  = "error_code"
	AttrDurationMs = "duration_ms"
	attrCounterPfx = "count."
)

// SpanRun is the root span of a pipeline run.
const SpanRun = "bookpipe.run"

// Tracer starts spans for runs and stages.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer backed by the global provider.
func NewTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer(TracerName)}
}

// StartRunSpan starts the root span for a run.
func (t *Tracer) StartRunSpan(ctx context.Context, runID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanRun,
		trace.WithAttributes(attribute.String(AttrRunID, runID)),
	)
}

// StartStageSpan starts a span for a pipeline stage.
func (t *Tracer) StartStageSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, fmt.Sprintf("bookpipe.stage.%s", stage),
		trace.WithAttributes(attribute.String(AttrStage, stage)),
	)
}

// SpanHelper sets common attributes on a span.
type SpanHelper struct {
	span trace.Span
}

// NewSpanHelper wraps span.
func NewSpanHelper(span trace.Span) *SpanHelper {
	return &SpanHelper{span: span}
}

// SetCounters records audit counters as span attributes.
func (h *SpanHelper) SetCounters(counters map[string]int64) {
	for name, v := range counters {
		h.span.SetAttributes(attribute.Int64(attrCounterPfx+name, v))
	}
}

// SetDuration sets the duration attribute.
func (h *SpanHelper) SetDuration(durationMs int64) {
	h.span.SetAttributes(attribute.Int64(AttrDurationMs, durationMs))
}

// SetError records an error on the span.
func (h *SpanHelper) SetError(err error, code string) {
	h.span.SetStatus(codes.Error, err.Error())
	h.span.SetAttributes(attribute.String(AttrErrorCode, code))
	h.span.RecordError(err)
}

// SetSuccess marks the span as successful.
func (h *SpanHelper) SetSuccess() {
	h.span.SetStatus(codes.Ok, "")
}

// GetTraceID returns the trace ID from the context.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().HasTraceID() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}
