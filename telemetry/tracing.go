package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Span names.
const (
	SpanTagApply   = "tag.apply"
	SpanCascade    = "supervision.cascade"
	SpanAggregate  = "supervision.aggregate"
	SpanScan       = "heartbeat.scan"
	SpanIngressMsg = "bus.ingress"
)

// Tracer wraps an OpenTelemetry tracer with supervision span helpers.
type Tracer struct {
	tracer trace.Tracer
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if none is set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
	}
	return globalTracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer(name string) *Tracer {
	return &Tracer{tracer: otel.Tracer(name)}
}

// NewTracerFromProvider creates a tracer from an explicit provider.
func NewTracerFromProvider(tp trace.TracerProvider, name string) *Tracer {
	return &Tracer{tracer: tp.Tracer(name)}
}

// StartSpan starts a span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartApplySpan starts a span around one store update.
func (t *Tracer) StartApplySpan(ctx context.Context, tagID string, full bool) (context.Context, trace.Span) {
	return t.StartSpan(ctx, SpanTagApply,
		attribute.String("tag.id", tagID),
		attribute.Bool("tag.full_update", full),
	)
}

// StartSupervisionSpan starts a cascade or aggregate span for an entity
// status transition.
func (t *Tracer) StartSupervisionSpan(ctx context.Context, name, entityID, kind, status string) (context.Context, trace.Span) {
	return t.StartSpan(ctx, name,
		attribute.String("entity.id", entityID),
		attribute.String("entity.kind", kind),
		attribute.String("entity.status", status),
	)
}

// End records err, if any, and ends the span.
func End(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
