// OpenTelemetry tracing for update handling.
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

// Tracer wraps OpenTelemetry tracing with bot-specific helpers.
type Tracer struct {
	tracer trace.Tracer
	debug  bool // When true, include message text in span attributes
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

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
	}
	return globalTracer
}

// NewTracer creates a new tracer with the given name.
func NewTracer(name string, debug bool) *Tracer {
	return &Tracer{
		tracer: otel.Tracer(name),
		debug:  debug,
	}
}

// NewTracerFrom creates a tracer from an explicit provider.
func NewTracerFrom(tp trace.TracerProvider, name string, debug bool) *Tracer {
	return &Tracer{
		tracer: tp.Tracer(name),
		debug:  debug,
	}
}

// Debug returns whether debug mode is enabled.
func (t *Tracer) Debug() bool {
	return t.debug
}

// --- Update Spans ---

// UpdateSpanOptions describes an inbound update.
type UpdateSpanOptions struct {
	UpdateID int64
	Kind     string
	ChatID   int64
	UserID   int64
	TraceID  string
	Text     string // Only included if debug=true
}

// StartUpdateSpan starts the root span for one inbound update.
func (t *Tracer) StartUpdateSpan(ctx context.Context, opts UpdateSpanOptions) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "update."+opts.Kind, trace.WithSpanKind(trace.SpanKindConsumer))
	attrs := []attribute.KeyValue{
		attribute.Int64("update.id", opts.UpdateID),
		attribute.String("update.kind", opts.Kind),
		attribute.Int64("chat.id", opts.ChatID),
	}
	if opts.UserID != 0 {
		attrs = append(attrs, attribute.Int64("user.id", opts.UserID))
	}
	if opts.TraceID != "" {
		attrs = append(attrs, attribute.String("chatkit.trace_id", opts.TraceID))
	}
	if t.debug && opts.Text != "" {
		attrs = append(attrs, attribute.String("update.text", truncate(opts.Text, 1000)))
	}
	span.SetAttributes(attrs...)
	return ctx, span
}

// UpdateResult is the outcome of handling an update.
type UpdateResult struct {
	// Feature is the handler that consumed the update, or "".
	Feature string
	// Duplicate marks a redelivered update that was skipped.
	Duplicate bool
}

// EndUpdateSpan ends an update span with its outcome.
func (t *Tracer) EndUpdateSpan(span trace.Span, res UpdateResult, err error) {
	attrs := []attribute.KeyValue{
		attribute.Bool("update.handled", res.Feature != ""),
	}
	if res.Feature != "" {
		attrs = append(attrs, attribute.String("update.feature", res.Feature))
	}
	if res.Duplicate {
		attrs = append(attrs, attribute.Bool("update.duplicate", true))
	}
	span.SetAttributes(attrs...)
	endWithStatus(span, err)
}

// --- Feature Spans ---

// StartFeatureSpan starts a span for one handler offered an update.
func (t *Tracer) StartFeatureSpan(ctx context.Context, feature string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "feature."+feature, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attribute.String("feature.name", feature))
	return ctx, span
}

// EndFeatureSpan ends a feature span.
func (t *Tracer) EndFeatureSpan(span trace.Span, consumed bool, err error) {
	span.SetAttributes(attribute.Bool("feature.consumed", consumed))
	endWithStatus(span, err)
}

func endWithStatus(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// --- Helpers ---

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
