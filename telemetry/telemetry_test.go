package telemetry

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingTracer(t *testing.T, debug bool) (*Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { tp.Shutdown(context.Background()) })
	return NewTracerFrom(tp, "test", debug), rec
}

func attrs(kvs []attribute.KeyValue) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value, len(kvs))
	for _, kv := range kvs {
		m[kv.Key] = kv.Value
	}
	return m
}

func TestUpdateSpan(t *testing.T) {
	tr, rec := newRecordingTracer(t, false)

	ctx, span := tr.StartUpdateSpan(context.Background(), UpdateSpanOptions{
		UpdateID: 42,
		Kind:     "message",
		ChatID:   -100,
		UserID:   7,
		TraceID:  "abc",
		Text:     "secret",
	})
	_, child := tr.StartFeatureSpan(ctx, "quote")
	tr.EndFeatureSpan(child, true, nil)
	tr.EndUpdateSpan(span, UpdateResult{Feature: "quote"}, nil)

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(spans))
	}
	feature, update := spans[0], spans[1]

	if update.Name() != "update.message" {
		t.Errorf("update span name = %q", update.Name())
	}
	a := attrs(update.Attributes())
	if a["update.id"].AsInt64() != 42 || a["chat.id"].AsInt64() != -100 || a["user.id"].AsInt64() != 7 {
		t.Errorf("unexpected update attributes: %v", update.Attributes())
	}
	if a["update.feature"].AsString() != "quote" || !a["update.handled"].AsBool() {
		t.Errorf("unexpected result attributes: %v", update.Attributes())
	}
	if _, ok := a["update.text"]; ok {
		t.Error("text must not be recorded outside debug mode")
	}
	if update.Status().Code != codes.Ok {
		t.Errorf("status = %v, want Ok", update.Status().Code)
	}

	if feature.Parent().SpanID() != update.SpanContext().SpanID() {
		t.Error("feature span should be a child of the update span")
	}
	if !attrs(feature.Attributes())["feature.consumed"].AsBool() {
		t.Error("feature.consumed should be true")
	}
}

func TestUpdateSpan_DebugText(t *testing.T) {
	tr, rec := newRecordingTracer(t, true)
	if !tr.Debug() {
		t.Fatal("debug tracer should report debug")
	}

	long := strings.Repeat("x", 1200)
	_, span := tr.StartUpdateSpan(context.Background(), UpdateSpanOptions{Kind: "message", Text: long})
	tr.EndUpdateSpan(span, UpdateResult{}, nil)

	a := attrs(rec.Ended()[0].Attributes())
	text := a["update.text"].AsString()
	if len(text) != 1003 || !strings.HasSuffix(text, "...") {
		t.Errorf("text length = %d, want truncated to 1000+...", len(text))
	}
	if a["update.handled"].AsBool() {
		t.Error("unconsumed update should not be handled")
	}
}

func TestUpdateSpan_Error(t *testing.T) {
	tr, rec := newRecordingTracer(t, false)

	_, span := tr.StartUpdateSpan(context.Background(), UpdateSpanOptions{Kind: "chat_member"})
	tr.EndUpdateSpan(span, UpdateResult{Duplicate: true}, errors.New("boom"))

	s := rec.Ended()[0]
	if s.Status().Code != codes.Error || s.Status().Description != "boom" {
		t.Errorf("status = %v %q", s.Status().Code, s.Status().Description)
	}
	if len(s.Events()) == 0 {
		t.Error("error should be recorded as an event")
	}
	if !attrs(s.Attributes())["update.duplicate"].AsBool() {
		t.Error("duplicate flag missing")
	}
}

func TestGetTracer_DefaultsToNoop(t *testing.T) {
	SetGlobalTracer(nil)
	tr := GetTracer()
	_, span := tr.StartUpdateSpan(context.Background(), UpdateSpanOptions{Kind: "message"})
	tr.EndUpdateSpan(span, UpdateResult{}, nil)
	if span.SpanContext().IsValid() {
		t.Error("noop tracer should produce invalid span contexts")
	}

	custom := NewTracer("custom", false)
	SetGlobalTracer(custom)
	defer SetGlobalTracer(nil)
	if GetTracer() != custom {
		t.Error("GetTracer should return the global tracer")
	}
}

func TestSampler(t *testing.T) {
	if got := sampler(0).Description(); got != sdktrace.AlwaysSample().Description() {
		t.Errorf("sampler(0) = %s", got)
	}
	if got := sampler(1).Description(); got != sdktrace.AlwaysSample().Description() {
		t.Errorf("sampler(1) = %s", got)
	}
	if got := sampler(0.25).Description(); !strings.Contains(got, "TraceIDRatioBased") {
		t.Errorf("sampler(0.25) = %s", got)
	}
}

func TestInitProvider_RequiresEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	if _, err := InitProvider(context.Background(), ProviderConfig{}); !errors.Is(err, ErrNoEndpoint) {
		t.Fatalf("expected ErrNoEndpoint, got %v", err)
	}
}

func TestInitProvider_UnknownProtocol(t *testing.T) {
	_, err := InitProvider(context.Background(), ProviderConfig{Endpoint: "localhost:4317", Protocol: "udp"})
	if err == nil || !strings.Contains(err.Error(), "unknown protocol") {
		t.Fatalf("expected unknown protocol error, got %v", err)
	}
}

func TestInitProvider_RejectsSampleRatio(t *testing.T) {
	for _, ratio := range []float64{-0.1, 1.5} {
		_, err := InitProvider(context.Background(), ProviderConfig{Endpoint: "localhost:4317", SampleRatio: ratio})
		if !errors.Is(err, ErrBadSampleRatio) {
			t.Errorf("ratio %v: expected ErrBadSampleRatio, got %v", ratio, err)
		}
	}
}

func TestResolveEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "https://collector:4318")
	if got := resolveEndpoint(""); got != "collector:4318" {
		t.Errorf("resolveEndpoint from env = %q", got)
	}
	if got := resolveEndpoint("http://localhost:4317"); got != "localhost:4317" {
		t.Errorf("resolveEndpoint = %q", got)
	}
}

func TestProvider_ExportsUpdateSpansWithDeployment(t *testing.T) {
	cfg := ProviderConfig{
		ServiceVersion: "1.2.3",
		Attributes:     map[string]string{"state_backend": "redis", "image_pool": "rockyball"},
	}
	res, err := newResource(cfg)
	if err != nil {
		t.Fatalf("newResource: %v", err)
	}
	exporter := tracetest.NewInMemoryExporter()
	p := newProvider(exporter, res, cfg)

	_, span := p.Tracer().StartUpdateSpan(context.Background(), UpdateSpanOptions{UpdateID: 1, Kind: "message"})
	p.Tracer().EndUpdateSpan(span, UpdateResult{Feature: "retroq"}, nil)
	t.Cleanup(func() { p.Shutdown(context.Background()) })
	if err := p.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 exported span, got %d", len(spans))
	}
	got := attrs(spans[0].Resource.Attributes())
	if got["service.name"].AsString() != ServiceName {
		t.Errorf("service.name = %q", got["service.name"].AsString())
	}
	if got["service.version"].AsString() != "1.2.3" {
		t.Errorf("service.version = %q", got["service.version"].AsString())
	}
	if got["chatkit.state_backend"].AsString() != "redis" || got["chatkit.image_pool"].AsString() != "rockyball" {
		t.Errorf("deployment attributes missing: %v", got)
	}
}
