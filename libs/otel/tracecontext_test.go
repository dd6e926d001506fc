package otelx

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func TestStoredTraceRoundTrip(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	stored := CaptureTrace(ctx)
	if stored.Empty() {
		t.Fatal("expected traceparent")
	}
	restored := stored.Restore(context.Background())
	if got := trace.SpanContextFromContext(restored).TraceID(); got != traceID {
		t.Fatalf("expected %s, got %s", traceID, got)
	}
	if !CaptureTrace(context.Background()).Empty() {
		t.Fatal("no active span should capture nothing")
	}
	if (StoredTrace{}).Restore(ctx) != ctx {
		t.Fatal("empty trace must return the input context")
	}
}
