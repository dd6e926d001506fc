package otelx

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// StoredTrace is a W3C trace context kept in a database row, so work picked
// up later by another process continues the trace that produced it.
type StoredTrace struct {
	Parent string
	State  string
}

func CaptureTrace(ctx context.Context) StoredTrace {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return StoredTrace{Parent: carrier.Get("traceparent"), State: carrier.Get("tracestate")}
}

func (s StoredTrace) Empty() bool {
	return s.Parent == "" && s.State == ""
}

// Restore returns ctx carrying the stored trace as its remote parent. An
// empty StoredTrace returns ctx unchanged.
func (s StoredTrace) Restore(ctx context.Context) context.Context {
	if s.Empty() {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier{
		"traceparent": s.Parent,
		"tracestate":  s.State,
	})
}

func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
