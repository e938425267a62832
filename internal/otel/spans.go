package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for Planvault spans.
var (
	AttrOperation = attribute.Key("planvault.operation")
	AttrSessionID = attribute.Key("planvault.session.id")
	AttrProjectID = attribute.Key("planvault.project.id")
	AttrPlanID    = attribute.Key("planvault.plan.id")
	AttrTaskID    = attribute.Key("planvault.task.id")
	AttrStatus    = attribute.Key("planvault.status")
)

// StartSpan is a convenience wrapper that starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartServerSpan starts a span for an inbound adapter request.
func StartServerSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}
