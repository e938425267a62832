package otel

import (
	"context"
	"testing"
)

func TestInit_DisabledReturnsNoop(t *testing.T) {
	provider, err := Init(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("init disabled: %v", err)
	}
	if provider.Tracer == nil || provider.Meter == nil {
		t.Fatal("expected non-nil noop tracer and meter")
	}
	// Spans on a noop tracer must work without panicking.
	_, span := StartSpan(context.Background(), provider.Tracer, "create_plan",
		AttrSessionID.String("s1"))
	span.End()
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInit_StdoutExporter(t *testing.T) {
	provider, err := Init(context.Background(), Config{Enabled: true, Exporter: "none"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	defer func() { _ = provider.Shutdown(context.Background()) }()

	metrics, err := NewMetrics(provider.Meter)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	metrics.Transitions.Add(context.Background(), 1)
	metrics.OperationDuration.Record(context.Background(), 0.01)
}

func TestInit_UnknownExporterRejected(t *testing.T) {
	if _, err := Init(context.Background(), Config{Enabled: true, Exporter: "carrier-pigeon"}); err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}
