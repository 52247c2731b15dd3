package otel

import (
	"context"
	"testing"
)

func TestNewMetrics_AllInstrumentsCreated(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: true, Exporter: "none"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	if m.StepDuration == nil || m.StepsTotal == nil || m.StepErrors == nil {
		t.Fatal("step instruments missing")
	}
	if m.CycleRepetitions == nil || m.ActiveCycles == nil {
		t.Fatal("cycle instruments missing")
	}
	if m.LLMCallDuration == nil || m.LLMTokens == nil || m.ArtifactBytes == nil {
		t.Fatal("llm/artifact instruments missing")
	}
}

func TestNewMetrics_Noop(t *testing.T) {
	m, err := NewMetrics(Noop().Meter)
	if err != nil {
		t.Fatalf("NewMetrics noop: %v", err)
	}
	m.StepsTotal.Add(context.Background(), 1)
	m.ActiveCycles.Add(context.Background(), -1)
}
