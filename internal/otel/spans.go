package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for refine spans.
var (
	AttrRole       = attribute.Key("refine.role")
	AttrStepSlug   = attribute.Key("refine.step.slug")
	AttrStepForm   = attribute.Key("refine.step.form")
	AttrStitchID   = attribute.Key("refine.stitch.id")
	AttrCycleID    = attribute.Key("refine.cycle.id")
	AttrRepetition = attribute.Key("refine.cycle.repetition")
	AttrDecision   = attribute.Key("refine.cycle.decision")
	AttrModel      = attribute.Key("refine.llm.model")
	AttrArtifact   = attribute.Key("refine.artifact.ref")
)

// StartSpan starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartClientSpan starts a span for an outbound call (LLM API).
func StartClientSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
