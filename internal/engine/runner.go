package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/basket/go-refine/internal/bus"
	otelPkg "github.com/basket/go-refine/internal/otel"
	"github.com/basket/go-refine/internal/persistence"
	"github.com/basket/go-refine/internal/shared"
	"github.com/basket/go-refine/internal/stream"
	"github.com/basket/go-refine/internal/thread"
)

// Journal persists completed stitches.
type Journal interface {
	AppendStitch(ctx context.Context, st thread.Stitch) error
}

// Sink durably records completed stitches for inspection.
type Sink interface {
	Emit(ctx context.Context, ev stream.Event) (stream.Written, error)
}

// CheckpointStore persists feedback cycle progress.
type CheckpointStore interface {
	SaveCycleCheckpoint(ctx context.Context, cp persistence.CycleCheckpoint) error
}

// Runner executes steps one at a time and records each completed execution.
type Runner struct {
	journal     Journal
	sink        Sink
	checkpoints CheckpointStore
	bus         *bus.Bus
	tracer      trace.Tracer
	metrics     *otelPkg.Metrics
	logger      *slog.Logger
	now         func() time.Time
	newID       func() string
}

type RunnerOption func(*Runner)

func WithJournal(j Journal) RunnerOption { return func(r *Runner) { r.journal = j } }

func WithSink(s Sink) RunnerOption { return func(r *Runner) { r.sink = s } }

func WithCheckpoints(c CheckpointStore) RunnerOption { return func(r *Runner) { r.checkpoints = c } }

func WithBus(b *bus.Bus) RunnerOption { return func(r *Runner) { r.bus = b } }

func WithTracer(t trace.Tracer) RunnerOption { return func(r *Runner) { r.tracer = t } }

func WithMetrics(m *otelPkg.Metrics) RunnerOption { return func(r *Runner) { r.metrics = m } }

func WithLogger(l *slog.Logger) RunnerOption { return func(r *Runner) { r.logger = l } }

// WithClock overrides the stitch timestamp source.
func WithClock(now func() time.Time) RunnerOption { return func(r *Runner) { r.now = now } }

// NewRunner creates a Runner. Every collaborator is optional.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		tracer: nooptrace.NewTracerProvider().Tracer(otelPkg.TracerName),
		logger: slog.Default(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// NewContext returns an execution context for role with a fresh thread.
func (r *Runner) NewContext(role string, stash *Stash) *Context {
	return &Context{Role: role, Thread: thread.New(role), Stash: stash, runner: r}
}

// Execute runs step and appends its stitch to ec's thread. The stitch is
// journaled and emitted to the sink before Execute returns. A failing step
// appends nothing and its error is returned unchanged.
func (r *Runner) Execute(ctx context.Context, step Step, ec *Context) (thread.Stitch, error) {
	ctx = shared.WithRole(ctx, ec.Role)
	ctx, span := otelPkg.StartSpan(ctx, r.tracer, "step."+step.Slug(),
		otelPkg.AttrRole.String(ec.Role),
		otelPkg.AttrStepSlug.String(step.Slug()),
		otelPkg.AttrStepForm.String(string(step.Form())),
		otelPkg.AttrCycleID.String(shared.CycleID(ctx)),
	)
	defer span.End()

	logger := r.logger.With("role", ec.Role, "step", step.Slug(), "form", string(step.Form()), "trace_id", shared.TraceID(ctx))
	attrs := metric.WithAttributes(
		attribute.String("step", step.Slug()),
		attribute.String("form", string(step.Form())),
	)
	start := time.Now()

	res, err := step.Execute(ctx, ec)
	if r.metrics != nil {
		r.metrics.StepDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if r.metrics != nil {
			r.metrics.StepErrors.Add(ctx, 1, attrs)
		}
		logger.Error("step failed", "error", err)
		r.bus.Publish(bus.TopicStitchFailed, bus.StitchEvent{
			Role:    ec.Role,
			Slug:    step.Slug(),
			Form:    string(step.Form()),
			CycleID: shared.CycleID(ctx),
			Error:   err.Error(),
		})
		return thread.Stitch{}, err
	}

	st := thread.Stitch{
		ID:        r.newID(),
		Role:      ec.Role,
		Slug:      step.Slug(),
		Form:      step.Form(),
		Input:     res.Input,
		Output:    res.Output,
		CreatedAt: r.now(),
	}
	span.SetAttributes(otelPkg.AttrStitchID.String(st.ID))

	// The stitch joins the thread only once it is journaled and emitted.
	if r.journal != nil {
		if err := r.journal.AppendStitch(ctx, st); err != nil {
			span.RecordError(err)
			return thread.Stitch{}, fmt.Errorf("journal stitch %s: %w", st.ID, err)
		}
	}
	if r.sink != nil {
		if _, err := r.sink.Emit(ctx, stream.Event{Stitch: st, CycleID: shared.CycleID(ctx)}); err != nil {
			span.RecordError(err)
			return thread.Stitch{}, fmt.Errorf("emit stitch %s: %w", st.ID, err)
		}
	}
	st = ec.Thread.Append(st)
	if r.metrics != nil {
		r.metrics.StepsTotal.Add(ctx, 1, attrs)
		if w, ok := res.Output.(ArtifactWriter); ok {
			r.metrics.ArtifactBytes.Add(ctx, int64(w.WrittenBytes()), attrs)
		}
	}

	logger.Debug("step completed", "stitch_id", st.ID, "duration_ms", time.Since(start).Milliseconds())
	r.bus.Publish(bus.TopicStitchAppended, bus.StitchEvent{
		StitchID: st.ID,
		Role:     ec.Role,
		Slug:     st.Slug,
		Form:     string(st.Form),
		CycleID:  shared.CycleID(ctx),
	})
	return st, nil
}
