package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/basket/go-refine/internal/artifact"
	"github.com/basket/go-refine/internal/bus"
	"github.com/basket/go-refine/internal/persistence"
	"github.com/basket/go-refine/internal/shared"
	"github.com/basket/go-refine/internal/thread"
)

// DefaultThreshold is used when a Cycle has no positive threshold.
const DefaultThreshold = 10

// DecideSlug is the slug of the recorded decision stitch.
const DecideSlug = "decide"

// Outcome is the terminal state of a cycle.
type Outcome string

const (
	OutcomeRelease Outcome = "release"
	OutcomeHalt    Outcome = "halt"
)

// Decision is the verdict recorded after each repetition.
type Decision string

const (
	DecisionRepeat  Decision = "repeat"
	DecisionRelease Decision = "release"
	DecisionHalt    Decision = "halt"
)

// DecisionOutput is the output of the decide stitch.
type DecisionOutput struct {
	Decision   Decision `json:"decision"`
	Repetition int      `json:"repetition"`
	Threshold  int      `json:"threshold"`
	Feedback   string   `json:"feedback"`
}

// CycleResult reports how a cycle ended.
type CycleResult struct {
	Outcome     Outcome `json:"outcome"`
	Repetitions int     `json:"repetitions"`
	CycleID     string  `json:"cycle_id"`
}

// Cycle reruns Repeatee while the artifact in the Feedback slot holds
// content. It releases as soon as the feedback is empty or absent after a
// repetition, and halts once Threshold repetitions have run with feedback
// still pending. Errors from the repeatee end the cycle immediately; the
// cycle never retries them.
//
// Feedback capture inside the repeatee may block on a human. The cycle is
// only as responsive as that capture; cancel ctx to abandon it.
type Cycle struct {
	slug      string
	Repeatee  Step
	Feedback  Slot
	Threshold int
}

// NewCycle returns a cycle around repeatee. A threshold <= 0 means
// DefaultThreshold.
func NewCycle(slug string, repeatee Step, feedback Slot, threshold int) *Cycle {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Cycle{slug: slug, Repeatee: repeatee, Feedback: feedback, Threshold: threshold}
}

func (c *Cycle) Slug() string      { return c.slug }
func (c *Cycle) Form() thread.Form { return thread.FormRoute }

// Execute runs the cycle as a step. A HALT is returned as an error so a
// surrounding route stops.
func (c *Cycle) Execute(ctx context.Context, ec *Context) (Result, error) {
	in := map[string]any{"repeatee": c.Repeatee.Slug(), "feedback": string(c.Feedback), "threshold": c.threshold()}
	res, err := c.Run(ctx, ec)
	if err != nil {
		return Result{}, err
	}
	return Result{Input: in, Output: res}, nil
}

func (c *Cycle) threshold() int {
	if c.Threshold <= 0 {
		return DefaultThreshold
	}
	return c.Threshold
}

// Run drives the cycle to RELEASE or HALT. On HALT the result is returned
// together with a *LoopExhaustedError.
func (c *Cycle) Run(ctx context.Context, ec *Context) (*CycleResult, error) {
	if c.Repeatee == nil {
		return nil, fmt.Errorf("cycle %q has no repeatee", c.slug)
	}
	fb, err := ec.Stash.Artifact(c.Feedback)
	if err != nil {
		return nil, err
	}
	r := ec.runner
	threshold := c.threshold()
	cycleID := uuid.NewString()
	ctx = shared.WithCycleID(ctx, cycleID)
	logger := r.logger.With("cycle_id", cycleID, "role", ec.Role, "repeatee", c.Repeatee.Slug())

	cp := persistence.CycleCheckpoint{
		CycleID:     cycleID,
		RunID:       shared.RunID(ctx),
		Role:        ec.Role,
		FeedbackRef: fb.Ref().String(),
		Threshold:   threshold,
		Status:      persistence.CycleStatusRunning,
		StartedAt:   r.now(),
	}
	r.saveCheckpoint(ctx, cp)

	if r.metrics != nil {
		r.metrics.ActiveCycles.Add(ctx, 1)
		defer r.metrics.ActiveCycles.Add(ctx, -1)
	}
	event := bus.CycleEvent{CycleID: cycleID, Role: ec.Role, Threshold: threshold, Feedback: fb.Ref().String()}
	r.bus.Publish(bus.TopicCycleStarted, event)
	logger.Info("feedback cycle started", "threshold", threshold, "feedback", fb.Ref().String())

	fail := func(rep int, err error) (*CycleResult, error) {
		cp.Repetition = rep
		cp.Status = persistence.CycleStatusFailed
		cp.LastError = err.Error()
		r.saveTerminalCheckpoint(ctx, cp)
		ev := event
		ev.Repetition = rep
		r.bus.Publish(bus.TopicCycleFailed, ev)
		logger.Error("feedback cycle failed", "repetition", rep, "error", err)
		return nil, err
	}

	for rep := 1; ; rep++ {
		if err := ctx.Err(); err != nil {
			return fail(rep-1, err)
		}
		if _, err := ec.Run(ctx, c.Repeatee); err != nil {
			return fail(rep, err)
		}
		st, err := ec.Run(ctx, &decide{slot: c.Feedback, repetition: rep, threshold: threshold})
		if err != nil {
			return fail(rep, err)
		}
		out := st.Output.(DecisionOutput)
		if r.metrics != nil {
			r.metrics.CycleRepetitions.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", string(out.Decision))))
		}

		cp.Repetition = rep
		ev := event
		ev.Repetition = rep
		ev.Decision = string(out.Decision)

		switch out.Decision {
		case DecisionRelease:
			cp.Status = persistence.CycleStatusReleased
			r.saveTerminalCheckpoint(ctx, cp)
			r.bus.Publish(bus.TopicCycleReleased, ev)
			logger.Info("feedback cycle released", "repetitions", rep)
			return &CycleResult{Outcome: OutcomeRelease, Repetitions: rep, CycleID: cycleID}, nil
		case DecisionHalt:
			cp.Status = persistence.CycleStatusHalted
			r.saveTerminalCheckpoint(ctx, cp)
			r.bus.Publish(bus.TopicCycleHalted, ev)
			logger.Warn("feedback cycle halted with feedback pending", "repetitions", rep, "threshold", threshold)
			return &CycleResult{Outcome: OutcomeHalt, Repetitions: rep, CycleID: cycleID}, &LoopExhaustedError{
				CycleID:     cycleID,
				Role:        ec.Role,
				Repetitions: rep,
				Threshold:   threshold,
				Feedback:    fb.Ref(),
			}
		default:
			r.saveCheckpoint(ctx, cp)
			r.bus.Publish(bus.TopicCycleRepeat, ev)
			logger.Info("feedback pending; repeating", "repetition", rep)
		}
	}
}

// saveCheckpoint is best effort: the thread and stream remain the record of
// truth, so a checkpoint failure is logged and the cycle goes on.
func (r *Runner) saveCheckpoint(ctx context.Context, cp persistence.CycleCheckpoint) {
	if r.checkpoints == nil {
		return
	}
	if err := r.checkpoints.SaveCycleCheckpoint(ctx, cp); err != nil {
		r.logger.Warn("failed to save cycle checkpoint", "cycle_id", cp.CycleID, "status", cp.Status, "error", err)
	}
}

// saveTerminalCheckpoint records a final status even when ctx is already
// cancelled, so an interrupted cycle does not stay "running".
func (r *Runner) saveTerminalCheckpoint(ctx context.Context, cp persistence.CycleCheckpoint) {
	r.saveCheckpoint(context.WithoutCancel(ctx), cp)
}

// decide reads the feedback artifact once per repetition.
type decide struct {
	slot       Slot
	repetition int
	threshold  int
}

func (d *decide) Slug() string      { return DecideSlug }
func (d *decide) Form() thread.Form { return thread.FormDecide }

func (d *decide) Execute(ctx context.Context, ec *Context) (Result, error) {
	fb, err := ec.Stash.Artifact(d.slot)
	if err != nil {
		return Result{}, err
	}
	pending, err := artifact.HasContent(ctx, fb)
	if err != nil {
		return Result{}, fmt.Errorf("read feedback %s: %w", fb.Ref(), err)
	}
	out := DecisionOutput{Repetition: d.repetition, Threshold: d.threshold, Feedback: fb.Ref().String()}
	switch {
	case !pending:
		out.Decision = DecisionRelease
	case d.repetition >= d.threshold:
		out.Decision = DecisionHalt
	default:
		out.Decision = DecisionRepeat
	}
	in := map[string]any{"feedback": fb.Ref().String(), "repetition": d.repetition, "threshold": d.threshold}
	return Result{Input: in, Output: out}, nil
}

var _ Step = (*Cycle)(nil)
