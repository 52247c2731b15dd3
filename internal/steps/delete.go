package steps

import (
	"context"
	"fmt"

	"github.com/basket/go-refine/internal/engine"
	"github.com/basket/go-refine/internal/thread"
)

// Condition decides whether a Delete runs.
type Condition int

const (
	Exec Condition = iota
	Skip
)

func (c Condition) String() string {
	if c == Skip {
		return "SKIP"
	}
	return "EXEC"
}

func (c Condition) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// ConditionFunc inspects the context before a delete.
type ConditionFunc func(ctx context.Context, ec *engine.Context) (Condition, error)

// DeleteOutput is the recorded output of Delete and Reset.
type DeleteOutput struct {
	Ref     string    `json:"ref"`
	Outcome Condition `json:"outcome"`
}

// Delete removes the content of the artifact bound to Slot. When is
// optional; returning Skip makes the step a recorded no-op.
type Delete struct {
	slug string
	Slot engine.Slot
	When ConditionFunc
}

func NewDelete(slot engine.Slot, when ConditionFunc) *Delete {
	return &Delete{slug: "delete-" + string(slot), Slot: slot, When: when}
}

// NewReset deletes the feedback artifact unconditionally, so a round never
// starts with stale notes.
func NewReset() *Delete {
	return &Delete{slug: "reset", Slot: engine.SlotFeedback}
}

func (d *Delete) Slug() string      { return d.slug }
func (d *Delete) Form() thread.Form { return thread.FormCompute }

func (d *Delete) Execute(ctx context.Context, ec *engine.Context) (engine.Result, error) {
	a, err := ec.Stash.Artifact(d.Slot)
	if err != nil {
		return engine.Result{}, err
	}
	in := map[string]any{"slot": string(d.Slot)}
	out := DeleteOutput{Ref: a.Ref().String(), Outcome: Exec}

	if d.When != nil {
		cond, err := d.When(ctx, ec)
		if err != nil {
			return engine.Result{}, fmt.Errorf("delete %s condition: %w", a.Ref(), err)
		}
		switch cond {
		case Skip:
			out.Outcome = Skip
			return engine.Result{Input: in, Output: out}, nil
		case Exec:
		default:
			return engine.Result{}, fmt.Errorf("delete %s condition: unknown outcome %d", a.Ref(), int(cond))
		}
	}

	if err := a.Del(ctx); err != nil {
		return engine.Result{}, fmt.Errorf("delete %s: %w", a.Ref(), err)
	}
	return engine.Result{Input: in, Output: out}, nil
}
