package engine

import (
	"errors"
	"fmt"

	"github.com/basket/go-refine/internal/artifact"
)

var (
	// ErrMissingUpstreamOutput: no prior stitch carries the output a step needs.
	ErrMissingUpstreamOutput = errors.New("missing upstream output")
	// ErrMissingRequiredArtifact: a stash slot a step needs is not bound.
	ErrMissingRequiredArtifact = errors.New("missing required artifact")
	// ErrLoopExhausted: a feedback cycle hit its threshold without releasing.
	ErrLoopExhausted = errors.New("feedback loop exhausted")
)

// MissingUpstreamOutputError reports a step that found no matching stitch in
// its role's thread.
type MissingUpstreamOutputError struct {
	Role       string
	Slug       string
	Field      string // the output field the step looked for
	HistoryLen int
}

func (e *MissingUpstreamOutputError) Error() string {
	return fmt.Sprintf("%s: step %q (role %q) found no stitch with a string %q output among %d stitches",
		ErrMissingUpstreamOutput, e.Slug, e.Role, e.Field, e.HistoryLen)
}

func (e *MissingUpstreamOutputError) Unwrap() error { return ErrMissingUpstreamOutput }

// MissingRequiredArtifactError reports an unbound or nil stash slot.
type MissingRequiredArtifactError struct {
	Role string
	Slot Slot
}

func (e *MissingRequiredArtifactError) Error() string {
	return fmt.Sprintf("%s: role %q has no artifact bound to slot %q", ErrMissingRequiredArtifact, e.Role, e.Slot)
}

func (e *MissingRequiredArtifactError) Unwrap() error { return ErrMissingRequiredArtifact }

// LoopExhaustedError is returned alongside a HALT result. It is not a
// failure of any step; it means the cycle needs a human to look at it.
type LoopExhaustedError struct {
	CycleID     string
	Role        string
	Repetitions int
	Threshold   int
	Feedback    artifact.Ref
}

func (e *LoopExhaustedError) Error() string {
	return fmt.Sprintf("%s: cycle %s (role %q) halted after %d/%d repetitions with feedback still in %s",
		ErrLoopExhausted, e.CycleID, e.Role, e.Repetitions, e.Threshold, e.Feedback)
}

func (e *LoopExhaustedError) Unwrap() error { return ErrLoopExhausted }
