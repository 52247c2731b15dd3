// Package feedback captures reviewer notes between generation rounds.
//
// Every Asker blocks until the reviewer answers (or ctx ends). A feedback
// cycle waiting on an Asker is only as responsive as the reviewer.
package feedback

import (
	"context"
	"errors"
	"strings"
)

// ErrCancelled means the reviewer aborted instead of answering.
var ErrCancelled = errors.New("feedback cancelled")

// Question is what the reviewer is asked about.
type Question struct {
	// Prompt is shown to the reviewer.
	Prompt string
	// Subject names what is being reviewed, e.g. the output path.
	Subject    string
	Repetition int
}

// Answer is the reviewer's verdict. HasNotes false means the reviewer is
// satisfied.
type Answer struct {
	HasNotes bool   `json:"has_notes"`
	Notes    string `json:"notes,omitempty"`
}

// Asker asks a reviewer for notes.
type Asker interface {
	Ask(ctx context.Context, q Question) (Answer, error)
}

// answerFrom turns raw reviewer text into an Answer.
func answerFrom(text string) Answer {
	notes := strings.TrimSpace(text)
	if notes == "" {
		return Answer{}
	}
	return Answer{HasNotes: true, Notes: notes}
}

// AskerFunc adapts a function to an Asker.
type AskerFunc func(ctx context.Context, q Question) (Answer, error)

func (f AskerFunc) Ask(ctx context.Context, q Question) (Answer, error) { return f(ctx, q) }
