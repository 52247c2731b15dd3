// Package steps holds the artifact steps a feedback cycle is built from.
package steps

import (
	"context"
	"fmt"
	"strings"

	"github.com/basket/go-refine/internal/artifact"
	"github.com/basket/go-refine/internal/engine"
	"github.com/basket/go-refine/internal/thread"
)

// Delimiter separates rounds in an appended artifact.
const Delimiter = "---"

// Mode selects how Set writes.
type Mode int

const (
	// Upsert replaces the artifact's content.
	Upsert Mode = iota
	// Append adds a delimited section after the current content.
	Append
)

func (m Mode) String() string {
	if m == Append {
		return "append"
	}
	return "upsert"
}

// SetOutput is the recorded output of Set.
type SetOutput struct {
	Content string               `json:"content"`
	Write   artifact.WriteResult `json:"write"`
}

// Set writes the content of the most recent stitch with string content into
// the artifact bound to Slot.
type Set struct {
	slug string
	Slot engine.Slot
	Mode Mode
	// Source narrows which stitch the content is taken from.
	Source thread.Predicate
}

func NewSet(slot engine.Slot, mode Mode) *Set {
	return &Set{slug: "set-" + string(slot), Slot: slot, Mode: mode}
}

// Named overrides the step slug.
func (s *Set) Named(slug string) *Set { s.slug = slug; return s }

// From restricts the source stitch to those matching pred.
func (s *Set) From(pred thread.Predicate) *Set { s.Source = pred; return s }

func (s *Set) Slug() string      { return s.slug }
func (s *Set) Form() thread.Form { return thread.FormCompute }

func (s *Set) Execute(ctx context.Context, ec *engine.Context) (engine.Result, error) {
	src, ok := ec.Thread.Latest(thread.All(thread.OutputHasContent, s.Source))
	if !ok {
		return engine.Result{}, &engine.MissingUpstreamOutputError{
			Role:       ec.Role,
			Slug:       s.slug,
			Field:      "content",
			HistoryLen: ec.Thread.Len(),
		}
	}
	content, _ := thread.ContentOf(src.Output)

	a, err := ec.Stash.Artifact(s.Slot)
	if err != nil {
		return engine.Result{}, err
	}

	if s.Mode == Append {
		cur, err := a.Get(ctx)
		if err != nil {
			return engine.Result{}, fmt.Errorf("read %s before append: %w", a.Ref(), err)
		}
		if cur != nil && strings.TrimSpace(cur.Content) != "" {
			content = joinRounds(cur.Content, content)
		}
	}

	wr, err := a.Set(ctx, artifact.Content{Content: content})
	if err != nil {
		return engine.Result{}, fmt.Errorf("write %s: %w", a.Ref(), err)
	}
	in := map[string]any{"slot": string(s.Slot), "mode": s.Mode.String(), "source": src.ID}
	return engine.Result{Input: in, Output: SetOutput{Content: content, Write: wr}}, nil
}

func joinRounds(current, next string) string {
	return strings.Join([]string{current, "", Delimiter, "", next}, "\n")
}

func (o SetOutput) ContentValue() string { return o.Content }

func (o SetOutput) WrittenBytes() int { return o.Write.Bytes }
