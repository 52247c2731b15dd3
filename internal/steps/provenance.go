package steps

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/basket/go-refine/internal/artifact"
	"github.com/basket/go-refine/internal/engine"
	"github.com/basket/go-refine/internal/filename"
	"github.com/basket/go-refine/internal/shared"
	"github.com/basket/go-refine/internal/thread"
)

// ProvenanceExt is the extension of the source record written next to an
// output file.
const ProvenanceExt = ".src.md"

// pather is implemented by file-backed artifacts.
type pather interface {
	Path() string
}

// ProvenanceOutput is the recorded output of WriteProvenance.
type ProvenanceOutput struct {
	Path   string               `json:"path"`
	Source string               `json:"source"`
	Write  artifact.WriteResult `json:"write"`
}

func (o ProvenanceOutput) WrittenBytes() int { return o.Write.Bytes }

// CompanionPath returns the source-record path for an output path. Attempt
// markers are dropped so every attempt shares one record.
func CompanionPath(outputPath string) string {
	return filename.WithExtension(filename.StripAttemptSuffix(outputPath), ProvenanceExt)
}

// WriteProvenance records which prompt produced the file bound to Slot.
type WriteProvenance struct {
	slug string
	Slot engine.Slot
	now  func() time.Time
}

func NewWriteProvenance(slot engine.Slot) *WriteProvenance {
	return &WriteProvenance{slug: "provenance", Slot: slot, now: time.Now}
}

func (s *WriteProvenance) Slug() string      { return s.slug }
func (s *WriteProvenance) Form() thread.Form { return thread.FormCompute }

func (s *WriteProvenance) Execute(ctx context.Context, ec *engine.Context) (engine.Result, error) {
	a, err := ec.Stash.Artifact(s.Slot)
	if err != nil {
		return engine.Result{}, err
	}
	fa, ok := a.(pather)
	if !ok {
		return engine.Result{}, fmt.Errorf("provenance needs a file artifact in slot %q, got %s", s.Slot, a.Ref())
	}
	gen, ok := ec.Thread.Latest(thread.OfForm(thread.FormImagine))
	if !ok {
		return engine.Result{}, &engine.MissingUpstreamOutputError{
			Role:       ec.Role,
			Slug:       s.slug,
			Field:      "prompt",
			HistoryLen: ec.Thread.Len(),
		}
	}
	prompt, _ := thread.StringField(gen.Input, "prompt")

	companion := CompanionPath(fa.Path())
	rec, err := artifact.NewFile(companion)
	if err != nil {
		return engine.Result{}, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Source of %s\n\n", fa.Path())
	fmt.Fprintf(&b, "- generated: %s\n", s.now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- stitch: %s (%s)\n", gen.ID, gen.Slug)
	if id := shared.CycleID(ctx); id != "" {
		fmt.Fprintf(&b, "- cycle: %s\n", id)
	}
	fmt.Fprintf(&b, "- role: %s\n\n## Prompt\n\n%s\n", ec.Role, prompt)

	wr, err := rec.Set(ctx, artifact.Content{Content: b.String()})
	if err != nil {
		return engine.Result{}, fmt.Errorf("write provenance %s: %w", companion, err)
	}
	in := map[string]any{"slot": string(s.Slot), "source": gen.ID}
	return engine.Result{Input: in, Output: ProvenanceOutput{Path: companion, Source: gen.ID, Write: wr}}, nil
}
