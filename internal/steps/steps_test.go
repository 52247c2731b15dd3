package steps_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/go-refine/internal/artifact"
	"github.com/basket/go-refine/internal/engine"
	"github.com/basket/go-refine/internal/feedback"
	"github.com/basket/go-refine/internal/steps"
	"github.com/basket/go-refine/internal/thread"
)

func newContext(t *testing.T, slots map[engine.Slot]artifact.Artifact) *engine.Context {
	t.Helper()
	stash, err := engine.NewStash("writer", slots)
	if err != nil {
		t.Fatalf("new stash: %v", err)
	}
	return engine.NewRunner().NewContext("writer", stash)
}

// produce appends a stitch whose output carries content, as a generation
// step would.
func produce(t *testing.T, ec *engine.Context, content string) {
	t.Helper()
	step := engine.NewStepFunc("produce", thread.FormCompute, func(context.Context, *engine.Context) (engine.Result, error) {
		return engine.Result{Output: map[string]any{"content": content}}, nil
	})
	if _, err := ec.Run(context.Background(), step); err != nil {
		t.Fatalf("produce: %v", err)
	}
}

func contentOf(t *testing.T, a artifact.Artifact) string {
	t.Helper()
	c, err := a.Get(context.Background())
	if err != nil {
		t.Fatalf("get %s: %v", a.Ref(), err)
	}
	if c == nil {
		return ""
	}
	return c.Content
}

func seed(t *testing.T, a artifact.Artifact, content string) {
	t.Helper()
	if _, err := a.Set(context.Background(), artifact.Content{Content: content}); err != nil {
		t.Fatalf("seed %s: %v", a.Ref(), err)
	}
}

func TestSet_UpsertReplaces(t *testing.T) {
	out := artifact.NewMemory("out")
	seed(t, out, "first")
	ec := newContext(t, map[engine.Slot]artifact.Artifact{engine.SlotOutput: out})
	produce(t, ec, "second")

	st, err := ec.Run(context.Background(), steps.NewSet(engine.SlotOutput, steps.Upsert))
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := contentOf(t, out); got != "second" {
		t.Fatalf("expected replaced content, got %q", got)
	}
	if st.Slug != "set-output" || st.Output.(steps.SetOutput).Content != "second" {
		t.Fatalf("unexpected stitch %+v", st)
	}
}

func TestSet_AppendAddsDelimitedSection(t *testing.T) {
	out := artifact.NewMemory("out")
	seed(t, out, "original")
	ec := newContext(t, map[engine.Slot]artifact.Artifact{engine.SlotOutput: out})
	produce(t, ec, "addition")

	if _, err := ec.Run(context.Background(), steps.NewSet(engine.SlotOutput, steps.Append)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if got, want := contentOf(t, out), "original\n\n---\n\naddition"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSet_AppendTwiceKeepsEveryRound(t *testing.T) {
	log := artifact.NewMemory("rounds")
	ec := newContext(t, map[engine.Slot]artifact.Artifact{"rounds": log})
	appendRound := steps.NewSet("rounds", steps.Append)

	produce(t, ec, "round one")
	if _, err := ec.Run(context.Background(), appendRound); err != nil {
		t.Fatalf("append 1: %v", err)
	}
	produce(t, ec, "round two")
	if _, err := ec.Run(context.Background(), appendRound); err != nil {
		t.Fatalf("append 2: %v", err)
	}
	got := contentOf(t, log)
	if got != "round one\n\n---\n\nround two" {
		t.Fatalf("unexpected rounds log %q", got)
	}
	if strings.Count(got, steps.Delimiter) != 1 {
		t.Fatalf("expected a single delimiter, got %q", got)
	}
}

func TestSet_AppendToAbsentBehavesLikeUpsert(t *testing.T) {
	out := artifact.NewMemory("out")
	ec := newContext(t, map[engine.Slot]artifact.Artifact{engine.SlotOutput: out})
	produce(t, ec, "only")
	if _, err := ec.Run(context.Background(), steps.NewSet(engine.SlotOutput, steps.Append)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if got := contentOf(t, out); got != "only" {
		t.Fatalf("got %q", got)
	}
}

func TestSet_AppendToWhitespaceOnlyReplacesIt(t *testing.T) {
	out := artifact.NewMemory("out")
	seed(t, out, "  \n")
	ec := newContext(t, map[engine.Slot]artifact.Artifact{engine.SlotOutput: out})
	produce(t, ec, "addition")
	if _, err := ec.Run(context.Background(), steps.NewSet(engine.SlotOutput, steps.Append)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if got := contentOf(t, out); got != "addition" {
		t.Fatalf("got %q, want %q", got, "addition")
	}
}

func TestSet_MissingUpstreamOutput(t *testing.T) {
	out := artifact.NewMemory("out")
	ec := newContext(t, map[engine.Slot]artifact.Artifact{engine.SlotOutput: out})
	_, err := ec.Run(context.Background(), steps.NewSet(engine.SlotOutput, steps.Upsert))
	if !errors.Is(err, engine.ErrMissingUpstreamOutput) {
		t.Fatalf("expected missing upstream output, got %v", err)
	}
	var mu *engine.MissingUpstreamOutputError
	if !errors.As(err, &mu) || mu.Slug != "set-output" || mu.HistoryLen != 0 {
		t.Fatalf("unexpected error detail %+v", mu)
	}
	if ec.Thread.Len() != 0 {
		t.Fatal("failed set must not append a stitch")
	}
}

func TestSet_MissingSlot(t *testing.T) {
	ec := newContext(t, nil)
	produce(t, ec, "x")
	_, err := ec.Run(context.Background(), steps.NewSet("nowhere", steps.Upsert))
	if !errors.Is(err, engine.ErrMissingRequiredArtifact) {
		t.Fatalf("expected missing artifact, got %v", err)
	}
}

func TestDelete_ExecAndSkip(t *testing.T) {
	out := artifact.NewMemory("out")
	seed(t, out, "keep me")
	ec := newContext(t, map[engine.Slot]artifact.Artifact{engine.SlotOutput: out})

	skip := steps.NewDelete(engine.SlotOutput, func(context.Context, *engine.Context) (steps.Condition, error) {
		return steps.Skip, nil
	})
	st, err := ec.Run(context.Background(), skip)
	if err != nil {
		t.Fatalf("skip: %v", err)
	}
	if got := contentOf(t, out); got != "keep me" {
		t.Fatalf("skip must leave content, got %q", got)
	}
	if st.Output.(steps.DeleteOutput).Outcome != steps.Skip {
		t.Fatalf("expected SKIP outcome, got %+v", st.Output)
	}

	st, err = ec.Run(context.Background(), steps.NewDelete(engine.SlotOutput, nil))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if c, _ := out.Get(context.Background()); c != nil {
		t.Fatalf("expected absent content, got %+v", c)
	}
	if st.Output.(steps.DeleteOutput).Outcome != steps.Exec {
		t.Fatalf("expected EXEC outcome, got %+v", st.Output)
	}
	if ec.Thread.Len() != 2 {
		t.Fatalf("both deletes should be recorded, got %d", ec.Thread.Len())
	}
}

func TestDelete_UnknownCondition(t *testing.T) {
	out := artifact.NewMemory("out")
	ec := newContext(t, map[engine.Slot]artifact.Artifact{engine.SlotOutput: out})
	bad := steps.NewDelete(engine.SlotOutput, func(context.Context, *engine.Context) (steps.Condition, error) {
		return steps.Condition(7), nil
	})
	if _, err := ec.Run(context.Background(), bad); err == nil {
		t.Fatal("expected unknown condition to fail")
	}
}

func TestReset_ClearsFeedback(t *testing.T) {
	fb := artifact.NewMemory("feedback")
	seed(t, fb, "old notes")
	ec := newContext(t, map[engine.Slot]artifact.Artifact{engine.SlotFeedback: fb})
	st, err := ec.Run(context.Background(), steps.NewReset())
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if st.Slug != "reset" {
		t.Fatalf("unexpected slug %q", st.Slug)
	}
	if has, _ := artifact.HasContent(context.Background(), fb); has {
		t.Fatal("feedback should be empty after reset")
	}
}

func TestSwap_RebindsSlot(t *testing.T) {
	first := artifact.NewMemory("first")
	second := artifact.NewMemory("second")
	ec := newContext(t, map[engine.Slot]artifact.Artifact{engine.SlotOutput: first})

	st, err := ec.Run(context.Background(), steps.NewSwap(engine.SlotOutput, second))
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	out := st.Output.(steps.SwapOutput)
	if out.Ref != "mem://second" || out.Previous != "mem://first" {
		t.Fatalf("unexpected swap output %+v", out)
	}

	produce(t, ec, "routed")
	if _, err := ec.Run(context.Background(), steps.NewSet(engine.SlotOutput, steps.Upsert)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if contentOf(t, first) != "" || contentOf(t, second) != "routed" {
		t.Fatal("set should write to the swapped-in artifact only")
	}
}

func TestSwapFunc_ResolverError(t *testing.T) {
	ec := newContext(t, nil)
	boom := errors.New("no attempt path")
	swap := steps.NewSwapFunc(engine.SlotOutput, func(context.Context, *engine.Context) (artifact.Artifact, error) {
		return nil, boom
	})
	if _, err := ec.Run(context.Background(), swap); !errors.Is(err, boom) {
		t.Fatalf("expected resolver error, got %v", err)
	}
}

type fakeImaginer struct {
	prompts []string
	reply   string
	err     error
}

func (f *fakeImaginer) Imagine(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

func TestImagine_RecordsPromptAndContent(t *testing.T) {
	out := artifact.NewMemory("out")
	ec := newContext(t, map[engine.Slot]artifact.Artifact{engine.SlotOutput: out})
	im := &fakeImaginer{reply: "a poem"}
	gen := steps.NewImagine("draft", im, func(context.Context, *engine.Context) (string, error) {
		return "write a poem", nil
	})

	st, err := ec.Run(context.Background(), gen)
	if err != nil {
		t.Fatalf("imagine: %v", err)
	}
	if st.Form != thread.FormImagine || len(im.prompts) != 1 || im.prompts[0] != "write a poem" {
		t.Fatalf("unexpected stitch %+v prompts %v", st, im.prompts)
	}
	if _, err := ec.Run(context.Background(), steps.NewSet(engine.SlotOutput, steps.Upsert)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if contentOf(t, out) != "a poem" {
		t.Fatalf("set should pick up the generated content")
	}
}

func TestImagine_ErrorAppendsNothing(t *testing.T) {
	ec := newContext(t, nil)
	gen := steps.NewImagine("draft", &fakeImaginer{err: errors.New("rate limited")}, func(context.Context, *engine.Context) (string, error) {
		return "p", nil
	})
	if _, err := ec.Run(context.Background(), gen); err == nil {
		t.Fatal("expected error")
	}
	if ec.Thread.Len() != 0 {
		t.Fatal("failed generation must not append")
	}
}

func TestAskFeedback_StoresOrClearsNotes(t *testing.T) {
	fb := artifact.NewMemory("feedback")
	seed(t, fb, "stale")
	ec := newContext(t, map[engine.Slot]artifact.Artifact{engine.SlotFeedback: fb})

	answers := []feedback.Answer{{HasNotes: true, Notes: "shorter please"}, {}}
	var asked []feedback.Question
	asker := feedback.AskerFunc(func(_ context.Context, q feedback.Question) (feedback.Answer, error) {
		asked = append(asked, q)
		a := answers[0]
		answers = answers[1:]
		return a, nil
	})
	step := steps.NewAskFeedback(asker, func(context.Context, *engine.Context) (feedback.Question, error) {
		return feedback.Question{Prompt: "How is it?", Subject: "out.md"}, nil
	})

	if _, err := ec.Run(context.Background(), step); err != nil {
		t.Fatalf("ask 1: %v", err)
	}
	if contentOf(t, fb) != "shorter please" {
		t.Fatalf("notes not stored, got %q", contentOf(t, fb))
	}
	st, err := ec.Run(context.Background(), step)
	if err != nil {
		t.Fatalf("ask 2: %v", err)
	}
	if has, _ := artifact.HasContent(context.Background(), fb); has {
		t.Fatal("no notes should clear feedback")
	}
	if st.Output.(steps.AskOutput).HasNotes || asked[1].Subject != "out.md" {
		t.Fatalf("unexpected ask stitch %+v", st.Output)
	}
}

func TestAskFeedback_CancelPropagates(t *testing.T) {
	ec := newContext(t, map[engine.Slot]artifact.Artifact{engine.SlotFeedback: artifact.NewMemory("feedback")})
	asker := feedback.AskerFunc(func(context.Context, feedback.Question) (feedback.Answer, error) {
		return feedback.Answer{}, feedback.ErrCancelled
	})
	if _, err := ec.Run(context.Background(), steps.NewAskFeedback(asker, nil)); !errors.Is(err, feedback.ErrCancelled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestCompanionPath(t *testing.T) {
	cases := map[string]string{
		"out/poem.md":    "out/poem.src.md",
		"out/poem.i3.md": "out/poem.src.md",
		"out/poem.i2":    "out/poem.src.md",
	}
	for in, want := range cases {
		if got := steps.CompanionPath(in); got != want {
			t.Errorf("CompanionPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWriteProvenance(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "poem.i2.md")
	out, err := artifact.NewFile(path)
	if err != nil {
		t.Fatalf("new file: %v", err)
	}
	ec := newContext(t, map[engine.Slot]artifact.Artifact{engine.SlotOutput: out})

	if _, err := ec.Run(context.Background(), steps.NewWriteProvenance(engine.SlotOutput)); !errors.Is(err, engine.ErrMissingUpstreamOutput) {
		t.Fatalf("expected missing prompt, got %v", err)
	}

	gen := steps.NewImagine("draft", &fakeImaginer{reply: "roses"}, func(context.Context, *engine.Context) (string, error) {
		return "write about roses", nil
	})
	if _, err := ec.Run(context.Background(), gen); err != nil {
		t.Fatalf("imagine: %v", err)
	}
	st, err := ec.Run(context.Background(), steps.NewWriteProvenance(engine.SlotOutput))
	if err != nil {
		t.Fatalf("provenance: %v", err)
	}
	po := st.Output.(steps.ProvenanceOutput)
	if po.Path != filepath.Join(dir, "poem.src.md") {
		t.Fatalf("unexpected companion %q", po.Path)
	}
	raw, err := os.ReadFile(po.Path)
	if err != nil {
		t.Fatalf("read companion: %v", err)
	}
	if !strings.Contains(string(raw), "write about roses") || !strings.Contains(string(raw), "role: writer") {
		t.Fatalf("unexpected companion content:\n%s", raw)
	}
}

func TestWriteProvenance_RequiresFileArtifact(t *testing.T) {
	ec := newContext(t, map[engine.Slot]artifact.Artifact{engine.SlotOutput: artifact.NewMemory("out")})
	if _, err := ec.Run(context.Background(), steps.NewWriteProvenance(engine.SlotOutput)); err == nil {
		t.Fatal("expected error for non-file artifact")
	}
}

func TestSet_FromNarrowsSource(t *testing.T) {
	out := artifact.NewMemory("out")
	log := artifact.NewMemory("rounds")
	seed(t, log, "earlier")
	ec := newContext(t, map[engine.Slot]artifact.Artifact{engine.SlotOutput: out, "rounds": log})

	gen := steps.NewImagine("draft", &fakeImaginer{reply: "fresh"}, func(context.Context, *engine.Context) (string, error) {
		return "p", nil
	})
	if _, err := ec.Run(context.Background(), gen); err != nil {
		t.Fatalf("imagine: %v", err)
	}
	if _, err := ec.Run(context.Background(), steps.NewSet("rounds", steps.Append)); err != nil {
		t.Fatalf("append: %v", err)
	}
	// The latest content now belongs to the append; publish must skip it.
	publish := steps.NewSet(engine.SlotOutput, steps.Upsert).Named("publish").From(thread.OfForm(thread.FormImagine))
	st, err := ec.Run(context.Background(), publish)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if st.Slug != "publish" || contentOf(t, out) != "fresh" {
		t.Fatalf("publish wrote %q", contentOf(t, out))
	}
}
