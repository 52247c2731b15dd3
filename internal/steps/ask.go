package steps

import (
	"context"
	"fmt"

	"github.com/basket/go-refine/internal/artifact"
	"github.com/basket/go-refine/internal/engine"
	"github.com/basket/go-refine/internal/feedback"
	"github.com/basket/go-refine/internal/thread"
)

// QuestionFunc builds the question put to the reviewer.
type QuestionFunc func(ctx context.Context, ec *engine.Context) (feedback.Question, error)

// AskOutput is the recorded output of AskFeedback.
type AskOutput struct {
	feedback.Answer
	Ref string `json:"ref"`
}

// AskFeedback asks a reviewer for notes and stores them in the feedback
// artifact. No notes leaves the artifact empty, which releases the cycle.
type AskFeedback struct {
	slug     string
	asker    feedback.Asker
	question QuestionFunc
	Slot     engine.Slot
}

func NewAskFeedback(asker feedback.Asker, question QuestionFunc) *AskFeedback {
	return &AskFeedback{slug: "ask-feedback", asker: asker, question: question, Slot: engine.SlotFeedback}
}

func (s *AskFeedback) Slug() string      { return s.slug }
func (s *AskFeedback) Form() thread.Form { return thread.FormCompute }

func (s *AskFeedback) Execute(ctx context.Context, ec *engine.Context) (engine.Result, error) {
	a, err := ec.Stash.Artifact(s.Slot)
	if err != nil {
		return engine.Result{}, err
	}
	var q feedback.Question
	if s.question != nil {
		if q, err = s.question(ctx, ec); err != nil {
			return engine.Result{}, fmt.Errorf("build question: %w", err)
		}
	}
	ans, err := s.asker.Ask(ctx, q)
	if err != nil {
		return engine.Result{}, fmt.Errorf("ask feedback: %w", err)
	}
	if ans.HasNotes {
		if _, err := a.Set(ctx, artifact.Content{Content: ans.Notes}); err != nil {
			return engine.Result{}, fmt.Errorf("store feedback in %s: %w", a.Ref(), err)
		}
	} else if err := a.Del(ctx); err != nil {
		return engine.Result{}, fmt.Errorf("clear feedback in %s: %w", a.Ref(), err)
	}
	return engine.Result{Input: q, Output: AskOutput{Answer: ans, Ref: a.Ref().String()}}, nil
}
