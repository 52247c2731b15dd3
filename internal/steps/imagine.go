package steps

import (
	"context"
	"fmt"

	"github.com/basket/go-refine/internal/engine"
	"github.com/basket/go-refine/internal/thread"
)

// Imaginer generates text from a prompt.
type Imaginer interface {
	Imagine(ctx context.Context, prompt string) (string, error)
}

// PromptFunc builds the prompt for a generation round.
type PromptFunc func(ctx context.Context, ec *engine.Context) (string, error)

type ImagineInput struct {
	Prompt string `json:"prompt"`
}

type ImagineOutput struct {
	Content string `json:"content"`
}

func (o ImagineOutput) ContentValue() string { return o.Content }

// Imagine is a generation step: it asks the model for content and records
// the prompt and the reply.
type Imagine struct {
	slug     string
	imaginer Imaginer
	prompt   PromptFunc
}

func NewImagine(slug string, im Imaginer, prompt PromptFunc) *Imagine {
	return &Imagine{slug: slug, imaginer: im, prompt: prompt}
}

func (s *Imagine) Slug() string      { return s.slug }
func (s *Imagine) Form() thread.Form { return thread.FormImagine }

func (s *Imagine) Execute(ctx context.Context, ec *engine.Context) (engine.Result, error) {
	prompt, err := s.prompt(ctx, ec)
	if err != nil {
		return engine.Result{}, fmt.Errorf("build prompt: %w", err)
	}
	content, err := s.imaginer.Imagine(ctx, prompt)
	if err != nil {
		return engine.Result{}, err
	}
	return engine.Result{Input: ImagineInput{Prompt: prompt}, Output: ImagineOutput{Content: content}}, nil
}
