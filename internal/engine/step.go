// Package engine runs steps against a role's thread and stash, records every
// execution as a stitch, and drives feedback cycles.
package engine

import (
	"context"

	"github.com/basket/go-refine/internal/thread"
)

// Step is one unit of work. Execute must not append to the thread itself;
// the Runner records the returned Result.
type Step interface {
	Slug() string
	Form() thread.Form
	Execute(ctx context.Context, ec *Context) (Result, error)
}

// Result is what a step declares as its input and produced as its output.
type Result struct {
	Input  any
	Output any
}

// ArtifactWriter is implemented by step outputs that wrote artifact content.
type ArtifactWriter interface {
	WrittenBytes() int
}

// Context is the per-role execution context handed to steps.
type Context struct {
	Role   string
	Thread *thread.Thread
	Stash  *Stash

	runner *Runner
}

// Run executes step through the runner that owns ec.
func (ec *Context) Run(ctx context.Context, step Step) (thread.Stitch, error) {
	return ec.runner.Execute(ctx, step, ec)
}

// Runner returns the runner that owns ec.
func (ec *Context) Runner() *Runner { return ec.runner }

// StepFunc adapts a function to a Step.
type StepFunc struct {
	slug string
	form thread.Form
	fn   func(ctx context.Context, ec *Context) (Result, error)
}

// NewStepFunc returns a step named slug running fn.
func NewStepFunc(slug string, form thread.Form, fn func(ctx context.Context, ec *Context) (Result, error)) *StepFunc {
	return &StepFunc{slug: slug, form: form, fn: fn}
}

func (s *StepFunc) Slug() string      { return s.slug }
func (s *StepFunc) Form() thread.Form { return s.form }

func (s *StepFunc) Execute(ctx context.Context, ec *Context) (Result, error) {
	return s.fn(ctx, ec)
}
