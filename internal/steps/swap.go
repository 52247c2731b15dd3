package steps

import (
	"context"
	"fmt"

	"github.com/basket/go-refine/internal/artifact"
	"github.com/basket/go-refine/internal/engine"
	"github.com/basket/go-refine/internal/thread"
)

// Resolver picks the artifact a Swap binds.
type Resolver func(ctx context.Context, ec *engine.Context) (artifact.Artifact, error)

// SwapOutput is the recorded output of Swap.
type SwapOutput struct {
	Slot     string `json:"slot"`
	Ref      string `json:"ref"`
	Previous string `json:"previous,omitempty"`
}

// Swap rebinds Slot in the role's stash so later steps operate on another
// artifact. It does no artifact I/O.
type Swap struct {
	slug    string
	Slot    engine.Slot
	resolve Resolver
}

// NewSwap binds slot to a fixed artifact.
func NewSwap(slot engine.Slot, to artifact.Artifact) *Swap {
	return &Swap{slug: "swap-" + string(slot), Slot: slot, resolve: func(context.Context, *engine.Context) (artifact.Artifact, error) {
		return to, nil
	}}
}

// NewSwapFunc binds slot to whatever resolve returns at execution time.
func NewSwapFunc(slot engine.Slot, resolve Resolver) *Swap {
	return &Swap{slug: "swap-" + string(slot), Slot: slot, resolve: resolve}
}

func (s *Swap) Slug() string      { return s.slug }
func (s *Swap) Form() thread.Form { return thread.FormCompute }

func (s *Swap) Execute(ctx context.Context, ec *engine.Context) (engine.Result, error) {
	to, err := s.resolve(ctx, ec)
	if err != nil {
		return engine.Result{}, fmt.Errorf("resolve %s: %w", s.Slot, err)
	}
	prev, err := ec.Stash.Bind(s.Slot, to)
	if err != nil {
		return engine.Result{}, err
	}
	out := SwapOutput{Slot: string(s.Slot), Ref: to.Ref().String()}
	if prev != nil {
		out.Previous = prev.Ref().String()
	}
	return engine.Result{Input: map[string]any{"slot": string(s.Slot)}, Output: out}, nil
}
