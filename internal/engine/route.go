package engine

import (
	"context"

	"github.com/basket/go-refine/internal/thread"
)

// Route runs its steps in order through the owning runner. Each child is
// recorded as its own stitch; the route's stitch lists the children run.
type Route struct {
	slug  string
	steps []Step
}

// RouteOutput is the recorded output of a route.
type RouteOutput struct {
	Steps []string `json:"steps"`
}

func NewRoute(slug string, steps ...Step) *Route {
	return &Route{slug: slug, steps: steps}
}

func (r *Route) Slug() string      { return r.slug }
func (r *Route) Form() thread.Form { return thread.FormRoute }

// Execute stops at the first failing child and returns its error.
func (r *Route) Execute(ctx context.Context, ec *Context) (Result, error) {
	planned := make([]string, len(r.steps))
	for i, s := range r.steps {
		planned[i] = s.Slug()
	}
	ran := make([]string, 0, len(r.steps))
	for _, s := range r.steps {
		if _, err := ec.Run(ctx, s); err != nil {
			return Result{}, err
		}
		ran = append(ran, s.Slug())
	}
	return Result{Input: planned, Output: RouteOutput{Steps: ran}}, nil
}
