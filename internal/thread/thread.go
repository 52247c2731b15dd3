// Package thread holds the ordered, append-only execution history ("thread")
// of one role, and the latest-match query over it.
package thread

import (
	"sync"
	"time"
)

// Form is the kind of step that produced a stitch.
type Form string

const (
	FormImagine Form = "imagine" // invoked the language model
	FormCompute Form = "compute"
	FormDecide  Form = "decide"
	FormRoute   Form = "route"
)

// Stitch is one completed step invocation.
type Stitch struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Slug      string    `json:"slug"`
	Form      Form      `json:"form"`
	Input     any       `json:"input"`
	Output    any       `json:"output"`
	CreatedAt time.Time `json:"created_at"`
}

// Thread is the execution history of one role. Stitches are kept in
// completion order and are never reordered or changed once appended.
type Thread struct {
	mu       sync.RWMutex
	role     string
	stitches []Stitch
}

// New returns an empty thread for role.
func New(role string) *Thread {
	return &Thread{role: role}
}

// Role returns the role that owns the thread.
func (t *Thread) Role() string { return t.role }

// Append records s as the most recent stitch. The owning role is stamped on it.
func (t *Thread) Append(s Stitch) Stitch {
	t.mu.Lock()
	defer t.mu.Unlock()
	s.Role = t.role
	t.stitches = append(t.stitches, s)
	return s
}

// Len returns the number of stitches.
func (t *Thread) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.stitches)
}

// Stitches returns a snapshot of the history, oldest first.
func (t *Thread) Stitches() []Stitch {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Stitch, len(t.stitches))
	copy(out, t.stitches)
	return out
}

// Latest returns the most recent stitch matching pred (nil matches all).
func (t *Thread) Latest(pred Predicate) (Stitch, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Query(t.stitches, pred, Desc)
}
