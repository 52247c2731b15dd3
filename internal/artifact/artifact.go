// Package artifact provides named, file-backed text artifacts with get/set/del
// semantics and optional retained version history.
//
// An artifact is never created by Get; it comes into existence on the first
// Set. Del removes current content but leaves retained versions in place.
// Artifacts do no locking: callers sequence writers so that at most one
// writes a given artifact at a time.
package artifact

import (
	"context"
	"fmt"
)

// Ref identifies an artifact's location.
type Ref struct {
	URI string `json:"uri"`
}

func (r Ref) String() string { return r.URI }

// Content is the payload stored in an artifact.
type Content struct {
	Content string `json:"content"`
}

// WriteResult describes a completed Set.
type WriteResult struct {
	Ref     Ref    `json:"ref"`
	Bytes   int    `json:"bytes"`
	Version string `json:"version,omitempty"` // retained copy of the previous content, if any
}

// Artifact is the collaborator contract the mutation steps and the feedback
// cycle consume.
type Artifact interface {
	Ref() Ref
	// Get returns nil (and no error) when the artifact holds no content.
	Get(ctx context.Context) (*Content, error)
	Set(ctx context.Context, c Content) (WriteResult, error)
	Del(ctx context.Context) error
}

// HasContent reports whether a holds non-blank content.
func HasContent(ctx context.Context, a Artifact) (bool, error) {
	c, err := a.Get(ctx)
	if err != nil {
		return false, err
	}
	return c != nil && trimmedLen(c.Content) > 0, nil
}

func trimmedLen(s string) int {
	n := 0
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r':
		default:
			n++
		}
	}
	return n
}

func wrap(ref Ref, op string, err error) error {
	return fmt.Errorf("artifact %s: %s: %w", ref, op, err)
}
