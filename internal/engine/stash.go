package engine

import (
	"sort"
	"sync"

	"github.com/basket/go-refine/internal/artifact"
)

// Slot names an artifact binding in a role's stash.
type Slot string

// Well-known slots.
const (
	SlotFeedback Slot = "feedback"
	SlotOutput   Slot = "output"
)

// Stash holds the artifacts a role works on, keyed by slot. Required slots
// are checked when the stash is built so a missing binding fails before any
// step runs.
type Stash struct {
	mu    sync.RWMutex
	role  string
	slots map[Slot]artifact.Artifact
}

// NewStash builds a stash for role. Every slot in required must be present
// in slots, and no slot may be bound to nil.
func NewStash(role string, slots map[Slot]artifact.Artifact, required ...Slot) (*Stash, error) {
	s := &Stash{role: role, slots: make(map[Slot]artifact.Artifact, len(slots))}
	for slot, a := range slots {
		if a == nil {
			return nil, &MissingRequiredArtifactError{Role: role, Slot: slot}
		}
		s.slots[slot] = a
	}
	for _, slot := range required {
		if _, ok := s.slots[slot]; !ok {
			return nil, &MissingRequiredArtifactError{Role: role, Slot: slot}
		}
	}
	return s, nil
}

// Role returns the owning role.
func (s *Stash) Role() string { return s.role }

// Artifact returns the artifact bound to slot.
func (s *Stash) Artifact(slot Slot) (artifact.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.slots[slot]
	if !ok {
		return nil, &MissingRequiredArtifactError{Role: s.role, Slot: slot}
	}
	return a, nil
}

// Bind points slot at a, replacing any previous binding, and returns the
// previous artifact (nil if the slot was unbound).
func (s *Stash) Bind(slot Slot, a artifact.Artifact) (artifact.Artifact, error) {
	if a == nil {
		return nil, &MissingRequiredArtifactError{Role: s.role, Slot: slot}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.slots[slot]
	s.slots[slot] = a
	return prev, nil
}

// Slots lists the bound slots in name order.
func (s *Stash) Slots() []Slot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Slot, 0, len(s.slots))
	for slot := range s.slots {
		out = append(out, slot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
