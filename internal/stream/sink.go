// Package stream mirrors every step execution into a timestamped run
// directory as JSON event records, plus plain-text prompt and output files
// for generation steps.
//
// Layout:
//
//	<target>/.<obs>/stream/i<timestamp>/at.<ts>.<slug>.<form>.<id>.event.json
//	<target>/.<obs>/stream/i<timestamp>/at.<ts>.<slug>.<form>.<id>.prompt.input.md
//	<target>/.<obs>/stream/i<timestamp>/at.<ts>.<slug>.<form>.<id>.prompt.output.md
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/basket/go-refine/internal/bus"
	"github.com/basket/go-refine/internal/thread"
)

// Event is one completed execution to record.
type Event struct {
	Stitch  thread.Stitch
	CycleID string
}

// Record is the JSON envelope written for every event.
type Record struct {
	Timestamp time.Time   `json:"timestamp"`
	ID        string      `json:"id"`
	Role      string      `json:"role"`
	Slug      string      `json:"slug"`
	Form      thread.Form `json:"form"`
	CycleID   string      `json:"cycle_id,omitempty"`
	Input     any         `json:"input"`
	Output    any         `json:"output"`
}

// Written lists the files produced by one Emit.
type Written struct {
	Event        string
	PromptInput  string
	PromptOutput string
}

// Sink writes events into a run directory.
type Sink struct {
	dir    string
	logger *slog.Logger
	bus    *bus.Bus

	mu     sync.Mutex
	lastTS time.Time
}

// Option configures a Sink.
type Option func(*sinkOptions)

type sinkOptions struct {
	mounts *Mounts
	logger *slog.Logger
	bus    *bus.Bus
}

// WithMounts uses m instead of the process-wide mount table.
func WithMounts(m *Mounts) Option { return func(o *sinkOptions) { o.mounts = m } }

// WithLogger sets the logger used for the mount notice and write failures.
func WithLogger(l *slog.Logger) Option { return func(o *sinkOptions) { o.logger = l } }

// WithBus publishes TopicStreamMounted when the run directory is first mounted.
func WithBus(b *bus.Bus) Option { return func(o *sinkOptions) { o.bus = b } }

// NewSink mounts the run directory for targetDir and creates it on disk.
func NewSink(targetDir, obsSubdir string, opts ...Option) (*Sink, error) {
	o := sinkOptions{mounts: processMounts}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	dir, fresh := o.mounts.Mount(targetDir, obsSubdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("stream: create run dir: %w", err)
	}
	if fresh {
		o.logger.Info("stream mounted; watch here", "path", dir)
		o.bus.Publish(bus.TopicStreamMounted, dir)
	}
	return &Sink{dir: dir, logger: o.logger, bus: o.bus}, nil
}

// Dir returns the run directory.
func (s *Sink) Dir() string { return s.dir }

// Emit durably writes ev. It returns only after every file is synced.
func (s *Sink) Emit(ctx context.Context, ev Event) (Written, error) {
	if err := ctx.Err(); err != nil {
		return Written{}, err
	}
	st := ev.Stitch
	ts := s.nextTimestamp(st.CreatedAt)
	base := SanitizeFilename(fmt.Sprintf("at.%s.%s.%s.%s",
		ts.Format("20060102T150405.000000000Z"), st.Slug, st.Form, st.ID))

	rec := Record{
		Timestamp: ts,
		ID:        st.ID,
		Role:      st.Role,
		Slug:      st.Slug,
		Form:      st.Form,
		CycleID:   ev.CycleID,
		Input:     st.Input,
		Output:    st.Output,
	}
	body, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return Written{}, fmt.Errorf("stream: marshal event %s: %w", st.ID, err)
	}

	var w Written
	w.Event = filepath.Join(s.dir, base+".event.json")
	if err := writeSynced(w.Event, append(body, '\n')); err != nil {
		return Written{}, err
	}

	if st.Form != thread.FormImagine {
		return w, nil
	}
	if prompt, ok := thread.StringField(st.Input, "prompt"); ok {
		w.PromptInput = filepath.Join(s.dir, base+".prompt.input.md")
		if err := writeSynced(w.PromptInput, []byte(prompt)); err != nil {
			return w, err
		}
	}
	if content, ok := thread.ContentOf(st.Output); ok {
		w.PromptOutput = filepath.Join(s.dir, base+".prompt.output.md")
		if err := writeSynced(w.PromptOutput, []byte(content)); err != nil {
			return w, err
		}
	}
	return w, nil
}

// nextTimestamp keeps event names strictly increasing within a sink even
// when two stitches share a clock reading.
func (s *Sink) nextTimestamp(at time.Time) time.Time {
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !at.After(s.lastTS) {
		at = s.lastTS.Add(time.Nanosecond)
	}
	s.lastTS = at
	return at
}

func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("stream: create %s: %w", filepath.Base(path), err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("stream: write %s: %w", filepath.Base(path), err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("stream: sync %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}
