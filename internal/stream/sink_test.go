package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/basket/go-refine/internal/bus"
	"github.com/basket/go-refine/internal/thread"
)

func fixedMounts() *Mounts {
	return NewMounts(func() time.Time { return time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC) })
}

func TestNewSink_LayoutAndOneTimeNotice(t *testing.T) {
	target := t.TempDir()
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	m := fixedMounts()
	b := bus.New()
	sub := b.Subscribe(bus.TopicStreamMounted)
	defer b.Unsubscribe(sub)

	s1, err := NewSink(target, "refine", WithMounts(m), WithLogger(logger), WithBus(b))
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	want := filepath.Join(target, ".refine", "stream", "i2026-10-17T09_30_00.000Z")
	if s1.Dir() != want {
		t.Fatalf("dir = %q, want %q", s1.Dir(), want)
	}
	if fi, err := os.Stat(want); err != nil || !fi.IsDir() {
		t.Fatalf("run dir not created: %v", err)
	}

	s2, err := NewSink(target, "refine", WithMounts(m), WithLogger(logger), WithBus(b))
	if err != nil {
		t.Fatalf("second sink: %v", err)
	}
	if s2.Dir() != s1.Dir() {
		t.Fatalf("second sink mounted %q, want shared %q", s2.Dir(), s1.Dir())
	}
	if n := strings.Count(logs.String(), "watch here"); n != 1 {
		t.Fatalf("expected one mount notice, got %d: %s", n, logs.String())
	}
	if len(sub.Ch()) != 1 {
		t.Fatalf("expected one mounted event, got %d", len(sub.Ch()))
	}

	m.Reset()
	if _, err := NewSink(target, ".refine", WithMounts(m), WithLogger(logger)); err != nil {
		t.Fatalf("sink after reset: %v", err)
	}
	if n := strings.Count(logs.String(), "watch here"); n != 2 {
		t.Fatalf("expected notice again after reset, got %d", n)
	}
}

func TestSink_EmitComputeWritesEnvelopeOnly(t *testing.T) {
	s, err := NewSink(t.TempDir(), "refine", WithMounts(fixedMounts()))
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	st := thread.Stitch{
		ID: "id-1", Role: "thinker", Slug: "set", Form: thread.FormCompute,
		Input:     map[string]any{"prompt": "not written for compute"},
		Output:    map[string]any{"content": "also not written"},
		CreatedAt: time.Date(2026, 10, 17, 9, 31, 0, 5, time.UTC),
	}
	w, err := s.Emit(context.Background(), Event{Stitch: st, CycleID: "cyc"})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if w.PromptInput != "" || w.PromptOutput != "" {
		t.Fatalf("compute step must not write companion files: %#v", w)
	}
	if filepath.Base(w.Event) != "at.20261017T093100.000000005Z.set.compute.id-1.event.json" {
		t.Fatalf("unexpected event name %q", filepath.Base(w.Event))
	}

	raw, err := os.ReadFile(w.Event)
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	var rec map[string]any
	if err := json.Unmarshal(raw, &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"timestamp", "id", "role", "slug", "form", "cycle_id", "input", "output"} {
		if _, ok := rec[key]; !ok {
			t.Fatalf("missing %q in record: %s", key, raw)
		}
	}
	entries, _ := os.ReadDir(s.Dir())
	if len(entries) != 1 {
		t.Fatalf("expected exactly one file, got %d", len(entries))
	}
}

func TestSink_EmitImagineWritesCompanions(t *testing.T) {
	s, err := NewSink(t.TempDir(), "refine", WithMounts(fixedMounts()))
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	st := thread.Stitch{
		ID: "id-2", Slug: "imagine", Form: thread.FormImagine,
		Input:  map[string]any{"prompt": "write a haiku\nabout \"quotes\""},
		Output: map[string]any{"content": "line one\nline two"},
	}
	w, err := s.Emit(context.Background(), Event{Stitch: st})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	prompt, err := os.ReadFile(w.PromptInput)
	if err != nil || string(prompt) != "write a haiku\nabout \"quotes\"" {
		t.Fatalf("prompt file = %q, %v", prompt, err)
	}
	out, err := os.ReadFile(w.PromptOutput)
	if err != nil || string(out) != "line one\nline two" {
		t.Fatalf("output file = %q, %v", out, err)
	}
	if !strings.HasSuffix(w.PromptInput, ".prompt.input.md") || !strings.HasSuffix(w.PromptOutput, ".prompt.output.md") {
		t.Fatalf("unexpected companion names: %#v", w)
	}
}

func TestSink_EmitImagineWithoutStringFields(t *testing.T) {
	s, _ := NewSink(t.TempDir(), "refine", WithMounts(fixedMounts()))
	st := thread.Stitch{ID: "id-3", Slug: "imagine", Form: thread.FormImagine, Input: 12, Output: map[string]any{"content": 3}}
	w, err := s.Emit(context.Background(), Event{Stitch: st})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if w.PromptInput != "" || w.PromptOutput != "" {
		t.Fatalf("expected no companions, got %#v", w)
	}
}

func TestSink_NamesStrictlyIncreaseOnSameTimestamp(t *testing.T) {
	s, _ := NewSink(t.TempDir(), "refine", WithMounts(fixedMounts()))
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var names []string
	for i := 0; i < 3; i++ {
		w, err := s.Emit(context.Background(), Event{Stitch: thread.Stitch{ID: "same", Slug: "s", Form: thread.FormCompute, CreatedAt: at}})
		if err != nil {
			t.Fatalf("emit %d: %v", i, err)
		}
		names = append(names, filepath.Base(w.Event))
	}
	for i := 1; i < len(names); i++ {
		if names[i] <= names[i-1] {
			t.Fatalf("names not increasing: %v", names)
		}
	}
}

func TestSink_EmitCancelled(t *testing.T) {
	s, _ := NewSink(t.TempDir(), "refine", WithMounts(fixedMounts()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Emit(ctx, Event{Stitch: thread.Stitch{ID: "x"}}); err == nil {
		t.Fatal("expected error on cancelled context")
	}
}

func TestResetMounts(t *testing.T) {
	ResetMounts()
	t.Cleanup(ResetMounts)
	target := t.TempDir()
	a, fresh := processMounts.Mount(target, "refine")
	if !fresh {
		t.Fatal("expected fresh mount")
	}
	b, fresh := processMounts.Mount(target, "refine")
	if fresh || a != b {
		t.Fatalf("expected memoized mount, got %q fresh=%v", b, fresh)
	}
	ResetMounts()
	if _, fresh := processMounts.Mount(target, "refine"); !fresh {
		t.Fatal("expected fresh mount after reset")
	}
}
