package audit

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/go-refine/internal/feedback"
	"github.com/basket/go-refine/internal/shared"
)

func readEntries(t *testing.T, home string) []map[string]any {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(home, "logs", "audit.jsonl"))
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	var out []map[string]any
	for i, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		var e map[string]any
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", i, err)
		}
		out = append(out, e)
	}
	return out
}

func TestRecordWritesAuditEntry(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	ctx := shared.WithRunID(shared.WithCycleID(shared.WithRole(context.Background(), "poet"), "cy-1"), "run-1")
	Record(ctx, DecisionRevise, "/tmp/poem.i1.md", 1, "shorter please")
	Record(ctx, DecisionAccept, "/tmp/poem.i2.md", 2, "")

	entries := readEntries(t, home)
	if len(entries) != 2 {
		t.Fatalf("expected two audit entries, got %d", len(entries))
	}
	first := entries[0]
	if first["decision"] != "revise" || first["reason"] != "shorter please" {
		t.Fatalf("unexpected first entry %#v", first)
	}
	if first["run_id"] != "run-1" || first["cycle_id"] != "cy-1" || first["role"] != "poet" {
		t.Fatalf("context ids missing: %#v", first)
	}
	if first["repetition"] != float64(1) {
		t.Fatalf("expected repetition 1, got %#v", first["repetition"])
	}
}

func TestRecordRedactsReason(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	Record(context.Background(), DecisionRevise, "x", 1, "use api_key=sk-abcdefghijklmnopqrstuvwxyz0123")
	e := readEntries(t, home)[0]
	if strings.Contains(e["reason"].(string), "sk-abcdefghijklmnopqrstuvwxyz0123") {
		t.Fatalf("reason not redacted: %v", e["reason"])
	}
}

func TestAuditAppendOnly(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	Record(context.Background(), DecisionAccept, "s1", 1, "")
	path := filepath.Join(home, "logs", "audit.jsonl")
	info1, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat audit file: %v", err)
	}

	Record(context.Background(), DecisionFatal, "", 0, "E_STORE_OPEN")
	info2, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat audit file after append: %v", err)
	}
	if info2.Size() <= info1.Size() {
		t.Fatalf("expected file to grow, size before=%d after=%d", info1.Size(), info2.Size())
	}
	if got := len(readEntries(t, home)); got != 2 {
		t.Fatalf("expected 2 entries, got %d", got)
	}
}

func TestAsker_RecordsDecisions(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("init audit: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	answers := []struct {
		ans feedback.Answer
		err error
	}{
		{ans: feedback.Answer{HasNotes: true, Notes: "more rain"}},
		{ans: feedback.Answer{}},
		{err: feedback.ErrCancelled},
	}
	i := 0
	a := Asker{Next: feedback.AskerFunc(func(context.Context, feedback.Question) (feedback.Answer, error) {
		r := answers[i]
		i++
		return r.ans, r.err
	})}
	for range answers {
		_, err := a.Ask(context.Background(), feedback.Question{Subject: "poem.md", Repetition: i + 1})
		if err != nil && !errors.Is(err, feedback.ErrCancelled) {
			t.Fatalf("unexpected error %v", err)
		}
	}

	entries := readEntries(t, home)
	want := []string{"revise", "accept", "cancel"}
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(entries))
	}
	for i, e := range entries {
		if e["decision"] != want[i] {
			t.Fatalf("entry %d decision = %v, want %s", i, e["decision"], want[i])
		}
	}
}
