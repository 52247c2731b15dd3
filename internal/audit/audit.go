// Package audit keeps an append-only record of reviewer decisions and fatal
// startup failures in <home>/logs/audit.jsonl.
package audit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/basket/go-refine/internal/feedback"
	"github.com/basket/go-refine/internal/shared"
)

// Decisions.
const (
	DecisionAccept = "accept"
	DecisionRevise = "revise"
	DecisionCancel = "cancel"
	DecisionFatal  = "fatal"
)

type entry struct {
	Timestamp  string `json:"timestamp"`
	Decision   string `json:"decision"`
	RunID      string `json:"run_id,omitempty"`
	CycleID    string `json:"cycle_id,omitempty"`
	Role       string `json:"role,omitempty"`
	Subject    string `json:"subject,omitempty"`
	Repetition int    `json:"repetition,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

var (
	mu   sync.Mutex
	file *os.File
)

func Init(homeDir string) error {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		return nil
	}
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(logDir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	file = f
	return nil
}

func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

// Record appends one entry. Run, cycle and role come from ctx. Reason is
// redacted. Record is a no-op before Init.
func Record(ctx context.Context, decision, subject string, repetition int, reason string) {
	ev := entry{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Decision:   decision,
		RunID:      shared.RunID(ctx),
		CycleID:    shared.CycleID(ctx),
		Role:       shared.Role(ctx),
		Subject:    subject,
		Repetition: repetition,
		Reason:     shared.Redact(reason),
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}

	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		_, _ = file.Write(append(b, '\n'))
	}
}

// Asker records every answer of the wrapped asker.
type Asker struct {
	Next feedback.Asker
}

func (a Asker) Ask(ctx context.Context, q feedback.Question) (feedback.Answer, error) {
	ans, err := a.Next.Ask(ctx, q)
	switch {
	case err != nil:
		Record(ctx, DecisionCancel, q.Subject, q.Repetition, err.Error())
	case ans.HasNotes:
		Record(ctx, DecisionRevise, q.Subject, q.Repetition, ans.Notes)
	default:
		Record(ctx, DecisionAccept, q.Subject, q.Repetition, "")
	}
	return ans, err
}
