package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileAsker waits for the reviewer to save an inbox file. A saved file with
// text is taken as notes; saving it empty, or letting the timeout pass,
// accepts the result. The inbox is cleared before every question.
type FileAsker struct {
	path    string
	timeout time.Duration
	settle  time.Duration
	logger  *slog.Logger
}

// NewFileAsker watches path. timeout <= 0 waits until ctx ends.
func NewFileAsker(path string, timeout time.Duration, logger *slog.Logger) *FileAsker {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileAsker{path: path, timeout: timeout, settle: 150 * time.Millisecond, logger: logger}
}

func (a *FileAsker) Path() string { return a.path }

func (a *FileAsker) Ask(ctx context.Context, q Question) (Answer, error) {
	dir := filepath.Dir(a.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Answer{}, fmt.Errorf("create feedback inbox dir: %w", err)
	}
	if err := os.WriteFile(a.path, nil, 0o644); err != nil {
		return Answer{}, fmt.Errorf("clear feedback inbox: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return Answer{}, err
	}
	defer fsw.Close()
	// Editors save by rename, so watch the directory.
	if err := fsw.Add(dir); err != nil {
		return Answer{}, fmt.Errorf("watch feedback inbox: %w", err)
	}

	a.logger.Info("waiting for feedback", "inbox", a.path, "subject", q.Subject, "repetition", q.Repetition)

	var timeout <-chan time.Time
	if a.timeout > 0 {
		timer := time.NewTimer(a.timeout)
		defer timer.Stop()
		timeout = timer.C
	}
	var settle <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return Answer{}, ctx.Err()
		case <-timeout:
			a.logger.Warn("no feedback before timeout; accepting result", "inbox", a.path, "timeout", a.timeout)
			return Answer{}, nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return Answer{}, fmt.Errorf("feedback watcher closed")
			}
			if filepath.Clean(ev.Name) != filepath.Clean(a.path) || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Wait for the burst of events an editor save produces to end.
			settle = time.After(a.settle)
		case err, ok := <-fsw.Errors:
			if !ok {
				return Answer{}, fmt.Errorf("feedback watcher closed")
			}
			a.logger.Error("feedback watcher error", "error", err)
		case <-settle:
			data, err := os.ReadFile(a.path)
			if err != nil {
				if os.IsNotExist(err) {
					settle = nil
					continue
				}
				return Answer{}, fmt.Errorf("read feedback inbox: %w", err)
			}
			return answerFrom(string(data)), nil
		}
	}
}
