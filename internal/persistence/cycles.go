package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Cycle checkpoint statuses.
const (
	CycleStatusRunning  = "running"
	CycleStatusReleased = "released"
	CycleStatusHalted   = "halted"
	CycleStatusFailed   = "failed"
)

// CycleCheckpoint is the persisted progress of one feedback cycle.
type CycleCheckpoint struct {
	CycleID     string    `json:"cycle_id"`
	RunID       string    `json:"run_id"`
	Role        string    `json:"role"`
	FeedbackRef string    `json:"feedback_ref"`
	Repetition  int       `json:"repetition"`
	Threshold   int       `json:"threshold"`
	Status      string    `json:"status"`
	LastError   string    `json:"last_error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SaveCycleCheckpoint upserts a cycle checkpoint.
func (s *Store) SaveCycleCheckpoint(ctx context.Context, cp CycleCheckpoint) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO cycle_checkpoints
				(cycle_id, run_id, role, feedback_ref, repetition, threshold, status, last_error, started_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(cycle_id) DO UPDATE SET
				repetition = excluded.repetition,
				status = excluded.status,
				last_error = excluded.last_error,
				updated_at = CURRENT_TIMESTAMP;`,
			cp.CycleID, cp.RunID, cp.Role, cp.FeedbackRef, cp.Repetition, cp.Threshold,
			cp.Status, cp.LastError, cp.StartedAt.UTC(),
		)
		return err
	})
}

// LoadCycleCheckpoint loads one checkpoint. It returns sql.ErrNoRows when the
// cycle is unknown.
func (s *Store) LoadCycleCheckpoint(ctx context.Context, cycleID string) (*CycleCheckpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT cycle_id, run_id, role, feedback_ref, repetition, threshold, status, last_error, started_at, updated_at
		FROM cycle_checkpoints WHERE cycle_id = ?;`, cycleID)
	cp, err := scanCheckpoint(row.Scan)
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// ListCycleCheckpoints returns the most recently updated checkpoints first.
func (s *Store) ListCycleCheckpoints(ctx context.Context, limit int) ([]CycleCheckpoint, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT cycle_id, run_id, role, feedback_ref, repetition, threshold, status, last_error, started_at, updated_at
		FROM cycle_checkpoints
		ORDER BY updated_at DESC, started_at DESC
		LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CycleCheckpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// CleanupFinishedCycles removes non-running checkpoints older than olderThan.
func (s *Store) CleanupFinishedCycles(ctx context.Context, olderThan time.Duration) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM cycle_checkpoints
		WHERE status != 'running'
		AND updated_at < datetime('now', ?);`,
		fmt.Sprintf("-%d seconds", int(olderThan.Seconds())),
	)
	if err != nil {
		return 0, err
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

func scanCheckpoint(scan func(dest ...any) error) (CycleCheckpoint, error) {
	var cp CycleCheckpoint
	err := scan(&cp.CycleID, &cp.RunID, &cp.Role, &cp.FeedbackRef, &cp.Repetition, &cp.Threshold,
		&cp.Status, &cp.LastError, &cp.StartedAt, &cp.UpdatedAt)
	if err == sql.ErrNoRows {
		return cp, sql.ErrNoRows
	}
	return cp, err
}
