package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/basket/go-refine/internal/shared"
	"github.com/basket/go-refine/internal/thread"
)

// JournalEntry is a stitch as stored in the journal.
type JournalEntry struct {
	Seq     int64
	RunID   string
	CycleID string
	Stitch  thread.Stitch
}

// AppendStitch journals one completed stitch. Input and output are stored as
// JSON with secrets redacted. The run and cycle ids come from ctx.
func (s *Store) AppendStitch(ctx context.Context, st thread.Stitch) error {
	input, err := marshalRedacted(st.Input)
	if err != nil {
		return fmt.Errorf("marshal stitch input: %w", err)
	}
	output, err := marshalRedacted(st.Output)
	if err != nil {
		return fmt.Errorf("marshal stitch output: %w", err)
	}
	createdAt := st.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO stitches (id, run_id, cycle_id, role, slug, form, input, output, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);`,
			st.ID, shared.RunID(ctx), shared.CycleID(ctx), st.Role, st.Slug, string(st.Form),
			input, output, createdAt.UTC(),
		)
		return err
	})
}

// ListStitches returns the journaled thread of role within a run, oldest first.
// Outputs come back as generic JSON values.
func (s *Store) ListStitches(ctx context.Context, runID, role string) ([]JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, run_id, cycle_id, id, role, slug, form, input, output, created_at
		FROM stitches
		WHERE run_id = ? AND role = ?
		ORDER BY seq ASC;`, runID, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JournalEntry
	for rows.Next() {
		var (
			e             JournalEntry
			form          string
			input, output string
		)
		if err := rows.Scan(&e.Seq, &e.RunID, &e.CycleID, &e.Stitch.ID, &e.Stitch.Role, &e.Stitch.Slug,
			&form, &input, &output, &e.Stitch.CreatedAt); err != nil {
			return nil, err
		}
		e.Stitch.Form = thread.Form(form)
		if err := json.Unmarshal([]byte(input), &e.Stitch.Input); err != nil {
			return nil, fmt.Errorf("decode stitch %s input: %w", e.Stitch.ID, err)
		}
		if err := json.Unmarshal([]byte(output), &e.Stitch.Output); err != nil {
			return nil, fmt.Errorf("decode stitch %s output: %w", e.Stitch.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountStitches returns the number of journaled stitches for a run.
func (s *Store) CountStitches(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stitches WHERE run_id = ?;`, runID).Scan(&n)
	return n, err
}

func marshalRedacted(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return shared.Redact(string(b)), nil
}
