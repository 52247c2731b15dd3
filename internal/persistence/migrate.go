package persistence

import (
	"context"
	"database/sql"
	"fmt"
)

type migration struct {
	version  int
	checksum string
	stmts    []string
}

// migrations are applied in order, each in its own transaction. An applied
// migration whose recorded checksum differs from the one here is treated as a
// foreign schema and Open refuses it.
var migrations = []migration{
	{
		version:  1,
		checksum: "rf-v1-2026-10-17-journal",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS stitches (
				seq INTEGER PRIMARY KEY AUTOINCREMENT,
				id TEXT NOT NULL UNIQUE,
				run_id TEXT NOT NULL,
				cycle_id TEXT NOT NULL DEFAULT '',
				role TEXT NOT NULL,
				slug TEXT NOT NULL,
				form TEXT NOT NULL,
				input TEXT NOT NULL DEFAULT 'null',
				output TEXT NOT NULL DEFAULT 'null',
				created_at DATETIME NOT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_stitches_run_role ON stitches(run_id, role, seq);`,
			`CREATE TABLE IF NOT EXISTS cycle_checkpoints (
				cycle_id TEXT PRIMARY KEY,
				run_id TEXT NOT NULL,
				role TEXT NOT NULL,
				feedback_ref TEXT NOT NULL,
				repetition INTEGER NOT NULL DEFAULT 0,
				threshold INTEGER NOT NULL,
				status TEXT NOT NULL CHECK(status IN ('running', 'released', 'halted', 'failed')),
				last_error TEXT NOT NULL DEFAULT '',
				started_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);`,
			`CREATE INDEX IF NOT EXISTS idx_cycle_checkpoints_status ON cycle_checkpoints(status, updated_at);`,
		},
	},
}

func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied := make(map[int]string)
	rows, err := db.QueryContext(ctx, `SELECT version, checksum FROM schema_migrations;`)
	if err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int
		var sum string
		if err := rows.Scan(&v, &sum); err != nil {
			rows.Close()
			return fmt.Errorf("scan schema_migrations: %w", err)
		}
		applied[v] = sum
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}

	latest := migrations[len(migrations)-1].version
	for v := range applied {
		if v > latest {
			return fmt.Errorf("journal schema version %d is newer than this binary supports (%d)", v, latest)
		}
	}

	for _, m := range migrations {
		if sum, ok := applied[m.version]; ok {
			if sum != m.checksum {
				return fmt.Errorf("journal schema v%d checksum %q, want %q", m.version, sum, m.checksum)
			}
			continue
		}
		if err := apply(ctx, db, m); err != nil {
			return err
		}
	}
	return nil
}

func apply(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration v%d: %w", m.version, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range m.stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration v%d: %w", m.version, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, checksum) VALUES (?, ?);`,
		m.version, m.checksum); err != nil {
		return fmt.Errorf("record migration v%d: %w", m.version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration v%d: %w", m.version, err)
	}
	return nil
}
