// Package sqlite is a runstore.Store backed by a single SQLite database.
//
// The run record itself is stored as JSON in the `runs` table; its history
// goes to `run_transitions`, one row per transition keyed by (run_id, seq).
// Transitions are only ever inserted, so the audit log cannot be rewritten
// by a later save.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vk/stagegrid/internal/runstore"
	"github.com/vk/stagegrid/internal/state"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	definition_id TEXT NOT NULL,
	status TEXT NOT NULL,
	data TEXT NOT NULL,
	created_at TEXT NOT NULL,
	finished_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS run_transitions (
	run_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	stage TEXT NOT NULL,
	from_status TEXT NOT NULL,
	to_status TEXT NOT NULL,
	skip_reason TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL DEFAULT '',
	at TEXT NOT NULL,
	PRIMARY KEY (run_id, seq),
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE INDEX IF NOT EXISTS idx_runs_definition ON runs(definition_id);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
`

// Store is a SQLite implementation of runstore.Store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &Store{db: db}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return s, nil
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate() error {
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save upserts the run row and appends any transitions not yet stored.
func (s *Store) Save(ctx context.Context, rec *runstore.Record) error {
	body := rec.Clone()
	body.History = nil
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, definition_id, status, data, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			data = excluded.data,
			finished_at = excluded.finished_at
	`, rec.RunID, rec.DefinitionID, string(rec.Status), string(data),
		formatTime(rec.CreatedAt), formatTime(rec.FinishedAt))
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO run_transitions (run_id, seq, stage, from_status, to_status, skip_reason, reason, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare transitions: %w", err)
	}
	defer stmt.Close()

	for _, tr := range rec.History {
		_, err := stmt.ExecContext(ctx, rec.RunID, tr.Seq, tr.Stage, string(tr.From), string(tr.To),
			string(tr.SkipReason), tr.Reason, formatTime(tr.At))
		if err != nil {
			return fmt.Errorf("insert transition %d: %w", tr.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run record: %w", err)
	}
	return nil
}

// Get loads a record and its full history.
func (s *Store) Get(ctx context.Context, runID string) (*runstore.Record, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM runs WHERE run_id = ?", runID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, runstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}

	var rec runstore.Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal run record: %w", err)
	}
	history, err := s.history(ctx, runID)
	if err != nil {
		return nil, err
	}
	rec.History = history
	return &rec, nil
}

// List returns records newest first.
func (s *Store) List(ctx context.Context, definitionID string) ([]*runstore.Record, error) {
	query := "SELECT run_id FROM runs ORDER BY created_at DESC"
	args := []any{}
	if definitionID != "" {
		query = "SELECT run_id FROM runs WHERE definition_id = ? ORDER BY created_at DESC"
		args = append(args, definitionID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan run id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	out := make([]*runstore.Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) history(ctx context.Context, runID string) ([]state.Transition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, stage, from_status, to_status, skip_reason, reason, at
		FROM run_transitions WHERE run_id = ? ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var out []state.Transition
	for rows.Next() {
		var (
			tr               state.Transition
			from, to, reason string
			skip, at         string
		)
		if err := rows.Scan(&tr.Seq, &tr.Stage, &from, &to, &skip, &reason, &at); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		tr.From = state.StageStatus(from)
		tr.To = state.StageStatus(to)
		tr.SkipReason = state.SkipReason(skip)
		tr.Reason = reason
		if tr.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("parse transition time: %w", err)
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
