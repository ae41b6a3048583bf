// Package runstore defines the interface for persisting run records.
//
// # Why Run Store Exists
//
// The tracker keeps the live, mutable state of a run in memory. Once a run
// is terminal its record is handed to a Store so the outcome stays
// queryable for audit and troubleshooting after the process forgets it.
//
// A record holds the full transition history, the final status and the
// resolved inputs of every stage with sensitive values already redacted.
// Secrets are never part of a record.
//
// # Implementations
//
//   - internal/runstore/inmemory: sync.Map backed, ephemeral; the default.
//   - internal/runstore/sqlite: a single SQLite file in WAL mode.
package runstore

import (
	"context"
	"errors"
	"time"

	"github.com/vk/stagegrid/internal/config"
	"github.com/vk/stagegrid/internal/state"
)

// ErrNotFound is returned when no record exists for a run id.
var ErrNotFound = errors.New("run record not found")

// Record is the persisted audit record of one run.
type Record struct {
	RunID        string          `json:"run_id"`
	DefinitionID string          `json:"definition_id"`
	Trigger      config.Trigger  `json:"trigger"`
	Status       state.RunStatus `json:"status"`
	// Stages is the final status of every stage.
	Stages map[string]state.StageStatus `json:"stages"`
	// Inputs holds the resolved inputs per stage, sensitive values redacted.
	Inputs     map[string]map[string]any `json:"inputs"`
	History    []state.Transition        `json:"history"`
	CreatedAt  time.Time                 `json:"created_at"`
	FinishedAt time.Time                 `json:"finished_at"`
}

// Store is the interface for saving and loading run records.
//
// Implementations MUST be safe for concurrent use: runs finish concurrently
// while API callers read.
type Store interface {
	// Save inserts or replaces the record of a run. Transitions already
	// stored for the run are kept; history is append-only.
	Save(ctx context.Context, rec *Record) error

	// Get loads a record, returning ErrNotFound when the run is unknown.
	Get(ctx context.Context, runID string) (*Record, error)

	// List returns records newest first. An empty definitionID lists all.
	List(ctx context.Context, definitionID string) ([]*Record, error)

	// Close releases the underlying resources.
	Close() error
}

// Clone returns a copy of rec whose maps and slices are not shared.
func (rec *Record) Clone() *Record {
	out := *rec
	out.Stages = make(map[string]state.StageStatus, len(rec.Stages))
	for k, v := range rec.Stages {
		out.Stages[k] = v
	}
	out.Inputs = make(map[string]map[string]any, len(rec.Inputs))
	for stage, in := range rec.Inputs {
		cp := make(map[string]any, len(in))
		for k, v := range in {
			cp[k] = v
		}
		out.Inputs[stage] = cp
	}
	out.History = append([]state.Transition(nil), rec.History...)
	return &out
}
