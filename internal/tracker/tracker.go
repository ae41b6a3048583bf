package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vk/stagegrid/internal/config"
	"github.com/vk/stagegrid/internal/ctxlog"
	"github.com/vk/stagegrid/internal/runstore"
	"github.com/vk/stagegrid/internal/state"
)

var (
	// ErrInvalidTransition is matched by every InvalidTransitionError.
	ErrInvalidTransition = errors.New("invalid stage transition")
	// ErrUnknownRun is returned for run ids the tracker has never seen.
	ErrUnknownRun = errors.New("unknown run")
)

// InvalidTransitionError reports a rejected stage transition.
type InvalidTransitionError struct {
	RunID    string
	Stage    string
	From     state.StageStatus
	To       state.StageStatus
	Recorded state.StageStatus
}

func (e *InvalidTransitionError) Error() string {
	if e.Recorded != e.From {
		return fmt.Sprintf("run %s: stage %q: transition %s->%s rejected, recorded state is %s",
			e.RunID, e.Stage, e.From, e.To, e.Recorded)
	}
	return fmt.Sprintf("run %s: stage %q: transition %s->%s is not allowed", e.RunID, e.Stage, e.From, e.To)
}

// Unwrap makes the error match ErrInvalidTransition.
func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// RunInfo seeds a new run.
type RunInfo struct {
	RunID        string
	DefinitionID string
	Trigger      config.Trigger
	Stages       []string
	// Inputs are the redacted resolved inputs per stage, kept for the record.
	Inputs map[string]map[string]any
}

// StageSnapshot is the current state of one stage.
type StageSnapshot struct {
	Status     state.StageStatus `json:"status"`
	SkipReason state.SkipReason  `json:"skip_reason,omitempty"`
	Reason     string            `json:"reason,omitempty"`
}

// Snapshot is a read-only copy of a run's state.
type Snapshot struct {
	RunID        string                   `json:"run_id"`
	DefinitionID string                   `json:"definition_id"`
	Trigger      config.Trigger           `json:"trigger"`
	Status       state.RunStatus          `json:"status"`
	Stages       map[string]StageSnapshot `json:"stages"`
	// Order lists the stages in declaration order.
	Order      []string  `json:"order"`
	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

type run struct {
	info       RunInfo
	status     state.RunStatus
	stages     map[string]StageSnapshot
	history    []state.Transition
	createdAt  time.Time
	finishedAt time.Time
	// record is set once the run has been finalized.
	record *runstore.Record
}

// Tracker holds the live state of every run.
type Tracker struct {
	mu    sync.RWMutex
	runs  map[string]*run
	store runstore.Store
	now   func() time.Time
}

// New creates a tracker persisting finished runs to store. A nil store
// disables persistence.
func New(store runstore.Store) *Tracker {
	return &Tracker{
		runs:  make(map[string]*run),
		store: store,
		now:   time.Now,
	}
}

// Register starts tracking a run with every stage pending.
func (t *Tracker) Register(ctx context.Context, info RunInfo) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.runs[info.RunID]; exists {
		return fmt.Errorf("run %s already registered", info.RunID)
	}
	r := &run{
		info:      info,
		status:    state.RunAccepted,
		stages:    make(map[string]StageSnapshot, len(info.Stages)),
		createdAt: t.now(),
	}
	for _, name := range info.Stages {
		r.stages[name] = StageSnapshot{Status: state.Pending}
	}
	t.runs[info.RunID] = r
	ctxlog.FromContext(ctx).Debug("Run registered.", "run", info.RunID, "definition", info.DefinitionID, "stages", len(info.Stages))
	return nil
}

// RecordTransition applies one stage transition and appends it to the log.
func (t *Tracker) RecordTransition(ctx context.Context, runID, stage string, from, to state.StageStatus, skip state.SkipReason, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.runs[runID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	cur, ok := r.stages[stage]
	if !ok {
		return fmt.Errorf("run %s: unknown stage %q", runID, stage)
	}
	if cur.Status != from || !state.CanTransition(from, to) {
		return &InvalidTransitionError{RunID: runID, Stage: stage, From: from, To: to, Recorded: cur.Status}
	}

	tr := state.Transition{
		Seq:        len(r.history) + 1,
		Stage:      stage,
		From:       from,
		To:         to,
		SkipReason: skip,
		Reason:     reason,
		At:         t.now(),
	}
	r.history = append(r.history, tr)
	r.stages[stage] = StageSnapshot{Status: to, SkipReason: skip, Reason: reason}

	ctxlog.FromContext(ctx).Debug("Stage transition recorded.", "run", runID, "transition", tr.String(), "skip_reason", skip)
	return nil
}

// SetRunStatus updates the overall run status. Terminal statuses are final.
func (t *Tracker) SetRunStatus(ctx context.Context, runID string, status state.RunStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.runs[runID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	if r.status.Terminal() {
		if r.status == status {
			return nil
		}
		return fmt.Errorf("run %s is already %s", runID, r.status)
	}
	if status.Terminal() {
		r.finishedAt = t.now()
	}
	ctxlog.FromContext(ctx).Debug("Run status changed.", "run", runID, "from", r.status, "to", status)
	r.status = status
	return nil
}

// Snapshot returns a copy of a run's current state.
func (t *Tracker) Snapshot(runID string) (*Snapshot, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	r, ok := t.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	snap := &Snapshot{
		RunID:        r.info.RunID,
		DefinitionID: r.info.DefinitionID,
		Trigger:      r.info.Trigger,
		Status:       r.status,
		Stages:       make(map[string]StageSnapshot, len(r.stages)),
		Order:        append([]string(nil), r.info.Stages...),
		CreatedAt:    r.createdAt,
		FinishedAt:   r.finishedAt,
	}
	for k, v := range r.stages {
		snap.Stages[k] = v
	}
	return snap, nil
}

// History returns a copy of a run's transition log.
func (t *Tracker) History(runID string) ([]state.Transition, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	r, ok := t.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	return append([]state.Transition(nil), r.history...), nil
}

// Finalize sets the terminal run status and persists the run record. It is
// idempotent: a run is persisted once.
func (t *Tracker) Finalize(ctx context.Context, runID string, status state.RunStatus) (*runstore.Record, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("run %s: cannot finalize with non-terminal status %s", runID, status)
	}
	if err := t.SetRunStatus(ctx, runID, status); err != nil {
		return nil, err
	}

	t.mu.Lock()
	r := t.runs[runID]
	if r.record != nil {
		t.mu.Unlock()
		return r.record.Clone(), nil
	}
	rec := &runstore.Record{
		RunID:        r.info.RunID,
		DefinitionID: r.info.DefinitionID,
		Trigger:      r.info.Trigger,
		Status:       r.status,
		Stages:       make(map[string]state.StageStatus, len(r.stages)),
		Inputs:       r.info.Inputs,
		History:      append([]state.Transition(nil), r.history...),
		CreatedAt:    r.createdAt,
		FinishedAt:   r.finishedAt,
	}
	for k, v := range r.stages {
		rec.Stages[k] = v.Status
	}
	r.record = rec.Clone()
	t.mu.Unlock()

	if t.store == nil {
		return rec, nil
	}
	if err := t.store.Save(ctx, rec); err != nil {
		return rec, fmt.Errorf("persisting run %s: %w", runID, err)
	}
	ctxlog.FromContext(ctx).Debug("Run record persisted.", "run", runID, "status", status, "transitions", len(rec.History))
	return rec, nil
}

// Forget drops a finalized run from memory. Its record remains in the store.
func (t *Tracker) Forget(runID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.runs[runID]; ok && r.record != nil {
		delete(t.runs, runID)
	}
}
