package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vk/stagegrid/internal/catalog"
	"github.com/vk/stagegrid/internal/config"
	"github.com/vk/stagegrid/internal/ctxlog"
	"github.com/vk/stagegrid/internal/runstore"
	"github.com/vk/stagegrid/internal/scheduler"
	"github.com/vk/stagegrid/internal/state"
	"github.com/vk/stagegrid/internal/tracker"
)

// ErrNotFound is returned for unknown definitions and runs.
var ErrNotFound = errors.New("not found")

// Status is the observable state of one run.
type Status struct {
	RunID        string                           `json:"run_id"`
	DefinitionID string                           `json:"definition_id"`
	Overall      state.RunStatus                  `json:"status"`
	Stages       map[string]tracker.StageSnapshot `json:"stages"`
	Order        []string                         `json:"order,omitempty"`
	Trigger      config.Trigger                   `json:"trigger"`
	CreatedAt    time.Time                        `json:"created_at"`
	FinishedAt   time.Time                        `json:"finished_at,omitempty"`
}

// Orchestrator serves the submission, status and cancellation operations.
type Orchestrator struct {
	catalog   *catalog.Catalog
	scheduler *scheduler.Scheduler
	tracker   *tracker.Tracker
	store     runstore.Store
}

// New creates an orchestrator. store may be nil, in which case runs are
// only visible while the scheduler retains them.
func New(cat *catalog.Catalog, sched *scheduler.Scheduler, tr *tracker.Tracker, store runstore.Store) *Orchestrator {
	return &Orchestrator{
		catalog:   cat,
		scheduler: sched,
		tracker:   tr,
		store:     store,
	}
}

// SubmitRun starts a run of the named definition and returns its id. Graph
// and input validation errors are returned synchronously.
func (o *Orchestrator) SubmitRun(ctx context.Context, definitionID string, inputs map[string]any, trigger config.Trigger) (string, error) {
	h, err := o.Submit(ctx, scheduler.Request{Inputs: inputs, Trigger: trigger}, definitionID)
	if err != nil {
		return "", err
	}
	return h.RunID, nil
}

// Submit is SubmitRun returning the full scheduler handle. req.Definition is
// filled from the catalog.
func (o *Orchestrator) Submit(ctx context.Context, req scheduler.Request, definitionID string) (*scheduler.Handle, error) {
	def, ok := o.catalog.Get(definitionID)
	if !ok {
		return nil, fmt.Errorf("%w: definition %q", ErrNotFound, definitionID)
	}
	req.Definition = def
	h, err := o.scheduler.Submit(ctx, req)
	if err != nil {
		ctxlog.FromContext(ctx).Debug("Run rejected.", "definition", definitionID, "error", err)
		return nil, err
	}
	return h, nil
}

// GetRunStatus returns the current status of a run.
func (o *Orchestrator) GetRunStatus(ctx context.Context, runID string) (*Status, error) {
	snap, err := o.tracker.Snapshot(runID)
	if err == nil {
		return fromSnapshot(snap), nil
	}
	if !errors.Is(err, tracker.ErrUnknownRun) {
		return nil, err
	}
	rec, err := o.GetRunRecord(ctx, runID)
	if err != nil {
		return nil, err
	}
	return fromRecord(rec), nil
}

// CancelRun cancels a run. Cancelling a finished run is a no-op.
func (o *Orchestrator) CancelRun(ctx context.Context, runID string) error {
	err := o.scheduler.Cancel(ctx, runID)
	if err == nil || !errors.Is(err, tracker.ErrUnknownRun) {
		return err
	}
	// Runs the scheduler has forgotten are terminal.
	if _, err := o.GetRunRecord(ctx, runID); err != nil {
		return err
	}
	return nil
}

// Wait blocks until the run is terminal and returns its final status.
func (o *Orchestrator) Wait(ctx context.Context, runID string) (*Status, error) {
	if _, err := o.scheduler.Wait(ctx, runID); err != nil && !errors.Is(err, tracker.ErrUnknownRun) {
		return nil, err
	}
	return o.GetRunStatus(ctx, runID)
}

// GetRunRecord returns the persisted audit record of a finished run.
func (o *Orchestrator) GetRunRecord(ctx context.Context, runID string) (*runstore.Record, error) {
	if o.store == nil {
		return nil, fmt.Errorf("%w: run %q", ErrNotFound, runID)
	}
	rec, err := o.store.Get(ctx, runID)
	if errors.Is(err, runstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: run %q", ErrNotFound, runID)
	}
	return rec, err
}

// ListRuns returns the persisted records of finished runs, newest first. An
// empty definitionID lists every definition.
func (o *Orchestrator) ListRuns(ctx context.Context, definitionID string) ([]*runstore.Record, error) {
	if o.store == nil {
		return nil, nil
	}
	return o.store.List(ctx, definitionID)
}

// ListDefinitions returns the definitions that can be submitted.
func (o *Orchestrator) ListDefinitions() []*config.Definition {
	return o.catalog.List()
}

// Definition returns one definition by id.
func (o *Orchestrator) Definition(id string) (*config.Definition, error) {
	def, ok := o.catalog.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: definition %q", ErrNotFound, id)
	}
	return def, nil
}

func fromSnapshot(snap *tracker.Snapshot) *Status {
	return &Status{
		RunID:        snap.RunID,
		DefinitionID: snap.DefinitionID,
		Overall:      snap.Status,
		Stages:       snap.Stages,
		Order:        snap.Order,
		Trigger:      snap.Trigger,
		CreatedAt:    snap.CreatedAt,
		FinishedAt:   snap.FinishedAt,
	}
}

// fromRecord rebuilds a status from a record. Skip reasons and messages come
// from the last transition of each stage.
func fromRecord(rec *runstore.Record) *Status {
	stages := make(map[string]tracker.StageSnapshot, len(rec.Stages))
	for name, st := range rec.Stages {
		stages[name] = tracker.StageSnapshot{Status: st}
	}
	for _, tr := range rec.History {
		if snap, ok := stages[tr.Stage]; ok && snap.Status == tr.To {
			snap.SkipReason = tr.SkipReason
			snap.Reason = tr.Reason
			stages[tr.Stage] = snap
		}
	}
	return &Status{
		RunID:        rec.RunID,
		DefinitionID: rec.DefinitionID,
		Overall:      rec.Status,
		Stages:       stages,
		Trigger:      rec.Trigger,
		CreatedAt:    rec.CreatedAt,
		FinishedAt:   rec.FinishedAt,
	}
}
