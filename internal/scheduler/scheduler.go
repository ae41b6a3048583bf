package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vk/stagegrid/internal/concurrency"
	"github.com/vk/stagegrid/internal/config"
	"github.com/vk/stagegrid/internal/ctxlog"
	"github.com/vk/stagegrid/internal/dag"
	"github.com/vk/stagegrid/internal/metrics"
	"github.com/vk/stagegrid/internal/params"
	"github.com/vk/stagegrid/internal/registry"
	"github.com/vk/stagegrid/internal/secret"
	"github.com/vk/stagegrid/internal/state"
	"github.com/vk/stagegrid/internal/tracker"
	"golang.org/x/sync/semaphore"
)

// Request asks for one run of a definition.
type Request struct {
	// RunID is optional; a UUID is generated when empty.
	RunID      string
	Definition *config.Definition
	Inputs     map[string]any
	Trigger    config.Trigger
}

// Handle identifies an accepted run.
type Handle struct {
	RunID    string
	GroupKey string
	// Status is the run status when Submit returned: scheduling, running,
	// queued or, for runs that finished synchronously, terminal.
	Status state.RunStatus
}

// Scheduler runs pipeline definitions.
type Scheduler struct {
	registry *registry.Registry
	tracker  *tracker.Tracker
	groups   *concurrency.Registry
	metrics  *metrics.Metrics
	opts     Options

	mu   sync.Mutex
	runs map[string]*run

	// executors tracks every executor goroutine for Shutdown.
	executors sync.WaitGroup
}

// New creates a scheduler. m may be nil.
func New(reg *registry.Registry, tr *tracker.Tracker, groups *concurrency.Registry, m *metrics.Metrics, opts Options) *Scheduler {
	return &Scheduler{
		registry: reg,
		tracker:  tr,
		groups:   groups,
		metrics:  m,
		opts:     opts.withDefaults(),
		runs:     make(map[string]*run),
	}
}

// Submit validates a request and starts the run, or queues it behind the
// current occupant of its concurrency group. Graph and input errors are
// returned synchronously and no run is created.
//
// With cancel-in-progress, Submit blocks until the superseded occupant has
// drained or the cancellation timeout passed.
func (s *Scheduler) Submit(ctx context.Context, req Request) (*Handle, error) {
	def := req.Definition
	if def == nil {
		return nil, errors.New("request has no definition")
	}

	g, err := dag.Build(ctx, def)
	if err != nil {
		return nil, err
	}
	inputs, err := params.ResolveAll(def, req.Inputs)
	if err != nil {
		return nil, err
	}
	secrets := make(map[string]secret.Bag, len(def.Stages))
	for _, st := range def.Stages {
		bag, err := s.opts.Secrets.Subset(st.Secrets)
		if err != nil {
			return nil, &params.ValidationError{Stage: st.Name, Param: "secrets", Reason: err.Error()}
		}
		secrets[st.Name] = bag
	}

	var key string
	supersede := false
	if def.Concurrency != nil && def.Concurrency.Group != nil {
		if key, err = def.Concurrency.Group.Render(req.Trigger); err != nil {
			return nil, fmt.Errorf("rendering concurrency group of %s: %w", def.ID, err)
		}
		supersede = def.Concurrency.CancelInProgress
	}

	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	redacted := make(map[string]map[string]any, len(inputs))
	for name, in := range inputs {
		redacted[name] = in.Redacted()
	}
	if err := s.tracker.Register(ctx, tracker.RunInfo{
		RunID:        runID,
		DefinitionID: def.ID,
		Trigger:      req.Trigger,
		Stages:       g.Order(),
		Inputs:       redacted,
	}); err != nil {
		return nil, err
	}

	r := s.newRun(ctx, runID, g, inputs, secrets, req.Trigger, key)
	s.mu.Lock()
	s.runs[runID] = r
	s.mu.Unlock()
	s.metrics.RunSubmitted(def.ID)
	r.logger.Info("📥 Run accepted.", "group", key, "stages", g.Len())

	if key == "" {
		s.start(r)
		return s.handle(r), nil
	}

	claim := s.groups.Claim(key, runID, supersede)
	switch {
	case claim.Admitted:
		s.start(r)
	case supersede:
		s.supersede(ctx, r, claim)
	default:
		s.queue(r, claim)
	}
	return s.handle(r), nil
}

func (s *Scheduler) handle(r *run) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &Handle{RunID: r.id, GroupKey: r.groupKey, Status: r.status}
}

// supersede cancels the occupant and every queued waiter of r's group, then
// waits for the slot.
func (s *Scheduler) supersede(ctx context.Context, r *run, claim concurrency.Claim) {
	r.mu.Lock()
	s.setRunStatus(r, state.RunQueued)
	r.mu.Unlock()

	for _, id := range claim.Superseded {
		r.logger.Info("⏭️ Cancelling queued run superseded by newer run.", "superseded", id)
		if err := s.Cancel(ctx, id); err != nil {
			r.logger.Warn("Failed to cancel superseded run.", "superseded", id, "error", err)
		}
	}
	r.logger.Info("⏭️ Cancelling run in progress for concurrency group.", "occupant", claim.Occupant, "group", r.groupKey)
	if err := s.Cancel(ctx, claim.Occupant); err != nil {
		r.logger.Warn("Failed to cancel occupant.", "occupant", claim.Occupant, "error", err)
	}

	timer := time.NewTimer(s.opts.CancelTimeout)
	defer timer.Stop()
	select {
	case <-claim.Ready:
	case <-timer.C:
		if !s.forceHandOver(r, claim.Occupant) {
			return
		}
	case <-r.ctx.Done():
		// Cancelled while waiting; Cancel released the claim.
		return
	}
	s.start(r)
}

// forceHandOver takes r's group slot after the occupant failed to drain in
// time. It reports whether r now holds the slot. A run cancelled while the
// timer fired, or evicted from the queue by a newer superseding run, must not
// take the slot: its release already happened.
func (s *Scheduler) forceHandOver(r *run, occupant string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminal || r.ctx.Err() != nil {
		return false
	}
	if !s.groups.Promote(r.groupKey, r.id) {
		r.logger.Info("⏭️ Run lost its concurrency group place while waiting.", "group", r.groupKey)
		s.cancelLocked(r)
		return false
	}
	r.logger.Warn("Forcing concurrency group hand-over.",
		"occupant", occupant, "timeout", s.opts.CancelTimeout, "error", ErrCancellationTimeout)
	s.metrics.ForcedSupersede()
	return true
}

// queue parks r until its group slot is handed over.
func (s *Scheduler) queue(r *run, claim concurrency.Claim) {
	r.mu.Lock()
	s.setRunStatus(r, state.RunQueued)
	r.mu.Unlock()
	s.metrics.RunQueued()
	r.logger.Info("⏸️ Run queued behind concurrency group occupant.",
		"group", r.groupKey, "occupant", claim.Occupant, "position", len(s.groups.Queued(r.groupKey)))

	go func() {
		defer s.metrics.RunDequeued()
		select {
		case <-claim.Ready:
			s.start(r)
		case <-r.ctx.Done():
		}
	}()
}

// Cancel stops a run: no further stage is dispatched, every non-terminal
// stage is marked cancelled and running executors are signalled. Cancelling
// a terminal run is a no-op.
func (s *Scheduler) Cancel(ctx context.Context, runID string) error {
	r, ok := s.lookup(runID)
	if !ok {
		return fmt.Errorf("%w: %s", tracker.ErrUnknownRun, runID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminal {
		return nil
	}
	ctxlog.FromContext(ctx).Debug("Cancelling run.", "run", runID)
	s.cancelLocked(r)
	return nil
}

// Wait blocks until the run is terminal and returns its final status.
func (s *Scheduler) Wait(ctx context.Context, runID string) (state.RunStatus, error) {
	r, ok := s.lookup(runID)
	if !ok {
		return "", fmt.Errorf("%w: %s", tracker.ErrUnknownRun, runID)
	}
	select {
	case <-r.done:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.status, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Runs returns the ids of the runs the scheduler still holds, live or
// recently finished.
func (s *Scheduler) Runs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.runs))
	for id := range s.runs {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown cancels every live run and waits for running executors to return.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	for _, id := range s.Runs() {
		_ = s.Cancel(ctx, id)
	}

	done := make(chan struct{})
	go func() {
		s.executors.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for executors: %w", ctx.Err())
	}
}

func (s *Scheduler) lookup(runID string) (*run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	return r, ok
}

func (s *Scheduler) forget(r *run) {
	s.mu.Lock()
	delete(s.runs, r.id)
	s.mu.Unlock()
	s.tracker.Forget(r.id)
}

func (s *Scheduler) newRun(ctx context.Context, id string, g *dag.Graph, inputs map[string]*params.Inputs, secrets map[string]secret.Bag, trigger config.Trigger, key string) *run {
	def := g.Definition()
	base, logger := ctxlog.ForRun(context.WithoutCancel(ctx), id, def.ID)
	runCtx, cancel := context.WithCancel(base)

	maxInFlight := def.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = s.opts.MaxInFlight
	}
	var sem *semaphore.Weighted
	if maxInFlight > 0 {
		sem = semaphore.NewWeighted(int64(maxInFlight))
	}

	r := &run{
		id:            id,
		graph:         g,
		def:           def,
		inputs:        inputs,
		secrets:       secrets,
		trigger:       trigger,
		groupKey:      key,
		logger:        logger,
		base:          base,
		ctx:           runCtx,
		cancel:        cancel,
		sem:           sem,
		status:        state.RunAccepted,
		states:        make(map[string]dag.StageState, g.Len()),
		dispatchOrder: s.opts.DispatchPolicy.order(def),
		done:          make(chan struct{}),
	}
	for _, name := range g.Order() {
		r.states[name] = dag.StageState{Status: state.Pending}
	}
	return r
}
