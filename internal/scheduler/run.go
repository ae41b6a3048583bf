package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vk/stagegrid/internal/config"
	"github.com/vk/stagegrid/internal/ctxlog"
	"github.com/vk/stagegrid/internal/dag"
	"github.com/vk/stagegrid/internal/executor"
	"github.com/vk/stagegrid/internal/params"
	"github.com/vk/stagegrid/internal/secret"
	"github.com/vk/stagegrid/internal/state"
	"github.com/vk/stagegrid/internal/tracker"
	"golang.org/x/sync/semaphore"
)

// run is the scheduler's private view of one live run. Every field below mu
// is guarded by it.
type run struct {
	id            string
	graph         *dag.Graph
	def           *config.Definition
	inputs        map[string]*params.Inputs
	secrets       map[string]secret.Bag
	trigger       config.Trigger
	groupKey      string
	dispatchOrder []string
	logger        *slog.Logger

	// base carries the logger but is never cancelled; bookkeeping uses it.
	base context.Context
	// ctx is the cancellation token handed to executors.
	ctx    context.Context
	cancel context.CancelFunc

	// done is closed once the run is terminal.
	done chan struct{}

	mu              sync.Mutex
	sem             *semaphore.Weighted
	states          map[string]dag.StageState
	status          state.RunStatus
	inFlight        int
	started         bool
	terminal        bool
	released        bool
	cancelRequested bool
	// failed is set once a stage fails without continue-on-error.
	failed bool
}

// start moves an admitted run into scheduling and runs the first tick.
func (s *Scheduler) start(r *run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminal || r.started {
		return
	}
	r.started = true
	s.setRunStatus(r, state.RunScheduling)
	r.logger.Info("🚀 Starting run.", "trigger_branch", r.trigger.Branch, "trigger_event", r.trigger.Event)

	s.tick(r)
	if !r.terminal {
		s.setRunStatus(r, state.RunRunning)
	}
}

func (s *Scheduler) setRunStatus(r *run, status state.RunStatus) {
	if err := s.tracker.SetRunStatus(r.base, r.id, status); err != nil {
		r.logger.Error("Failed to record run status.", "status", status, "error", err)
		return
	}
	r.status = status
}

// tick applies the graph's decisions and dispatches ready stages until
// nothing changes. Caller holds r.mu.
func (s *Scheduler) tick(r *run) {
	for !r.terminal {
		for _, d := range r.graph.ReadyStages(r.states, r.trigger) {
			if !s.applyDecision(r, d) {
				return
			}
		}
		changed, ok := s.dispatch(r)
		if !ok {
			return
		}
		if !changed {
			break
		}
	}
	s.checkCompletion(r)
}

func (s *Scheduler) applyDecision(r *run, d dag.Decision) bool {
	reason := ""
	if d.Err != nil {
		reason = d.Err.Error()
	}
	if err := s.transition(r, d.Stage, d.To, d.SkipReason, reason); err != nil {
		s.fail(r, err)
		return false
	}

	switch d.To {
	case state.Skipped:
		r.logger.Info("⏭️ Stage skipped.", "stage", d.Stage, "skip_reason", d.SkipReason)
		s.metrics.StageFinished(s.kind(r, d.Stage), string(state.Skipped))
	case state.Failed:
		r.logger.Error("❌ Stage condition could not be evaluated.", "stage", d.Stage, "error", d.Err)
		s.markFailed(r, d.Stage)
		s.metrics.StageFinished(s.kind(r, d.Stage), string(state.Failed))
	}
	return true
}

// dispatch starts ready stages while the in-flight cap allows. It reports
// whether any stage reached a terminal state without running, which calls
// for another round of decisions.
func (s *Scheduler) dispatch(r *run) (changed bool, ok bool) {
	for _, name := range r.dispatchOrder {
		if r.states[name].Status != state.Ready {
			continue
		}
		if r.sem != nil && !r.sem.TryAcquire(1) {
			r.logger.Debug("In-flight cap reached; deferring ready stages.", "in_flight", r.inFlight)
			break
		}

		stage, _ := r.graph.Stage(name)
		ex, err := s.registry.Lookup(stage.Kind)
		if err != nil {
			r.release()
			if terr := s.transition(r, name, state.Failed, state.SkipNone, err.Error()); terr != nil {
				s.fail(r, terr)
				return false, false
			}
			r.logger.Error("❌ Stage dispatch failed.", "stage", name, "kind", stage.Kind, "error", err)
			s.markFailed(r, name)
			s.metrics.StageFinished(stage.Kind, string(state.Failed))
			changed = true
			continue
		}

		if err := s.transition(r, name, state.Running, state.SkipNone, ""); err != nil {
			r.release()
			s.fail(r, err)
			return false, false
		}
		r.inFlight++
		s.executors.Add(1)
		deps, _ := r.graph.Dependencies(name)
		r.logger.Info("▶️ Dispatching stage.", "stage", name, "kind", stage.Kind, "after", deps)
		go s.execute(r, stage, ex)
	}
	return changed, true
}

func (r *run) release() {
	if r.sem != nil {
		r.sem.Release(1)
	}
}

// execute runs one executor outside the run lock and reports back.
func (s *Scheduler) execute(r *run, stage *config.Stage, ex executor.Executor) {
	defer s.executors.Done()

	ctx := ctxlog.ForStage(r.ctx, stage.Name, stage.Kind)
	if stage.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, stage.Timeout)
		defer cancel()
	}

	task := &executor.Task{
		RunID:   r.id,
		Stage:   stage.Name,
		Kind:    stage.Kind,
		Inputs:  r.inputs[stage.Name],
		Secrets: r.secrets[stage.Name],
		Trigger: r.trigger,
	}

	started := time.Now()
	s.metrics.StageStarted()
	out := executor.Invoke(ctx, ex, task)
	if !out.Success && errors.Is(ctx.Err(), context.DeadlineExceeded) && r.ctx.Err() == nil {
		out.Message = fmt.Sprintf("timed out after %s: %s", stage.Timeout, out.Message)
	}
	status := state.Succeeded
	if !out.Success {
		status = state.Failed
	}
	s.metrics.StageExecuted(stage.Kind, string(status), time.Since(started))

	s.onStageComplete(r, stage, out)
}

// onStageComplete records an executor outcome and advances the run.
func (s *Scheduler) onStageComplete(r *run, stage *config.Stage, out executor.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.inFlight--
	r.release()

	if r.terminal {
		r.logger.Debug("Dropping outcome for terminal run.", "stage", stage.Name, "success", out.Success)
		s.maybeRelease(r)
		return
	}

	to := state.Succeeded
	if !out.Success {
		to = state.Failed
	}
	if err := s.transition(r, stage.Name, to, state.SkipNone, out.Message); err != nil {
		s.fail(r, err)
		return
	}
	s.metrics.StageFinished(stage.Kind, string(to))

	if out.Success {
		dependents, _ := r.graph.Dependents(stage.Name)
		r.logger.Info("✅ Stage succeeded.", "stage", stage.Name, "dependents", dependents)
	} else {
		r.logger.Error("❌ Stage failed.", "stage", stage.Name, "message", out.Message, "continue_on_error", stage.ContinueOnError)
		s.markFailed(r, stage.Name)
	}
	s.tick(r)
}

func (s *Scheduler) markFailed(r *run, name string) {
	stage, ok := r.graph.Stage(name)
	if !ok || stage.ContinueOnError {
		return
	}
	r.failed = true
	if blocked, err := r.graph.Descendants(name); err == nil && len(blocked) > 0 {
		r.logger.Warn("Failure blocks downstream stages.", "stage", name, "blocked", blocked)
	}
}

func (s *Scheduler) kind(r *run, name string) string {
	if stage, ok := r.graph.Stage(name); ok {
		return stage.Kind
	}
	return ""
}

// transition records a stage change with the tracker and mirrors it locally.
func (s *Scheduler) transition(r *run, name string, to state.StageStatus, skip state.SkipReason, reason string) error {
	from := r.states[name].Status
	if err := s.tracker.RecordTransition(r.base, r.id, name, from, to, skip, reason); err != nil {
		return err
	}
	r.states[name] = dag.StageState{Status: to, SkipReason: skip}
	return nil
}

func (s *Scheduler) checkCompletion(r *run) {
	if r.terminal {
		return
	}
	for _, st := range r.states {
		if !st.Status.Terminal() {
			return
		}
	}
	status := state.RunCompleted
	if r.failed {
		status = state.RunFailed
	}
	s.finalize(r, status)
}

// cancelLocked marks every non-terminal stage cancelled and finalizes.
// Caller holds r.mu.
func (s *Scheduler) cancelLocked(r *run) {
	r.cancelRequested = true
	r.cancel()
	s.cancelStages(r, "run cancelled")
	s.finalize(r, state.RunCancelled)
}

func (s *Scheduler) cancelStages(r *run, reason string) {
	for _, name := range r.graph.Order() {
		if r.states[name].Status.Terminal() {
			continue
		}
		if err := s.transition(r, name, state.Cancelled, state.SkipNone, reason); err != nil {
			r.logger.Error("Failed to cancel stage.", "stage", name, "error", err)
			continue
		}
		s.metrics.StageFinished(s.kind(r, name), string(state.Cancelled))
	}
}

// fail handles a bookkeeping error such as a rejected transition: the run
// cannot be trusted to continue, so it stops as failed.
func (s *Scheduler) fail(r *run, err error) {
	var terr *tracker.InvalidTransitionError
	if errors.As(err, &terr) {
		r.logger.Error("Invalid stage transition; failing run.", "stage", terr.Stage, "error", err)
	} else {
		r.logger.Error("Run bookkeeping failed; failing run.", "error", err)
	}
	r.failed = true
	r.cancel()
	s.cancelStages(r, "run failed: "+err.Error())
	s.finalize(r, state.RunFailed)
}

func (s *Scheduler) finalize(r *run, status state.RunStatus) {
	if r.terminal {
		return
	}
	r.terminal = true
	r.status = status
	if _, err := s.tracker.Finalize(r.base, r.id, status); err != nil {
		r.logger.Error("Failed to persist run record.", "error", err)
	}
	s.metrics.RunFinished(r.def.ID, string(status))

	switch status {
	case state.RunCompleted:
		r.logger.Info("🏁 Run completed.")
	case state.RunCancelled:
		r.logger.Warn("🏁 Run cancelled.", "in_flight", r.inFlight)
	default:
		r.logger.Error("🏁 Run failed.")
	}
	close(r.done)
	r.cancel()
	s.maybeRelease(r)
}

// maybeRelease frees the run's group slot once it is terminal and its last
// executor returned.
func (s *Scheduler) maybeRelease(r *run) {
	if !r.terminal || r.inFlight > 0 || r.released {
		return
	}
	r.released = true
	if r.groupKey != "" {
		s.groups.Release(r.groupKey, r.id)
	}
	time.AfterFunc(s.opts.Retention, func() { s.forget(r) })
}
