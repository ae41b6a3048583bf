package state

import (
	"fmt"
	"time"
)

// StageStatus is the execution state of a single stage within a run.
type StageStatus string

const (
	// Pending indicates the stage is waiting for its dependencies.
	Pending StageStatus = "pending"
	// Ready indicates every dependency is satisfied and the condition held.
	Ready StageStatus = "ready"
	// Running indicates the stage has been dispatched to its executor.
	Running StageStatus = "running"
	// Succeeded indicates the executor reported success.
	Succeeded StageStatus = "succeeded"
	// Failed indicates the executor reported failure, or dispatch failed.
	Failed StageStatus = "failed"
	// Skipped indicates the stage will never run; see SkipReason.
	Skipped StageStatus = "skipped"
	// Cancelled indicates the run was cancelled before the stage finished.
	Cancelled StageStatus = "cancelled"
)

// Terminal reports whether no further transition can leave s.
func (s StageStatus) Terminal() bool {
	switch s {
	case Succeeded, Failed, Skipped, Cancelled:
		return true
	}
	return false
}

func (s StageStatus) String() string { return string(s) }

// transitions lists every legal edge of the stage lifecycle.
var transitions = map[StageStatus]map[StageStatus]struct{}{
	Pending: {Ready: {}, Skipped: {}, Failed: {}, Cancelled: {}},
	Ready:   {Running: {}, Failed: {}, Skipped: {}, Cancelled: {}},
	Running: {Succeeded: {}, Failed: {}, Cancelled: {}},
}

// CanTransition reports whether a stage may move from one status to another.
func CanTransition(from, to StageStatus) bool {
	next, ok := transitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// SkipReason explains why a stage ended up Skipped.
type SkipReason string

const (
	// SkipNone is the zero value for stages that were not skipped.
	SkipNone SkipReason = ""
	// SkipCondition means the stage's own condition evaluated false.
	SkipCondition SkipReason = "condition"
	// SkipUpstreamSkipped means an ancestor was skipped by a condition.
	SkipUpstreamSkipped SkipReason = "upstream-skipped"
	// SkipUpstreamFailed means an ancestor failed or was cancelled (fail-fast).
	SkipUpstreamFailed SkipReason = "upstream-failed"
)

// RunStatus is the overall state of a run.
type RunStatus string

const (
	RunAccepted   RunStatus = "accepted"
	RunQueued     RunStatus = "queued"
	RunScheduling RunStatus = "scheduling"
	RunRunning    RunStatus = "running"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
	RunCancelled  RunStatus = "cancelled"
)

// Terminal reports whether the run has finished.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled:
		return true
	}
	return false
}

func (s RunStatus) String() string { return string(s) }

// Transition is one immutable entry of a run's audit log.
type Transition struct {
	Seq        int         `json:"seq"`
	Stage      string      `json:"stage"`
	From       StageStatus `json:"from"`
	To         StageStatus `json:"to"`
	SkipReason SkipReason  `json:"skip_reason,omitempty"`
	// Reason carries the executor message or error text behind the change.
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

func (t Transition) String() string {
	return fmt.Sprintf("stage %s: %s->%s", t.Stage, t.From, t.To)
}
