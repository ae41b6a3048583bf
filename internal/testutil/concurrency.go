package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/vk/stagegrid/internal/executor"
	"github.com/vk/stagegrid/internal/registry"
)

// ExecutionRecord holds the start and end time of one stage execution.
type ExecutionRecord struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether two executions ran at the same time.
func (r *ExecutionRecord) Overlaps(other *ExecutionRecord) bool {
	return r.Start.Before(other.End) && other.Start.Before(r.End)
}

// SleeperModule registers the "sleeper" kind: it sleeps, records when each
// stage ran and succeeds. A cancelled context ends the sleep with a failure.
type SleeperModule struct {
	mu             sync.Mutex
	executions     map[string]*ExecutionRecord
	sleepDuration  time.Duration
	completionChan chan<- string
}

// NewSleeperModule creates a sleeper module. completionChan, when non-nil,
// receives the name of every completed stage.
func NewSleeperModule(completionChan chan<- string, sleep time.Duration) *SleeperModule {
	return &SleeperModule{
		executions:     make(map[string]*ExecutionRecord),
		sleepDuration:  sleep,
		completionChan: completionChan,
	}
}

// Register implements registry.Module.
func (m *SleeperModule) Register(r *registry.Registry) {
	r.Register("sleeper", executor.Func(func(ctx context.Context, task *executor.Task) executor.Outcome {
		start := time.Now()
		select {
		case <-time.After(m.sleepDuration):
		case <-ctx.Done():
			return executor.Failed("interrupted")
		}
		end := time.Now()

		m.mu.Lock()
		m.executions[task.Stage] = &ExecutionRecord{Start: start, End: end}
		m.mu.Unlock()

		if m.completionChan != nil {
			m.completionChan <- task.Stage
		}
		return executor.Succeeded("slept " + m.sleepDuration.String())
	}))
}

// Execution returns the record of a stage, or nil if it did not run.
func (m *SleeperModule) Execution(stage string) *ExecutionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.executions[stage]
}
