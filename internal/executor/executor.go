// Package executor defines the boundary between the orchestrator and
// whatever actually performs the work of a stage: a linter, a test runner,
// a deploy agent. The core never implements an Executor itself.
package executor

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/vk/stagegrid/internal/config"
	"github.com/vk/stagegrid/internal/params"
	"github.com/vk/stagegrid/internal/secret"
)

// Executor performs the work of one stage.
//
// Execute is invoked asynchronously by the scheduler. ctx is the cancellation
// token: when it is done, the implementation should abort and return
// promptly. Implementations must be safe for concurrent use.
type Executor interface {
	Execute(ctx context.Context, task *Task) Outcome
}

// Func adapts a plain function into an Executor.
type Func func(ctx context.Context, task *Task) Outcome

// Execute implements Executor.
func (f Func) Execute(ctx context.Context, task *Task) Outcome { return f(ctx, task) }

// Task is everything an executor is told about the stage it runs.
type Task struct {
	RunID   string
	Stage   string
	Kind    string
	Inputs  *params.Inputs
	Secrets secret.Bag
	Trigger config.Trigger
}

// Outcome is the result of one execution. The core assumes nothing about it
// beyond success or failure and an optional diagnostic message.
type Outcome struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Succeeded returns a successful outcome.
func Succeeded(msg string) Outcome { return Outcome{Success: true, Message: msg} }

// Failed returns a failed outcome.
func Failed(msg string) Outcome { return Outcome{Success: false, Message: msg} }

// FromError turns a nil error into success and anything else into failure.
func FromError(err error) Outcome {
	if err != nil {
		return Failed(err.Error())
	}
	return Succeeded("")
}

// Invoke runs ex and converts a panic into a failed outcome, so one broken
// executor cannot take down the scheduler.
func Invoke(ctx context.Context, ex Executor, task *Task) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Failed(fmt.Sprintf("executor panicked: %v\n%s", r, debug.Stack()))
		}
	}()
	return ex.Execute(ctx, task)
}
