// Package shell registers the "shell" executor kind: it runs a command line
// with /bin/sh and succeeds when the command exits zero.
//
// Inputs:
//
//	command  string  required; passed to `sh -c`
//	dir      string  working directory
//	shell    string  interpreter, default "sh"
//
// Requested secrets are exported into the environment under their own
// names, next to STAGEGRID_RUN_ID, STAGEGRID_STAGE, STAGEGRID_BRANCH,
// STAGEGRID_EVENT and STAGEGRID_ACTOR. Cancellation kills the process.
package shell

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/vk/stagegrid/internal/ctxlog"
	"github.com/vk/stagegrid/internal/executor"
	"github.com/vk/stagegrid/internal/registry"
)

// Kind is the executor kind this module registers.
const Kind = "shell"

// outputTail is how many bytes of combined output are kept for the outcome
// message.
const outputTail = 2048

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the executor with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.Register(Kind, executor.Func(execute))
}

func execute(ctx context.Context, task *executor.Task) executor.Outcome {
	logger := ctxlog.FromContext(ctx).With("executor", Kind)

	command, ok := task.Inputs.String("command")
	if !ok || strings.TrimSpace(command) == "" {
		return executor.Failed("input 'command' is required")
	}
	sh, ok := task.Inputs.String("shell")
	if !ok || sh == "" {
		sh = "sh"
	}

	cmd := exec.CommandContext(ctx, sh, "-c", command)
	if dir, ok := task.Inputs.String("dir"); ok {
		cmd.Dir = dir
	}
	cmd.Env = environ(task)
	cmd.WaitDelay = 5 * time.Second
	out := &tailBuffer{limit: outputTail}
	cmd.Stdout = out
	cmd.Stderr = out

	logger.Debug("Running command.", "command", command, "dir", cmd.Dir)
	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start).Round(time.Millisecond)

	tail := strings.TrimSpace(out.String())
	switch {
	case err == nil:
		logger.Debug("Command finished.", "duration", elapsed)
		return executor.Succeeded(lastLine(tail))
	case ctx.Err() != nil:
		return executor.Failed(fmt.Sprintf("interrupted after %s", elapsed))
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return executor.Failed(fmt.Sprintf("exit status %d: %s", exitErr.ExitCode(), tail))
		}
		return executor.Failed(err.Error())
	}
}

func environ(task *executor.Task) []string {
	env := os.Environ()
	env = append(env,
		"STAGEGRID_RUN_ID="+task.RunID,
		"STAGEGRID_STAGE="+task.Stage,
		"STAGEGRID_BRANCH="+task.Trigger.Branch,
		"STAGEGRID_EVENT="+task.Trigger.Event,
		"STAGEGRID_ACTOR="+task.Trigger.Actor,
	)
	for _, name := range task.Secrets.Names() {
		v, _ := task.Secrets.Lookup(name)
		env = append(env, name+"="+v)
	}
	return env
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// tailBuffer keeps the last limit bytes written to it. exec serializes
// writes when Stdout and Stderr are the same writer.
type tailBuffer struct {
	buf   []byte
	limit int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string { return string(b.buf) }
