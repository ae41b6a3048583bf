package print

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/vk/stagegrid/internal/ctxlog"
	"github.com/vk/stagegrid/internal/executor"
	"github.com/vk/stagegrid/internal/registry"
)

// Kind is the executor kind this module registers.
const Kind = "print"

// Module implements the registry.Module interface for this package.
type Module struct {
	// Out receives the printed inputs. Nil means os.Stdout.
	Out io.Writer

	mu sync.Mutex
}

// Register registers the executor with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.Register(Kind, executor.Func(m.execute))
}

// execute prints the stage inputs, sorted by name, with sensitive values
// redacted, and always succeeds.
func (m *Module) execute(ctx context.Context, task *executor.Task) executor.Outcome {
	logger := ctxlog.FromContext(ctx).With("executor", Kind)
	logger.Info("Printing inputs", "inputs", task.Inputs)

	out := m.Out
	if out == nil {
		out = os.Stdout
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	fmt.Fprintf(out, "[%s] %s\n", task.RunID, task.Stage)
	names := task.Inputs.Names()
	if len(names) == 0 {
		fmt.Fprintln(out, "      (no inputs)")
		return executor.Succeeded("printed 0 inputs")
	}
	values := task.Inputs.Redacted()
	for _, name := range names {
		fmt.Fprintf(out, "      %s = %v\n", name, values[name])
	}
	return executor.Succeeded(fmt.Sprintf("printed %d inputs", len(names)))
}
