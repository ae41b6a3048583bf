package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/vk/stagegrid/internal/executor"
)

// ErrUnregisteredExecutor is matched by every UnregisteredExecutorError.
var ErrUnregisteredExecutor = errors.New("unregistered executor")

// UnregisteredExecutorError reports a stage kind nothing was registered for.
type UnregisteredExecutorError struct {
	Kind string
}

func (e *UnregisteredExecutorError) Error() string {
	return fmt.Sprintf("no executor registered for kind %q", e.Kind)
}

// Unwrap makes the error match ErrUnregisteredExecutor.
func (e *UnregisteredExecutorError) Unwrap() error {
	return ErrUnregisteredExecutor
}

// Module is the interface that all executor modules must implement to be registered.
type Module interface {
	Register(r *Registry)
}

// Registry holds the executors of a single application instance.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]executor.Executor
}

// New creates and initializes a new Registry instance.
func New() *Registry {
	return &Registry{executors: make(map[string]executor.Executor)}
}

// Register binds an executor to a stage kind. Registering the same kind twice
// is a programming error and panics.
func (r *Registry) Register(kind string, ex executor.Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.executors[kind]; exists {
		panic(fmt.Sprintf("executor for kind '%s' already registered", kind))
	}
	slog.Debug("Registering executor.", "kind", kind)
	r.executors[kind] = ex
}

// Lookup returns the executor for a kind.
func (r *Registry) Lookup(kind string) (executor.Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ex, ok := r.executors[kind]
	if !ok {
		return nil, &UnregisteredExecutorError{Kind: kind}
	}
	return ex, nil
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.executors))
	for k := range r.executors {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// RegisterModules registers every module in order.
func (r *Registry) RegisterModules(modules ...Module) {
	for _, m := range modules {
		m.Register(r)
	}
}
