package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/vk/stagegrid/internal/config"
	"github.com/vk/stagegrid/internal/secret"
)

// ErrCancellationTimeout is logged when a superseded occupant does not drain
// within the cancellation timeout and the new run takes its slot regardless.
var ErrCancellationTimeout = errors.New("timed out waiting for superseded run to drain")

const (
	// DefaultCancelTimeout bounds how long Submit waits for a superseded run.
	DefaultCancelTimeout = 30 * time.Second
	// DefaultRetention is how long a finished run stays in memory.
	DefaultRetention = 10 * time.Minute
)

// DispatchPolicy orders stages that become ready in the same tick.
type DispatchPolicy string

const (
	// DispatchDeclaration dispatches in the order stages are declared.
	DispatchDeclaration DispatchPolicy = "declaration"
	// DispatchLexical dispatches in lexical order of stage names.
	DispatchLexical DispatchPolicy = "lexical"
)

// ParseDispatchPolicy validates a policy name. The empty string selects
// DispatchDeclaration.
func ParseDispatchPolicy(s string) (DispatchPolicy, error) {
	switch DispatchPolicy(s) {
	case "", DispatchDeclaration:
		return DispatchDeclaration, nil
	case DispatchLexical:
		return DispatchLexical, nil
	}
	return "", fmt.Errorf("unknown dispatch policy %q", s)
}

func (p DispatchPolicy) order(def *config.Definition) []string {
	names := make([]string, 0, len(def.Stages))
	for _, s := range def.Stages {
		names = append(names, s.Name)
	}
	if p == DispatchLexical {
		sort.Strings(names)
	}
	return names
}

// Options configures a Scheduler.
type Options struct {
	// MaxInFlight caps concurrently running stages per run when the
	// definition does not set its own cap. Zero means unbounded.
	MaxInFlight int
	// CancelTimeout bounds the wait for a superseded run to drain.
	CancelTimeout time.Duration
	// DispatchPolicy orders simultaneously ready stages.
	DispatchPolicy DispatchPolicy
	// Secrets is the org-level secret bag stages draw from.
	Secrets secret.Bag
	// Retention is how long a finished run stays queryable in memory before
	// only its persisted record remains.
	Retention time.Duration
}

func (o Options) withDefaults() Options {
	if o.CancelTimeout <= 0 {
		o.CancelTimeout = DefaultCancelTimeout
	}
	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}
	if o.DispatchPolicy == "" {
		o.DispatchPolicy = DispatchDeclaration
	}
	return o
}
