package dag

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidGraph is the sentinel every GraphError matches with errors.Is.
var ErrInvalidGraph = errors.New("invalid pipeline graph")

// GraphErrorKind classifies a GraphError.
type GraphErrorKind string

const (
	KindInvalidStage      GraphErrorKind = "invalid-stage"
	KindDuplicateStage    GraphErrorKind = "duplicate-stage"
	KindUnknownDependency GraphErrorKind = "unknown-dependency"
	KindCycle             GraphErrorKind = "cycle"
	KindInvalidParam      GraphErrorKind = "invalid-param"
)

// GraphError describes a malformed pipeline definition. It is fatal and is
// reported at submission, before a run exists.
type GraphError struct {
	Kind       GraphErrorKind
	Stage      string
	Dependency string
	// Cycle lists the stages on a detected cycle, first stage repeated last.
	Cycle  []string
	Detail string
}

func (e *GraphError) Error() string {
	switch e.Kind {
	case KindCycle:
		return fmt.Sprintf("cycle detected: %s", strings.Join(e.Cycle, " -> "))
	case KindDuplicateStage:
		return fmt.Sprintf("duplicate stage name %q", e.Stage)
	case KindUnknownDependency:
		return fmt.Sprintf("stage %q depends on unknown stage %q", e.Stage, e.Dependency)
	default:
		if e.Stage == "" {
			return e.Detail
		}
		return fmt.Sprintf("stage %q: %s", e.Stage, e.Detail)
	}
}

// Unwrap makes every GraphError match ErrInvalidGraph.
func (e *GraphError) Unwrap() error {
	return ErrInvalidGraph
}

// ConditionError wraps a failure to evaluate a stage condition.
type ConditionError struct {
	Stage string
	Err   error
}

func (e *ConditionError) Error() string {
	return fmt.Sprintf("stage %q: evaluating condition: %v", e.Stage, e.Err)
}

func (e *ConditionError) Unwrap() error {
	return e.Err
}
