package dag

import (
	"github.com/vk/stagegrid/internal/config"
	"github.com/vk/stagegrid/internal/state"
)

// StageState is the slice of run state readiness depends on.
type StageState struct {
	Status     state.StageStatus
	SkipReason state.SkipReason
}

// Decision is a transition the scheduler should apply to a pending stage.
type Decision struct {
	Stage      string
	To         state.StageStatus
	SkipReason state.SkipReason
	// Err is set when To is Failed because the condition could not be evaluated.
	Err error
}

// depVerdict summarises what the dependencies of one stage allow.
type depVerdict int

const (
	depWaiting depVerdict = iota
	depSatisfied
	depSkipped
	depFailed
)

// ReadyStages returns the transitions due for pending stages given the
// current per-stage states. Stages missing from states are treated as
// pending. Decisions are returned in topological order and already account
// for each other, so a failure cascades through the whole subgraph in one
// call.
func (g *Graph) ReadyStages(states map[string]StageState, trigger config.Trigger) []Decision {
	local := make(map[string]StageState, len(g.order))
	for _, name := range g.order {
		st, ok := states[name]
		if !ok || st.Status == "" {
			st = StageState{Status: state.Pending}
		}
		local[name] = st
	}

	var decisions []Decision
	for _, name := range g.order {
		if local[name].Status != state.Pending {
			continue
		}
		d, ok := g.decide(name, local, trigger)
		if !ok {
			continue
		}
		local[name] = StageState{Status: d.To, SkipReason: d.SkipReason}
		decisions = append(decisions, d)
	}
	return decisions
}

func (g *Graph) decide(name string, states map[string]StageState, trigger config.Trigger) (Decision, bool) {
	stage := g.stages[name]
	switch g.dependencyVerdict(stage, states) {
	case depWaiting:
		return Decision{}, false
	case depFailed:
		return Decision{Stage: name, To: state.Skipped, SkipReason: state.SkipUpstreamFailed}, true
	case depSkipped:
		return Decision{Stage: name, To: state.Skipped, SkipReason: state.SkipUpstreamSkipped}, true
	}

	if stage.Condition == nil {
		return Decision{Stage: name, To: state.Ready}, true
	}
	ok, err := stage.Condition.Evaluate(trigger)
	if err != nil {
		return Decision{Stage: name, To: state.Failed, Err: &ConditionError{Stage: name, Err: err}}, true
	}
	if !ok {
		return Decision{Stage: name, To: state.Skipped, SkipReason: state.SkipCondition}, true
	}
	return Decision{Stage: name, To: state.Ready}, true
}

// dependencyVerdict folds the dependency states of a stage. A failing
// dependency decides immediately, even while siblings are still running.
func (g *Graph) dependencyVerdict(stage *config.Stage, states map[string]StageState) depVerdict {
	waiting, skipped := false, false
	for _, dep := range g.deps[stage.Name] {
		st := states[dep]
		switch st.Status {
		case state.Succeeded:
		case state.Failed:
			if !g.stages[dep].ContinueOnError {
				return depFailed
			}
		case state.Cancelled:
			return depFailed
		case state.Skipped:
			if st.SkipReason == state.SkipUpstreamFailed {
				return depFailed
			}
			if !stage.RunOnSkipped {
				skipped = true
			}
		default:
			waiting = true
		}
	}
	switch {
	case waiting:
		return depWaiting
	case skipped:
		return depSkipped
	default:
		return depSatisfied
	}
}
