package dag

import (
	"context"
	"fmt"

	"github.com/vk/stagegrid/internal/config"
	"github.com/vk/stagegrid/internal/ctxlog"
)

// Graph is a validated, immutable stage graph.
type Graph struct {
	def        *config.Definition
	stages     map[string]*config.Stage
	order      []string
	deps       map[string][]string
	dependents map[string][]string
}

// Build constructs a complete, validated dependency graph from a definition.
func Build(ctx context.Context, def *config.Definition) (*Graph, error) {
	logger := ctxlog.FromContext(ctx)
	if def == nil {
		return nil, &GraphError{Kind: KindInvalidStage, Detail: "definition is nil"}
	}
	logger.Debug("Build: Starting graph construction.", "definition", def.ID, "stage_count", len(def.Stages))

	g := &Graph{
		def:        def,
		stages:     make(map[string]*config.Stage, len(def.Stages)),
		deps:       make(map[string][]string, len(def.Stages)),
		dependents: make(map[string][]string, len(def.Stages)),
	}

	// First pass: register every stage.
	for _, s := range def.Stages {
		if err := g.addStage(s); err != nil {
			return nil, err
		}
	}

	// Second pass: link dependencies.
	for _, s := range def.Stages {
		if err := g.link(s); err != nil {
			return nil, err
		}
	}
	logger.Debug("Build: Stage linking complete.")

	for _, s := range def.Stages {
		if err := validateParams(s); err != nil {
			return nil, err
		}
	}

	order, err := g.topologicalOrder()
	if err != nil {
		return nil, err
	}
	g.order = order
	logger.Debug("Build: Graph construction successful.", "order", order)
	return g, nil
}

func (g *Graph) addStage(s *config.Stage) error {
	if s == nil {
		return &GraphError{Kind: KindInvalidStage, Detail: "stage is nil"}
	}
	if s.Name == "" {
		return &GraphError{Kind: KindInvalidStage, Detail: "stage name must not be empty"}
	}
	if _, ok := g.stages[s.Name]; ok {
		return &GraphError{Kind: KindDuplicateStage, Stage: s.Name}
	}
	if s.Kind == "" {
		return &GraphError{Kind: KindInvalidStage, Stage: s.Name, Detail: "executor kind must not be empty"}
	}
	g.stages[s.Name] = s
	return nil
}

func (g *Graph) link(s *config.Stage) error {
	seen := make(map[string]struct{}, len(s.DependsOn))
	for _, dep := range s.DependsOn {
		if dep == s.Name {
			return &GraphError{Kind: KindCycle, Stage: s.Name, Cycle: []string{s.Name, s.Name}}
		}
		if _, ok := g.stages[dep]; !ok {
			return &GraphError{Kind: KindUnknownDependency, Stage: s.Name, Dependency: dep}
		}
		if _, dup := seen[dep]; dup {
			continue
		}
		seen[dep] = struct{}{}
		g.deps[s.Name] = append(g.deps[s.Name], dep)
		g.dependents[dep] = append(g.dependents[dep], s.Name)
	}
	return nil
}

func validateParams(s *config.Stage) error {
	for name, p := range s.Params {
		if p == nil {
			return &GraphError{Kind: KindInvalidParam, Stage: s.Name, Detail: fmt.Sprintf("parameter %q is nil", name)}
		}
		if !p.Type.Valid() {
			return &GraphError{Kind: KindInvalidParam, Stage: s.Name, Detail: fmt.Sprintf("parameter %q has unknown type %q", name, p.Type)}
		}
		if p.Type == config.TypeEnum && len(p.Allowed) == 0 {
			return &GraphError{Kind: KindInvalidParam, Stage: s.Name, Detail: fmt.Sprintf("enum parameter %q declares no allowed values", name)}
		}
		if p.Default == nil || p.Default.IsNull() {
			continue
		}
		if !p.Default.Type().Equals(p.Type.CtyType()) {
			return &GraphError{Kind: KindInvalidParam, Stage: s.Name, Detail: fmt.Sprintf("default for parameter %q is %s, want %s", name, p.Default.Type().FriendlyName(), p.Type)}
		}
		if p.Type == config.TypeEnum && !p.Allows(p.Default.AsString()) {
			return &GraphError{Kind: KindInvalidParam, Stage: s.Name, Detail: fmt.Sprintf("default %q for parameter %q is not an allowed value", p.Default.AsString(), name)}
		}
	}
	return nil
}

// topologicalOrder runs Kahn's algorithm level by level, keeping declaration
// order within a level. Stages left over sit on or behind a cycle.
func (g *Graph) topologicalOrder() ([]string, error) {
	remaining := make(map[string]int, len(g.stages))
	for name := range g.stages {
		remaining[name] = len(g.deps[name])
	}

	order := make([]string, 0, len(g.stages))
	for len(remaining) > 0 {
		var level []string
		for _, s := range g.def.Stages {
			if n, ok := remaining[s.Name]; ok && n == 0 {
				level = append(level, s.Name)
			}
		}
		if len(level) == 0 {
			return nil, &GraphError{Kind: KindCycle, Cycle: g.findCycle(remaining)}
		}
		for _, name := range level {
			delete(remaining, name)
			for _, dependent := range g.dependents[name] {
				remaining[dependent]--
			}
		}
		order = append(order, level...)
	}
	return order, nil
}

// findCycle walks the dependency edges of the unsorted stages with a
// depth-first search and returns the first cycle it closes.
func (g *Graph) findCycle(candidates map[string]int) []string {
	visited := make(map[string]bool)
	onStack := make(map[string]int)
	var path []string

	var visit func(name string) []string
	visit = func(name string) []string {
		if idx, ok := onStack[name]; ok {
			cycle := append([]string{}, path[idx:]...)
			return append(cycle, name)
		}
		if visited[name] {
			return nil
		}
		visited[name] = true
		onStack[name] = len(path)
		path = append(path, name)

		for _, dep := range g.deps[name] {
			if _, ok := candidates[dep]; !ok {
				continue
			}
			if cycle := visit(dep); cycle != nil {
				return cycle
			}
		}

		path = path[:len(path)-1]
		delete(onStack, name)
		return nil
	}

	for _, s := range g.def.Stages {
		if _, ok := candidates[s.Name]; !ok {
			continue
		}
		if cycle := visit(s.Name); cycle != nil {
			return cycle
		}
	}
	return nil
}

// Definition returns the definition the graph was built from.
func (g *Graph) Definition() *config.Definition {
	return g.def
}

// Order returns the stage names in topological order.
func (g *Graph) Order() []string {
	return append([]string(nil), g.order...)
}

// Stage returns the stage with the given name.
func (g *Graph) Stage(name string) (*config.Stage, bool) {
	s, ok := g.stages[name]
	return s, ok
}

// Len returns the number of stages.
func (g *Graph) Len() int {
	return len(g.order)
}

// Dependencies returns the names of the stages the given stage depends on.
func (g *Graph) Dependencies(name string) ([]string, error) {
	if _, ok := g.stages[name]; !ok {
		return nil, fmt.Errorf("stage not found: %s", name)
	}
	return append([]string(nil), g.deps[name]...), nil
}

// Dependents returns the names of the stages that directly depend on the given stage.
func (g *Graph) Dependents(name string) ([]string, error) {
	if _, ok := g.stages[name]; !ok {
		return nil, fmt.Errorf("stage not found: %s", name)
	}
	return append([]string(nil), g.dependents[name]...), nil
}

// Descendants returns every stage transitively depending on the given stage,
// in topological order.
func (g *Graph) Descendants(name string) ([]string, error) {
	if _, ok := g.stages[name]; !ok {
		return nil, fmt.Errorf("stage not found: %s", name)
	}
	reached := map[string]bool{name: true}
	var out []string
	for _, s := range g.order {
		if s == name {
			continue
		}
		for _, dep := range g.deps[s] {
			if reached[dep] {
				reached[s] = true
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}
