package config

import (
	"time"

	"github.com/zclconf/go-cty/cty"
)

// Definition is an immutable pipeline template: an ordered set of stages
// forming a dependency graph.
type Definition struct {
	ID          string
	Description string
	Stages      []*Stage
	Concurrency *Concurrency
	// MaxInFlight caps concurrently running stages for one run. Zero defers
	// to the scheduler default.
	MaxInFlight int
}

// Stage looks up a stage by name.
func (d *Definition) Stage(name string) (*Stage, bool) {
	for _, s := range d.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// Concurrency describes the slot a run of this definition occupies.
type Concurrency struct {
	Group            KeyTemplate
	CancelInProgress bool
}

// Stage is a named unit of work with declared dependencies and inputs.
type Stage struct {
	Name      string
	Kind      string
	DependsOn []string
	Params    map[string]*Param
	// With binds input values at definition level, underneath caller inputs.
	With      map[string]cty.Value
	Condition Condition
	// ContinueOnError lets dependents treat a failure of this stage as satisfied.
	ContinueOnError bool
	// RunOnSkipped lets the stage run when ancestors were skipped by a condition.
	RunOnSkipped bool
	Timeout      time.Duration
	// Secrets names the entries of the secret bag forwarded to the executor.
	Secrets []string
}

// ParamType is the declared type of a stage parameter.
type ParamType string

const (
	TypeString ParamType = "string"
	TypeNumber ParamType = "number"
	TypeBool   ParamType = "bool"
	TypeEnum   ParamType = "enum"
)

// CtyType returns the cty type backing the parameter type. Enums are strings.
func (t ParamType) CtyType() cty.Type {
	switch t {
	case TypeNumber:
		return cty.Number
	case TypeBool:
		return cty.Bool
	case TypeString, TypeEnum:
		return cty.String
	default:
		return cty.NilType
	}
}

// Valid reports whether t is one of the known parameter types.
func (t ParamType) Valid() bool {
	return t.CtyType() != cty.NilType
}

// Param declares a single typed input of a stage.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Default     *cty.Value
	Required    bool
	// Allowed is the value set for enum parameters.
	Allowed []string
	// Sensitive values are redacted from persisted run records.
	Sensitive bool
}

// Allows reports whether v is in the enum's allowed set.
func (p *Param) Allows(v string) bool {
	for _, a := range p.Allowed {
		if a == v {
			return true
		}
	}
	return false
}

// Trigger is the context a run was started from.
type Trigger struct {
	Branch string            `json:"branch" yaml:"branch"`
	Event  string            `json:"event" yaml:"event"`
	Actor  string            `json:"actor" yaml:"actor"`
	Vars   map[string]string `json:"vars,omitempty" yaml:"vars,omitempty"`
}

// CtyVariables exposes the trigger as evaluation variables.
func (t Trigger) CtyVariables() map[string]cty.Value {
	vars := make(map[string]cty.Value, len(t.Vars))
	for k, v := range t.Vars {
		vars[k] = cty.StringVal(v)
	}
	varsVal := cty.EmptyObjectVal
	if len(vars) > 0 {
		varsVal = cty.ObjectVal(vars)
	}
	return map[string]cty.Value{
		"branch": cty.StringVal(t.Branch),
		"event":  cty.StringVal(t.Event),
		"actor":  cty.StringVal(t.Actor),
		"vars":   varsVal,
	}
}
