package config

import "context"

// Loader is the interface for a format-specific definition loader.
type Loader interface {
	// Load reads pipeline definitions from the given paths and translates
	// them into the format-agnostic model.
	Load(ctx context.Context, paths ...string) ([]*Definition, error)
}

// Condition decides whether a stage runs for a given trigger.
type Condition interface {
	Evaluate(trigger Trigger) (bool, error)
	String() string
}

// KeyTemplate renders a concurrency group instance key from a trigger, so a
// single definition can hold one slot per branch, environment and so on.
type KeyTemplate interface {
	Render(trigger Trigger) (string, error)
}

// StaticKey is a KeyTemplate that always renders to itself.
type StaticKey string

// Render implements KeyTemplate.
func (k StaticKey) Render(Trigger) (string, error) { return string(k), nil }
