// Package dag is the stage graph model. It takes an immutable pipeline
// definition from the config package, validates it into a Directed Acyclic
// Graph of stages, and answers the one question the scheduler keeps asking:
// given the current stage states, which stages can move next?
//
// Validation covers duplicate names, dangling dependencies, cycles (reported
// with the full path, e.g. `a -> b -> c -> a`) and malformed parameter
// declarations. A Graph is read-only after Build and safe for concurrent use.
package dag
