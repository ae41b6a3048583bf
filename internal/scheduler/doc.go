// Package scheduler is the execution engine of a run.
//
// # How It Works
//
// A run is submitted with a definition, caller inputs and a trigger. Submit
// builds and validates the stage graph, resolves every stage's inputs,
// claims the run's concurrency group slot, and then starts the run. From
// then on the run advances in ticks:
//
//	┌──────────────┐   decisions    ┌─────────┐   ready stages   ┌───────────┐
//	│ dag.Graph    │ ─────────────► │  tick   │ ───────────────► │ executors │
//	│ ReadyStages  │                │ (1/run) │                  │ (async)   │
//	└──────────────┘                └─────────┘                  └─────┬─────┘
//	        ▲                            ▲                             │
//	        └──── tracker transitions ───┴───── onStageComplete ◄──────┘
//
// Every tick applies the graph's decisions through the tracker (pending to
// ready, skipped or failed) and then dispatches ready stages while the run's
// in-flight cap allows. Each executor returns on its own goroutine and feeds
// its outcome back through onStageComplete, which triggers the next tick.
//
// # Serialization
//
// All mutation of one run (ticks, completions, cancellation) happens under
// that run's mutex, so a tick never observes a torn state. Different runs
// proceed in parallel. The concurrency group registry has its own lock.
//
// # Concurrency Groups
//
// A run whose group key is occupied either queues until the slot is handed
// over, or, with cancel-in-progress, cancels the occupant and waits for its
// in-flight executors to return. If they do not return within the
// cancellation timeout the new run takes the slot anyway.
package scheduler
