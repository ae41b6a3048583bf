// Package state defines the lifecycle vocabulary shared by the graph model,
// the scheduler and the run state tracker: stage statuses, run statuses,
// skip reasons and the table of legal stage transitions.
//
// # Stage Lifecycle
//
//	pending ──► ready ──► running ──► succeeded
//	   │          │          │
//	   │          │          └──────► failed
//	   │          └─────────────────► failed     (unregistered executor)
//	   ├────────────────────────────► skipped    (condition false, cascade)
//	   ├────────────────────────────► failed     (condition error)
//	   └─ any non-terminal state ───► cancelled
//
// # Run Lifecycle
//
//	accepted ──► queued ──► scheduling ──► running ──► completed | failed | cancelled
//
// A run skips `queued` when its concurrency group slot is free on submission.
package state
