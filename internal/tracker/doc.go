// Package tracker is the run state tracker.
//
// It owns the authoritative per-stage status of every live run together with
// an append-only log of transitions:
//
//	stage lint: pending->ready
//	stage lint: ready->running
//	stage lint: running->succeeded
//
// RecordTransition rejects any change whose `from` does not match the last
// recorded state, or whose edge is not in the lifecycle table. This is how
// double dispatches and out-of-order completions are caught. Snapshots are
// copies, safe to hand to concurrent readers. When a run finishes,
// Finalize writes its record to the run store.
package tracker
