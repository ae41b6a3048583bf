// Package orchestrator is the public face of stagegrid: submit a run of a
// named definition, ask for its status, cancel it, read its record.
//
// It ties the definition catalog to the scheduler and answers status
// questions from the tracker while a run is live and from the run store once
// the run has been forgotten:
//
//	SubmitRun ──► catalog.Get ──► scheduler.Submit
//	GetRunStatus ──► tracker.Snapshot ──(unknown)──► runstore.Get
//	CancelRun ──► scheduler.Cancel ──(unknown)──► runstore.Get
//
// Every lookup of an unknown definition or run returns ErrNotFound.
package orchestrator
