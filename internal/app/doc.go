// Package app contains the core application logic. It defines the main App
// struct, its configuration, and the process lifecycle, decoupled from any
// specific entrypoint like a CLI.
//
// NewApp wires every component in dependency order:
//
//	logger ──► registry (modules) ──► catalog (loader) ──► run store
//	       ──► tracker ──► concurrency groups ──► metrics ──► scheduler
//	       ──► orchestrator ──► HTTP router
//
// Serve runs the HTTP surface until the context is cancelled; RunOnce
// submits a single run and waits for it. Both release every resource on
// return.
package app
