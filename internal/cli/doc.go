// Package cli is responsible for parsing command-line arguments, validating
// user input, and handling process-level concerns like exit codes. It
// translates flags and the optional YAML config file into app.Config and
// drives the application through three subcommands:
//
//	stagegrid serve     run the HTTP API until interrupted
//	stagegrid run ID    run one definition to completion and print its stages
//	stagegrid validate  load every definition and check its graph
//
// Exit codes: 0 success, 1 failed run or invalid definitions, 2 bad usage,
// 130 cancelled run.
package cli
