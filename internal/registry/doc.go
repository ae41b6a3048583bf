// Package registry provides the central "glue" for the module system.
//
// The Registry maps the `kind` a stage declares in a pipeline definition
// (e.g. "shell", "http_request") to the compiled Go Executor that performs
// it. Modules add themselves at startup through the Module interface; a stage
// whose kind was never registered fails at dispatch with an
// UnregisteredExecutorError.
package registry
