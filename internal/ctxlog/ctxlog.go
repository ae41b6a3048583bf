// Package ctxlog carries a *slog.Logger through context.Context so that run
// and stage scoped attributes follow the work down into executors.
package ctxlog

import (
	"context"
	"log/slog"
)

// Attribute keys shared by every log line that concerns a run or a stage.
const (
	RunKey        = "run"
	DefinitionKey = "definition"
	StageKey      = "stage"
	KindKey       = "kind"
)

type key struct{}

var loggerKey = key{}

// WithLogger returns a new context with the provided logger embedded.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext extracts the logger from ctx, falling back to slog.Default.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return slog.Default()
	}
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return slog.Default()
}

// With returns a context whose logger carries the given attributes.
func With(ctx context.Context, args ...any) context.Context {
	return WithLogger(ctx, FromContext(ctx).With(args...))
}

// ForRun scopes the context logger to one run of a definition.
func ForRun(ctx context.Context, runID, definitionID string) (context.Context, *slog.Logger) {
	logger := FromContext(ctx).With(RunKey, runID, DefinitionKey, definitionID)
	return WithLogger(ctx, logger), logger
}

// ForStage scopes the context logger to one stage execution.
func ForStage(ctx context.Context, stage, kind string) context.Context {
	return With(ctx, StageKey, stage, KindKey, kind)
}
