package ctxlog

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContext_ReturnsEmbeddedLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(buf, nil))

	ctx := WithLogger(context.Background(), logger)

	require.Same(t, logger, FromContext(ctx))
}

func TestFromContext_FallsBackToDefault(t *testing.T) {
	assert.Same(t, slog.Default(), FromContext(context.Background()))
}

func TestWith_AddsAttributes(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := WithLogger(context.Background(), slog.New(slog.NewTextHandler(buf, nil)))

	ctx = With(ctx, "run_id", "r-1")
	FromContext(ctx).Info("hello")

	assert.Contains(t, buf.String(), "run_id=r-1")
}

func TestForRunAndStage_ScopeAttributes(t *testing.T) {
	// --- Arrange ---
	buf := &bytes.Buffer{}
	ctx := WithLogger(context.Background(), slog.New(slog.NewTextHandler(buf, nil)))

	// --- Act ---
	ctx, runLogger := ForRun(ctx, "r-1", "release")
	runLogger.Info("run line")
	FromContext(ForStage(ctx, "build", "shell")).Info("stage line")

	// --- Assert ---
	out := buf.String()
	assert.Contains(t, out, `msg="run line" run=r-1 definition=release`)
	assert.Contains(t, out, `msg="stage line" run=r-1 definition=release stage=build kind=shell`)
}
