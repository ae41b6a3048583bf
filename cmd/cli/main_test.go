package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/stagegrid/internal/executor"
	"github.com/vk/stagegrid/internal/registry"
)

// echoModule registers the "echo" kind.
type echoModule struct{}

func (echoModule) Register(r *registry.Registry) {
	r.Register("echo", executor.Func(func(context.Context, *executor.Task) executor.Outcome {
		return executor.Succeeded("echo")
	}))
}

func TestRun_PanicRecovery(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	// Registering the same kind twice is a programmer error and panics while
	// the application is assembled.
	tempDir := t.TempDir()
	filePath := filepath.Join(tempDir, "main.hcl")
	err := os.WriteFile(filePath, []byte("pipeline \"p\" {\n}\n"), 0600)
	require.NoError(t, err, "failed to set up test file")

	args := []string{"run", "p", "-d", filePath}
	out := &bytes.Buffer{}

	// --- Act ---
	runErr := run(out, args, echoModule{}, echoModule{})

	// --- Assert ---
	require.Error(t, runErr, "run() should have returned an error after recovering from a panic")
	require.Contains(t, runErr.Error(), "application startup panicked")
	require.Contains(t, runErr.Error(), "already registered")
}

func TestRun_Help(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	err := run(out, []string{"-h"}, echoModule{})

	require.NoError(t, err, "run() should return a nil error when help is requested")
	require.Contains(t, out.String(), "Usage:", "Expected help text to be printed to the output buffer")
}

func TestRun_ParseError(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	err := run(out, []string{"--this-is-not-a-valid-flag"}, echoModule{})

	require.Error(t, err, "run() should return an error when argument parsing fails")
	require.Contains(t, err.Error(), "unknown flag: --this-is-not-a-valid-flag")
}

func TestRun_ValidateRejectsInvalidHCL(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	filePath := filepath.Join(tempDir, "main.hcl")
	require.NoError(t, os.WriteFile(filePath, []byte(`pipeline "p" {`), 0600))

	out := &bytes.Buffer{}
	err := run(out, []string{"validate", "-d", filePath}, echoModule{})

	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to parse")
}
