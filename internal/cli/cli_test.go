package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/stagegrid/internal/executor"
	"github.com/vk/stagegrid/internal/registry"
	"github.com/vk/stagegrid/internal/testutil"
)

const pipelines = `
pipeline "ci" {
  stage "build" {
    kind = "ok"
  }
  stage "test" {
    kind       = "check"
    depends_on = ["build"]

    param "shards" {
      type    = number
      default = 1
    }
    param "strict" {
      type    = bool
      default = false
    }
  }
}
`

// stubModule registers "ok", which always succeeds, and "check", which fails
// when strict is true.
type stubModule struct {
	shards chan float64
}

func (m *stubModule) Register(r *registry.Registry) {
	r.Register("ok", executor.Func(func(context.Context, *executor.Task) executor.Outcome {
		return executor.Succeeded("ok")
	}))
	r.Register("check", executor.Func(func(_ context.Context, task *executor.Task) executor.Outcome {
		if n, ok := task.Inputs.Number("shards"); ok && m.shards != nil {
			m.shards <- n
		}
		if strict, _ := task.Inputs.Bool("strict"); strict {
			return executor.Failed("strict mode found issues")
		}
		return executor.Succeeded("ok")
	}))
}

func execute(t *testing.T, mod registry.Module, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	err := Execute(context.Background(), args, out, mod)
	return out.String(), err
}

func definitionsDir(t *testing.T, src string) string {
	t.Helper()
	return testutil.WriteFiles(t, map[string]string{"ci.hcl": src})
}

func requireExitCode(t *testing.T, err error, code int) {
	t.Helper()
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr), "expected *ExitError, got %v", err)
	assert.Equal(t, code, exitErr.Code, exitErr.Message)
}

func TestHelp(t *testing.T) {
	out, err := execute(t, &stubModule{}, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "Usage:")
	assert.Contains(t, out, "validate")
}

func TestUnknownFlag(t *testing.T) {
	_, err := execute(t, &stubModule{}, "--this-is-not-a-valid-flag")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown flag: --this-is-not-a-valid-flag")
}

func TestMissingDefinitionsPath(t *testing.T) {
	_, err := execute(t, &stubModule{}, "validate")
	requireExitCode(t, err, ExitUsage)
	assert.ErrorContains(t, err, "DefinitionsPath")
}

func TestValidate(t *testing.T) {
	dir := definitionsDir(t, pipelines)
	out, err := execute(t, &stubModule{}, "validate", "-d", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "ci (2 stages)")
	assert.Contains(t, out, "1 definitions valid")
}

func TestValidate_Failures(t *testing.T) {
	testCases := []struct {
		name        string
		src         string
		errContains string
	}{
		{
			name:        "unregistered kind",
			src:         "pipeline \"x\" {\n  stage \"a\" {\n    kind = \"docker\"\n  }\n}\n",
			errContains: `no executor registered for kind "docker"`,
		},
		{
			name: "cycle",
			src: `
pipeline "x" {
  stage "a" {
    kind       = "ok"
    depends_on = ["b"]
  }
  stage "b" {
    kind       = "ok"
    depends_on = ["a"]
  }
}
`,
			errContains: "cycle detected",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := execute(t, &stubModule{}, "validate", "-d", definitionsDir(t, tc.src))
			requireExitCode(t, err, ExitFailure)
			assert.ErrorContains(t, err, tc.errContains)
		})
	}
}

func TestRun_Succeeds(t *testing.T) {
	// --- Arrange ---
	mod := &stubModule{shards: make(chan float64, 1)}
	dir := definitionsDir(t, pipelines)

	// --- Act ---
	out, err := execute(t, mod, "run", "ci", "-d", dir, "--input", "shards=4", "--branch", "main", "--log-level", "error")

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, float64(4), <-mod.shards)
	assert.Contains(t, out, "completed")
	assert.Regexp(t, `build\s+succeeded`, out)
	assert.Regexp(t, `test\s+succeeded`, out)
}

func TestRun_FailedRunExitsOne(t *testing.T) {
	dir := definitionsDir(t, pipelines)
	out, err := execute(t, &stubModule{}, "run", "ci", "-d", dir, "-i", "strict=true", "--log-level", "error")
	requireExitCode(t, err, ExitFailure)
	assert.Regexp(t, `test\s+failed\s+strict mode found issues`, out)
}

func TestRun_UsageErrors(t *testing.T) {
	dir := definitionsDir(t, pipelines)
	testCases := []struct {
		name string
		args []string
	}{
		{name: "unknown definition", args: []string{"run", "nope", "-d", dir}},
		{name: "malformed pair", args: []string{"run", "ci", "-d", dir, "--input", "shards"}},
		{name: "input of wrong type", args: []string{"run", "ci", "-d", dir, "--input", "shards=many"}},
		{name: "malformed var", args: []string{"run", "ci", "-d", dir, "--var", "=x"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := execute(t, &stubModule{}, tc.args...)
			requireExitCode(t, err, ExitUsage)
		})
	}
}

func TestConfigFileMerge(t *testing.T) {
	// --- Arrange ---
	dir := definitionsDir(t, pipelines)
	cfgPath := filepath.Join(t.TempDir(), "stagegrid.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("definitions_path: "+dir+"\nlog_level: error\n"), 0o644))

	// --- Act ---
	out, err := execute(t, &stubModule{}, "validate", "--config", cfgPath)

	// --- Assert ---
	require.NoError(t, err)
	assert.Contains(t, out, "1 definitions valid")

	_, err = execute(t, &stubModule{}, "validate", "--config", cfgPath, "--log-format", "xml")
	requireExitCode(t, err, ExitUsage)
}
