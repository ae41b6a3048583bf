package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/stagegrid/internal/config"
	"github.com/vk/stagegrid/internal/dag"
	"github.com/vk/stagegrid/internal/hcl"
)

const buildPipeline = `
pipeline "build" {
  stage "compile" {
    kind = "print"
  }
  stage "package" {
    kind       = "print"
    depends_on = ["compile"]
  }
}
`

const cyclicPipeline = `
pipeline "build" {
  stage "a" {
    kind       = "print"
    depends_on = ["b"]
  }
  stage "b" {
    kind       = "print"
    depends_on = ["a"]
  }
}
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestCatalog_Load(t *testing.T) {
	// --- Arrange ---
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "build.hcl"), buildPipeline)
	writeFile(t, filepath.Join(dir, "release.hcl"), "pipeline \"release\" {\n}\n")
	c := New(hcl.NewLoader(), dir)

	// --- Act ---
	err := c.Load(context.Background())

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())
	def, ok := c.Get("build")
	require.True(t, ok)
	assert.Len(t, def.Stages, 2)

	list := c.List()
	require.Len(t, list, 2)
	assert.Equal(t, "build", list[0].ID)
	assert.Equal(t, "release", list[1].ID)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestCatalog_LoadInvalidKeepsPrevious(t *testing.T) {
	// --- Arrange ---
	dir := t.TempDir()
	file := filepath.Join(dir, "build.hcl")
	writeFile(t, file, buildPipeline)
	c := New(hcl.NewLoader(), dir)
	require.NoError(t, c.Load(context.Background()))

	// --- Act ---
	writeFile(t, file, cyclicPipeline)
	err := c.Load(context.Background())

	// --- Assert ---
	require.Error(t, err)
	assert.ErrorIs(t, err, dag.ErrInvalidGraph)
	def, ok := c.Get("build")
	require.True(t, ok)
	assert.Equal(t, "compile", def.Stages[0].Name, "previous generation stays active")
}

func TestCatalog_Add(t *testing.T) {
	c := New(nil)
	ctx := context.Background()

	require.NoError(t, c.Add(ctx, &config.Definition{ID: "a"}))
	assert.Error(t, c.Load(ctx), "no loader")

	err := c.Add(ctx, &config.Definition{ID: "b"}, &config.Definition{ID: "b"})
	assert.ErrorIs(t, err, ErrDuplicateDefinition)

	err = c.Add(ctx, &config.Definition{ID: "bad", Stages: []*config.Stage{{Name: "x"}}})
	assert.ErrorIs(t, err, dag.ErrInvalidGraph)
	assert.Equal(t, 1, c.Len())
}

func TestCatalog_WatchReloads(t *testing.T) {
	// --- Arrange ---
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "build.hcl"), buildPipeline)
	c := New(hcl.NewLoader(), dir)
	require.NoError(t, c.Load(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reloaded := make(chan error, 8)
	watchErr := make(chan error, 1)
	go func() {
		watchErr <- c.Watch(ctx, 20*time.Millisecond, func(err error) {
			select {
			case reloaded <- err:
			default:
			}
		})
	}()

	// --- Act ---
	// Keep touching the file until the watcher has had a chance to start.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	var got error
loop:
	for {
		select {
		case got = <-reloaded:
			break loop
		case <-tick.C:
			writeFile(t, filepath.Join(dir, "deploy.hcl"), "pipeline \"deploy\" {\n}\n")
		case <-deadline:
			t.Fatal("watcher did not reload")
		}
	}

	// --- Assert ---
	require.NoError(t, got)
	_, ok := c.Get("deploy")
	assert.True(t, ok)

	cancel()
	select {
	case err := <-watchErr:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not return after cancel")
	}
}
