package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/stagegrid/internal/config"
	"github.com/vk/stagegrid/internal/runstore"
	"github.com/vk/stagegrid/internal/state"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_RoundTrip(t *testing.T) {
	// --- Arrange ---
	ctx := context.Background()
	s := openTemp(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := &runstore.Record{
		RunID:        "run-1",
		DefinitionID: "ci",
		Trigger:      config.Trigger{Branch: "develop", Event: "push"},
		Status:       state.RunFailed,
		Stages:       map[string]state.StageStatus{"lint": state.Failed, "test": state.Skipped},
		Inputs:       map[string]map[string]any{"lint": {"token": "[redacted]"}},
		History: []state.Transition{
			{Seq: 1, Stage: "lint", From: state.Pending, To: state.Ready, At: at},
			{Seq: 2, Stage: "lint", From: state.Ready, To: state.Running, At: at},
			{Seq: 3, Stage: "lint", From: state.Running, To: state.Failed, Reason: "exit status 1", At: at},
			{Seq: 4, Stage: "test", From: state.Pending, To: state.Skipped, SkipReason: state.SkipUpstreamFailed, At: at},
		},
		CreatedAt:  at,
		FinishedAt: at.Add(time.Second),
	}

	// --- Act ---
	require.NoError(t, s.Save(ctx, rec))
	got, err := s.Get(ctx, "run-1")

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, rec.Status, got.Status)
	assert.Equal(t, rec.Trigger, got.Trigger)
	assert.Equal(t, rec.Stages, got.Stages)
	assert.Equal(t, "[redacted]", got.Inputs["lint"]["token"])
	assert.Equal(t, rec.History, got.History)
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
}

func TestStore_HistoryIsAppendOnly(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rec := &runstore.Record{RunID: "r", DefinitionID: "ci", Status: state.RunRunning, CreatedAt: at,
		History: []state.Transition{{Seq: 1, Stage: "a", From: state.Pending, To: state.Ready, At: at}}}
	require.NoError(t, s.Save(ctx, rec))

	rewritten := rec.Clone()
	rewritten.Status = state.RunCompleted
	rewritten.History = []state.Transition{
		{Seq: 1, Stage: "a", From: state.Pending, To: state.Skipped, At: at},
		{Seq: 2, Stage: "a", From: state.Ready, To: state.Running, At: at},
	}
	require.NoError(t, s.Save(ctx, rewritten))

	got, err := s.Get(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, state.RunCompleted, got.Status)
	require.Len(t, got.History, 2)
	assert.Equal(t, state.Ready, got.History[0].To, "seq 1 keeps its original content")
}

func TestStore_ListAndNotFound(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		def := "ci"
		if id == "c" {
			def = "release"
		}
		require.NoError(t, s.Save(ctx, &runstore.Record{
			RunID: id, DefinitionID: def, Status: state.RunCompleted,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].RunID)

	ci, err := s.List(ctx, "ci")
	require.NoError(t, err)
	require.Len(t, ci, 2)
	assert.Equal(t, "b", ci[0].RunID)

	_, err = s.Get(ctx, "zzz")
	assert.ErrorIs(t, err, runstore.ErrNotFound)
}

func TestStore_ImplementsInterface(t *testing.T) {
	var _ runstore.Store = openTemp(t)
}
