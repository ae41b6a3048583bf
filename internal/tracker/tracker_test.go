package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/stagegrid/internal/config"
	"github.com/vk/stagegrid/internal/runstore"
	"github.com/vk/stagegrid/internal/runstore/inmemory"
	"github.com/vk/stagegrid/internal/state"
)

func newTracked(t *testing.T, store runstore.Store) *Tracker {
	t.Helper()
	tr := New(store)
	require.NoError(t, tr.Register(context.Background(), RunInfo{
		RunID:        "run-1",
		DefinitionID: "ci",
		Trigger:      config.Trigger{Branch: "develop"},
		Stages:       []string{"lint", "test"},
		Inputs:       map[string]map[string]any{"lint": {"token": "[redacted]"}},
	}))
	return tr
}

func TestRecordTransition(t *testing.T) {
	ctx := context.Background()

	t.Run("applies legal transitions in order", func(t *testing.T) {
		tr := newTracked(t, nil)
		require.NoError(t, tr.RecordTransition(ctx, "run-1", "lint", state.Pending, state.Ready, "", ""))
		require.NoError(t, tr.RecordTransition(ctx, "run-1", "lint", state.Ready, state.Running, "", ""))
		require.NoError(t, tr.RecordTransition(ctx, "run-1", "lint", state.Running, state.Failed, "", "exit status 1"))
		require.NoError(t, tr.RecordTransition(ctx, "run-1", "test", state.Pending, state.Skipped, state.SkipUpstreamFailed, ""))

		snap, err := tr.Snapshot("run-1")
		require.NoError(t, err)
		assert.Equal(t, StageSnapshot{Status: state.Failed, Reason: "exit status 1"}, snap.Stages["lint"])
		assert.Equal(t, StageSnapshot{Status: state.Skipped, SkipReason: state.SkipUpstreamFailed}, snap.Stages["test"])

		history, err := tr.History("run-1")
		require.NoError(t, err)
		require.Len(t, history, 4)
		assert.Equal(t, "stage lint: pending->ready", history[0].String())
		for i, h := range history {
			assert.Equal(t, i+1, h.Seq)
		}
	})

	t.Run("rejects a stale from state", func(t *testing.T) {
		tr := newTracked(t, nil)
		require.NoError(t, tr.RecordTransition(ctx, "run-1", "lint", state.Pending, state.Ready, "", ""))

		err := tr.RecordTransition(ctx, "run-1", "lint", state.Pending, state.Ready, "", "")
		require.ErrorIs(t, err, ErrInvalidTransition)
		var terr *InvalidTransitionError
		require.True(t, errors.As(err, &terr))
		assert.Equal(t, state.Ready, terr.Recorded)
		assert.Contains(t, err.Error(), "recorded state is ready")
	})

	t.Run("rejects an illegal edge", func(t *testing.T) {
		tr := newTracked(t, nil)
		err := tr.RecordTransition(ctx, "run-1", "lint", state.Pending, state.Running, "", "")
		require.ErrorIs(t, err, ErrInvalidTransition)
		assert.Contains(t, err.Error(), "pending->running is not allowed")
	})

	t.Run("unknown run and stage", func(t *testing.T) {
		tr := newTracked(t, nil)
		assert.ErrorIs(t, tr.RecordTransition(ctx, "nope", "lint", state.Pending, state.Ready, "", ""), ErrUnknownRun)
		assert.ErrorContains(t, tr.RecordTransition(ctx, "run-1", "nope", state.Pending, state.Ready, "", ""), `unknown stage "nope"`)
	})

	t.Run("concurrent double dispatch admits exactly one", func(t *testing.T) {
		tr := newTracked(t, nil)
		require.NoError(t, tr.RecordTransition(ctx, "run-1", "lint", state.Pending, state.Ready, "", ""))

		var (
			wg  sync.WaitGroup
			mu  sync.Mutex
			oks int
		)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if tr.RecordTransition(ctx, "run-1", "lint", state.Ready, state.Running, "", "") == nil {
					mu.Lock()
					oks++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, oks)
	})
}

func TestSnapshot_IsACopy(t *testing.T) {
	tr := newTracked(t, nil)
	snap, err := tr.Snapshot("run-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"lint", "test"}, snap.Order)

	snap.Stages["lint"] = StageSnapshot{Status: state.Succeeded}
	again, err := tr.Snapshot("run-1")
	require.NoError(t, err)
	assert.Equal(t, state.Pending, again.Stages["lint"].Status)
}

func TestSetRunStatus(t *testing.T) {
	ctx := context.Background()
	tr := newTracked(t, nil)

	require.NoError(t, tr.SetRunStatus(ctx, "run-1", state.RunRunning))
	require.NoError(t, tr.SetRunStatus(ctx, "run-1", state.RunCancelled))
	require.NoError(t, tr.SetRunStatus(ctx, "run-1", state.RunCancelled), "repeating a terminal status is a no-op")
	assert.ErrorContains(t, tr.SetRunStatus(ctx, "run-1", state.RunCompleted), "already cancelled")

	snap, err := tr.Snapshot("run-1")
	require.NoError(t, err)
	assert.False(t, snap.FinishedAt.IsZero())
}

func TestFinalize(t *testing.T) {
	ctx := context.Background()
	store := inmemory.New()
	tr := newTracked(t, store)
	require.NoError(t, tr.RecordTransition(ctx, "run-1", "lint", state.Pending, state.Ready, "", ""))

	_, err := tr.Finalize(ctx, "run-1", state.RunRunning)
	require.ErrorContains(t, err, "non-terminal")

	rec, err := tr.Finalize(ctx, "run-1", state.RunCompleted)
	require.NoError(t, err)
	assert.Equal(t, state.RunCompleted, rec.Status)

	stored, err := store.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, state.RunCompleted, stored.Status)
	assert.Len(t, stored.History, 1)
	assert.Equal(t, "[redacted]", stored.Inputs["lint"]["token"])
	assert.Equal(t, state.Ready, stored.Stages["lint"])

	again, err := tr.Finalize(ctx, "run-1", state.RunCompleted)
	require.NoError(t, err)
	assert.Equal(t, rec.RunID, again.RunID)

	tr.Forget("run-1")
	_, err = tr.Snapshot("run-1")
	assert.ErrorIs(t, err, ErrUnknownRun)
}

type failingStore struct{ runstore.Store }

func (failingStore) Save(context.Context, *runstore.Record) error { return fmt.Errorf("disk full") }

func TestFinalize_StoreError(t *testing.T) {
	tr := newTracked(t, failingStore{})
	_, err := tr.Finalize(context.Background(), "run-1", state.RunFailed)
	assert.ErrorContains(t, err, "persisting run run-1: disk full")
}
