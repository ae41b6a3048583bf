package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/stagegrid/internal/runstore"
	"github.com/vk/stagegrid/internal/state"
)

func record(id, def string, created time.Time) *runstore.Record {
	return &runstore.Record{
		RunID:        id,
		DefinitionID: def,
		Status:       state.RunCompleted,
		Stages:       map[string]state.StageStatus{"lint": state.Succeeded},
		Inputs:       map[string]map[string]any{"lint": {"strict": true}},
		History: []state.Transition{
			{Seq: 1, Stage: "lint", From: state.Pending, To: state.Ready},
		},
		CreatedAt: created,
	}
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, runstore.ErrNotFound)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Save(ctx, record("r1", "ci", base)))
	require.NoError(t, s.Save(ctx, record("r2", "ci", base.Add(time.Minute))))
	require.NoError(t, s.Save(ctx, record("r3", "release", base.Add(2*time.Minute))))

	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, state.RunCompleted, got.Status)

	t.Run("returned records are copies", func(t *testing.T) {
		got.Stages["lint"] = state.Failed
		got.Inputs["lint"]["strict"] = false
		again, err := s.Get(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, state.Succeeded, again.Stages["lint"])
		assert.Equal(t, true, again.Inputs["lint"]["strict"])
	})

	t.Run("list filters and sorts newest first", func(t *testing.T) {
		all, err := s.List(ctx, "")
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "r3", all[0].RunID)

		ci, err := s.List(ctx, "ci")
		require.NoError(t, err)
		require.Len(t, ci, 2)
		assert.Equal(t, []string{"r2", "r1"}, []string{ci[0].RunID, ci[1].RunID})
	})

	t.Run("history is append only", func(t *testing.T) {
		rec := record("r1", "ci", base)
		rec.History = nil
		require.NoError(t, s.Save(ctx, rec))
		again, err := s.Get(ctx, "r1")
		require.NoError(t, err)
		assert.Len(t, again.History, 1)
	})
}
