package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/stagegrid/internal/orchestrator"
	"github.com/vk/stagegrid/internal/state"
)

// AssertStageStatus checks that a stage of a run ended in the wanted status.
func AssertStageStatus(t *testing.T, status *orchestrator.Status, stage string, want state.StageStatus) {
	t.Helper()
	require.NotNil(t, status)
	got, ok := status.Stages[stage]
	require.True(t, ok, "stage %q is not part of run %s", stage, status.RunID)
	require.Equal(t, want, got.Status, "stage %q: %s", stage, got.Reason)
}
