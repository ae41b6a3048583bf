package print

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/stagegrid/internal/config"
	"github.com/vk/stagegrid/internal/executor"
	"github.com/vk/stagegrid/internal/params"
	"github.com/vk/stagegrid/internal/registry"
	"github.com/zclconf/go-cty/cty"
)

func TestExecute_PrintsSortedRedactedInputs(t *testing.T) {
	// --- Arrange ---
	stage := &config.Stage{
		Name: "announce",
		Kind: Kind,
		Params: map[string]*config.Param{
			"token": {Name: "token", Type: config.TypeString, Sensitive: true},
		},
		With: map[string]cty.Value{"target": cty.StringVal("staging")},
	}
	in, err := params.Resolve(stage, map[string]any{"token": "s3cr3t"})
	require.NoError(t, err)

	buf := &bytes.Buffer{}
	r := registry.New()
	(&Module{Out: buf}).Register(r)
	ex, err := r.Lookup(Kind)
	require.NoError(t, err)

	// --- Act ---
	out := ex.Execute(context.Background(), &executor.Task{RunID: "run-1", Stage: "announce", Kind: Kind, Inputs: in})

	// --- Assert ---
	assert.True(t, out.Success)
	assert.Equal(t, "printed 2 inputs", out.Message)
	assert.Equal(t, "[run-1] announce\n      target = staging\n      token = [redacted]\n", buf.String())
	assert.NotContains(t, buf.String(), "s3cr3t")
}

func TestExecute_NoInputs(t *testing.T) {
	in, err := params.Resolve(&config.Stage{Name: "noop", Kind: Kind}, nil)
	require.NoError(t, err)
	buf := &bytes.Buffer{}

	out := (&Module{Out: buf}).execute(context.Background(), &executor.Task{RunID: "r", Stage: "noop", Inputs: in})

	assert.True(t, out.Success)
	assert.Contains(t, buf.String(), "(no inputs)")
}
