package params

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/stagegrid/internal/config"
	"github.com/zclconf/go-cty/cty"
)

func val(v cty.Value) *cty.Value { return &v }

func buildStage() *config.Stage {
	return &config.Stage{
		Name: "build",
		Kind: "shell",
		Params: map[string]*config.Param{
			"language": {Name: "language", Type: config.TypeEnum, Allowed: []string{"node", "python", "go", "multi"}, Required: true},
			"parallel": {Name: "parallel", Type: config.TypeNumber, Default: val(cty.NumberIntVal(2))},
			"coverage": {Name: "coverage", Type: config.TypeBool, Default: val(cty.False)},
			"token":    {Name: "token", Type: config.TypeString, Sensitive: true},
			"target":   {Name: "target", Type: config.TypeString},
		},
		With: map[string]cty.Value{
			"parallel": cty.NumberIntVal(4),
			"command":  cty.StringVal("make build"),
		},
	}
}

func TestResolve(t *testing.T) {
	t.Run("precedence caller over with over default", func(t *testing.T) {
		// --- Arrange ---
		s := buildStage()

		// --- Act ---
		in, err := Resolve(s, map[string]any{"language": "go"})

		// --- Assert ---
		require.NoError(t, err)
		lang, ok := in.String("language")
		require.True(t, ok)
		assert.Equal(t, "go", lang)

		parallel, ok := in.Number("parallel")
		require.True(t, ok)
		assert.Equal(t, 4.0, parallel, "with binding beats the default")

		in, err = Resolve(s, map[string]any{"language": "go", "parallel": 8})
		require.NoError(t, err)
		parallel, _ = in.Number("parallel")
		assert.Equal(t, 8.0, parallel, "caller beats the with binding")
	})

	t.Run("boolean default false resolves to false", func(t *testing.T) {
		in, err := Resolve(buildStage(), map[string]any{"language": "node"})
		require.NoError(t, err)
		coverage, ok := in.Bool("coverage")
		require.True(t, ok)
		assert.False(t, coverage)
	})

	t.Run("optional parameter without value is absent", func(t *testing.T) {
		in, err := Resolve(buildStage(), map[string]any{"language": "node"})
		require.NoError(t, err)
		assert.False(t, in.Has("target"))
		assert.Equal(t, []string{"command", "coverage", "language", "parallel"}, in.Names())
	})

	t.Run("undeclared with binding passes through", func(t *testing.T) {
		in, err := Resolve(buildStage(), map[string]any{"language": "node"})
		require.NoError(t, err)
		cmd, ok := in.String("command")
		require.True(t, ok)
		assert.Equal(t, "make build", cmd)
	})

	t.Run("cty values are accepted directly", func(t *testing.T) {
		in, err := Resolve(buildStage(), map[string]any{"language": cty.StringVal("multi")})
		require.NoError(t, err)
		lang, _ := in.String("language")
		assert.Equal(t, "multi", lang)
	})
}

func TestResolve_Errors(t *testing.T) {
	testCases := []struct {
		name        string
		inputs      map[string]any
		param       string
		errContains string
	}{
		{
			name:        "missing required parameter",
			inputs:      nil,
			param:       "language",
			errContains: `stage "build": parameter "language": required parameter is missing`,
		},
		{
			name:        "enum value outside allowed set",
			inputs:      map[string]any{"language": "rust"},
			param:       "language",
			errContains: `"rust" is not one of [node python go multi]`,
		},
		{
			name:        "wrong type",
			inputs:      map[string]any{"language": "go", "coverage": "yes"},
			param:       "coverage",
			errContains: "expected bool, got string",
		},
		{
			name:        "unsupported go type",
			inputs:      map[string]any{"language": "go", "target": make(chan int)},
			param:       "target",
			errContains: "unsupported value",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Resolve(buildStage(), tc.inputs)
			require.Error(t, err)
			assert.ErrorContains(t, err, tc.errContains)
			assert.True(t, errors.Is(err, ErrValidation))

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.param, verr.Param)
		})
	}
}

func TestResolveAll(t *testing.T) {
	def := &config.Definition{ID: "ci", Stages: []*config.Stage{
		buildStage(),
		{Name: "lint", Kind: "shell"},
	}}

	t.Run("resolves every stage", func(t *testing.T) {
		all, err := ResolveAll(def, map[string]any{"language": "go"})
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Empty(t, all["lint"].Names())
	})

	t.Run("unknown caller input is rejected", func(t *testing.T) {
		_, err := ResolveAll(def, map[string]any{"language": "go", "langauge": "go"})
		require.ErrorIs(t, err, ErrValidation)
		assert.ErrorContains(t, err, `parameter "langauge": no stage declares this parameter`)
	})
}

func TestInputs_Redacted(t *testing.T) {
	in, err := Resolve(buildStage(), map[string]any{"language": "go", "token": "s3cr3t"})
	require.NoError(t, err)

	assert.Equal(t, "s3cr3t", in.Map()["token"])
	red := in.Redacted()
	assert.Equal(t, Redacted, red["token"])
	assert.Equal(t, "go", red["language"])
	assert.Equal(t, int64(4), red["parallel"])
	assert.NotContains(t, in.LogValue().String(), "s3cr3t")
}

func TestParseInput(t *testing.T) {
	n, err := ParseInput(&config.Param{Name: "n", Type: config.TypeNumber}, "3.5")
	require.NoError(t, err)
	assert.Equal(t, 3.5, n)

	b, err := ParseInput(&config.Param{Name: "b", Type: config.TypeBool}, "false")
	require.NoError(t, err)
	assert.Equal(t, false, b)

	s, err := ParseInput(&config.Param{Name: "s", Type: config.TypeString}, "42")
	require.NoError(t, err)
	assert.Equal(t, "42", s)

	_, err = ParseInput(&config.Param{Name: "b", Type: config.TypeBool}, "maybe")
	assert.ErrorIs(t, err, ErrValidation)
}
