package dag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/stagegrid/internal/config"
	"github.com/vk/stagegrid/internal/state"
	"github.com/zclconf/go-cty/cty"
)

// branchIs holds when the trigger branch equals the given name.
type branchIs string

func (b branchIs) Evaluate(trigger config.Trigger) (bool, error) {
	return trigger.Branch == string(b), nil
}

func (b branchIs) String() string { return "branch == " + string(b) }

type conditionFunc func(trigger config.Trigger) (bool, error)

func (f conditionFunc) Evaluate(trigger config.Trigger) (bool, error) { return f(trigger) }

func (f conditionFunc) String() string { return "<func>" }

func stage(name string, deps ...string) *config.Stage {
	return &config.Stage{Name: name, Kind: "noop", DependsOn: deps}
}

func def(stages ...*config.Stage) *config.Definition {
	return &config.Definition{ID: "test", Stages: stages}
}

func mustBuild(t *testing.T, d *config.Definition) *Graph {
	t.Helper()
	g, err := Build(context.Background(), d)
	require.NoError(t, err)
	return g
}

func TestBuild(t *testing.T) {
	t.Run("empty definition is valid", func(t *testing.T) {
		g := mustBuild(t, def())
		assert.Equal(t, 0, g.Len())
		assert.Empty(t, g.Order())
	})

	t.Run("order is topological and stable", func(t *testing.T) {
		g := mustBuild(t, def(
			stage("deploy", "build"),
			stage("lint"),
			stage("build", "test", "lint"),
			stage("test", "lint"),
			stage("docs"),
		))
		assert.Equal(t, []string{"lint", "docs", "test", "build", "deploy"}, g.Order())

		deps, err := g.Dependencies("build")
		require.NoError(t, err)
		assert.Equal(t, []string{"test", "lint"}, deps)

		dependents, err := g.Dependents("lint")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"build", "test"}, dependents)

		desc, err := g.Descendants("test")
		require.NoError(t, err)
		assert.Equal(t, []string{"build", "deploy"}, desc)
	})

	t.Run("unknown stage lookups fail", func(t *testing.T) {
		g := mustBuild(t, def(stage("a")))
		_, err := g.Dependencies("dne")
		assert.ErrorContains(t, err, "stage not found")
		_, ok := g.Stage("dne")
		assert.False(t, ok)
	})
}

func TestBuild_Errors(t *testing.T) {
	testCases := []struct {
		name        string
		def         *config.Definition
		kind        GraphErrorKind
		errContains string
	}{
		{
			name:        "duplicate stage names",
			def:         def(stage("a"), stage("a")),
			kind:        KindDuplicateStage,
			errContains: `duplicate stage name "a"`,
		},
		{
			name:        "unknown dependency",
			def:         def(stage("a", "ghost")),
			kind:        KindUnknownDependency,
			errContains: `stage "a" depends on unknown stage "ghost"`,
		},
		{
			name:        "self dependency",
			def:         def(stage("a", "a")),
			kind:        KindCycle,
			errContains: "cycle detected: a -> a",
		},
		{
			name:        "three stage cycle is named in full",
			def:         def(stage("a", "c"), stage("b", "a"), stage("c", "b")),
			kind:        KindCycle,
			errContains: "cycle detected: a -> c -> b -> a",
		},
		{
			name:        "empty name",
			def:         def(stage("")),
			kind:        KindInvalidStage,
			errContains: "stage name must not be empty",
		},
		{
			name:        "missing kind",
			def:         def(&config.Stage{Name: "a"}),
			kind:        KindInvalidStage,
			errContains: "executor kind must not be empty",
		},
		{
			name: "enum without allowed values",
			def: def(&config.Stage{Name: "a", Kind: "noop", Params: map[string]*config.Param{
				"lang": {Name: "lang", Type: config.TypeEnum},
			}}),
			kind:        KindInvalidParam,
			errContains: "declares no allowed values",
		},
		{
			name: "default of the wrong type",
			def: def(&config.Stage{Name: "a", Kind: "noop", Params: map[string]*config.Param{
				"n": {Name: "n", Type: config.TypeNumber, Default: ptr(cty.StringVal("x"))},
			}}),
			kind:        KindInvalidParam,
			errContains: `default for parameter "n" is string`,
		},
		{
			name: "enum default outside the allowed set",
			def: def(&config.Stage{Name: "a", Kind: "noop", Params: map[string]*config.Param{
				"lang": {Name: "lang", Type: config.TypeEnum, Allowed: []string{"go"}, Default: ptr(cty.StringVal("rust"))},
			}}),
			kind:        KindInvalidParam,
			errContains: "is not an allowed value",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Build(context.Background(), tc.def)
			require.Error(t, err)
			assert.ErrorContains(t, err, tc.errContains)
			assert.True(t, errors.Is(err, ErrInvalidGraph))

			var gerr *GraphError
			require.ErrorAs(t, err, &gerr)
			assert.Equal(t, tc.kind, gerr.Kind)
		})
	}
}

func ptr(v cty.Value) *cty.Value { return &v }

func decisionsByStage(ds []Decision) map[string]Decision {
	out := make(map[string]Decision, len(ds))
	for _, d := range ds {
		out[d.Stage] = d
	}
	return out
}

func TestReadyStages(t *testing.T) {
	trigger := config.Trigger{Branch: "develop"}

	t.Run("roots become ready first", func(t *testing.T) {
		g := mustBuild(t, def(stage("a"), stage("b", "a"), stage("c")))
		ds := g.ReadyStages(nil, trigger)
		assert.Equal(t, []Decision{
			{Stage: "a", To: state.Ready},
			{Stage: "c", To: state.Ready},
		}, ds)
	})

	t.Run("failure cascades to every descendant", func(t *testing.T) {
		// --- Arrange ---
		g := mustBuild(t, def(stage("a"), stage("b", "a"), stage("c", "a"), stage("d", "b")))
		states := map[string]StageState{"a": {Status: state.Failed}}

		// --- Act ---
		ds := decisionsByStage(g.ReadyStages(states, trigger))

		// --- Assert ---
		require.Len(t, ds, 3)
		for _, name := range []string{"b", "c", "d"} {
			assert.Equal(t, state.Skipped, ds[name].To, name)
			assert.Equal(t, state.SkipUpstreamFailed, ds[name].SkipReason, name)
		}
	})

	t.Run("continue on error satisfies dependents", func(t *testing.T) {
		a := stage("a")
		a.ContinueOnError = true
		g := mustBuild(t, def(a, stage("b", "a")))
		ds := g.ReadyStages(map[string]StageState{"a": {Status: state.Failed}}, trigger)
		assert.Equal(t, []Decision{{Stage: "b", To: state.Ready}}, ds)
	})

	t.Run("cancelled dependency counts as failed", func(t *testing.T) {
		g := mustBuild(t, def(stage("a"), stage("b", "a")))
		ds := g.ReadyStages(map[string]StageState{"a": {Status: state.Cancelled}}, trigger)
		require.Len(t, ds, 1)
		assert.Equal(t, state.SkipUpstreamFailed, ds[0].SkipReason)
	})

	t.Run("failure skips even while a sibling dependency runs", func(t *testing.T) {
		g := mustBuild(t, def(stage("a"), stage("b"), stage("c", "a", "b")))
		ds := g.ReadyStages(map[string]StageState{
			"a": {Status: state.Failed},
			"b": {Status: state.Running},
		}, trigger)
		assert.Equal(t, []Decision{{Stage: "c", To: state.Skipped, SkipReason: state.SkipUpstreamFailed}}, ds)
	})

	t.Run("waits for running dependencies", func(t *testing.T) {
		g := mustBuild(t, def(stage("a"), stage("b"), stage("c", "a", "b")))
		ds := g.ReadyStages(map[string]StageState{
			"a": {Status: state.Succeeded},
			"b": {Status: state.Running},
		}, trigger)
		assert.Empty(t, ds)
	})

	t.Run("false condition skips the stage and its dependents", func(t *testing.T) {
		deploy := stage("deploy", "build")
		deploy.Condition = branchIs("main")
		g := mustBuild(t, def(stage("build"), deploy, stage("notify", "deploy")))

		ds := g.ReadyStages(map[string]StageState{"build": {Status: state.Succeeded}}, trigger)
		assert.Equal(t, []Decision{
			{Stage: "deploy", To: state.Skipped, SkipReason: state.SkipCondition},
			{Stage: "notify", To: state.Skipped, SkipReason: state.SkipUpstreamSkipped},
		}, ds)
	})

	t.Run("run on skipped treats a skipped ancestor as satisfied", func(t *testing.T) {
		deploy := stage("deploy")
		deploy.Condition = branchIs("main")
		notify := stage("notify", "deploy")
		notify.RunOnSkipped = true
		g := mustBuild(t, def(deploy, notify))

		ds := g.ReadyStages(nil, trigger)
		assert.Equal(t, []Decision{
			{Stage: "deploy", To: state.Skipped, SkipReason: state.SkipCondition},
			{Stage: "notify", To: state.Ready},
		}, ds)
	})

	t.Run("run on skipped does not override fail-fast", func(t *testing.T) {
		notify := stage("notify", "build")
		notify.RunOnSkipped = true
		g := mustBuild(t, def(stage("lint"), stage("build", "lint"), notify))

		ds := g.ReadyStages(map[string]StageState{"lint": {Status: state.Failed}}, trigger)
		byStage := decisionsByStage(ds)
		assert.Equal(t, state.SkipUpstreamFailed, byStage["notify"].SkipReason)
	})

	t.Run("condition error fails the stage", func(t *testing.T) {
		boom := errors.New("boom")
		a := stage("a")
		a.Condition = conditionFunc(func(config.Trigger) (bool, error) { return false, boom })
		g := mustBuild(t, def(a, stage("b", "a")))

		ds := g.ReadyStages(nil, trigger)
		require.Len(t, ds, 2)
		assert.Equal(t, state.Failed, ds[0].To)
		var cerr *ConditionError
		require.ErrorAs(t, ds[0].Err, &cerr)
		assert.Equal(t, "a", cerr.Stage)
		assert.ErrorIs(t, ds[0].Err, boom)
		assert.Equal(t, Decision{Stage: "b", To: state.Skipped, SkipReason: state.SkipUpstreamFailed}, ds[1])
	})

	t.Run("input states are not mutated", func(t *testing.T) {
		g := mustBuild(t, def(stage("a"), stage("b", "a")))
		states := map[string]StageState{"a": {Status: state.Failed}}
		g.ReadyStages(states, trigger)
		assert.Len(t, states, 1)
	})
}

func TestReadyStages_DeployScenario(t *testing.T) {
	deploy := stage("deploy-staging", "build")
	deploy.Condition = branchIs("develop")
	g := mustBuild(t, def(stage("lint"), stage("test", "lint"), stage("build", "test"), deploy))
	done := map[string]StageState{
		"lint":  {Status: state.Succeeded},
		"test":  {Status: state.Succeeded},
		"build": {Status: state.Succeeded},
	}

	t.Run("develop deploys", func(t *testing.T) {
		ds := g.ReadyStages(done, config.Trigger{Branch: "develop"})
		assert.Equal(t, []Decision{{Stage: "deploy-staging", To: state.Ready}}, ds)
	})

	t.Run("feature branch skips deploy", func(t *testing.T) {
		ds := g.ReadyStages(done, config.Trigger{Branch: "feature/x"})
		assert.Equal(t, []Decision{{Stage: "deploy-staging", To: state.Skipped, SkipReason: state.SkipCondition}}, ds)
	})
}
