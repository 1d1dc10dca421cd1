package executor_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shale-yeah/kernel/bundle"
	"github.com/shale-yeah/kernel/executor"
	"github.com/shale-yeah/kernel/shape"
)

func phaseTools(phase []bundle.Step) []string {
	out := make([]string, len(phase))
	for i, step := range phase {
		out[i] = step.Tool
	}
	return out
}

func TestResolvePhasesQuickScreen(t *testing.T) {
	t.Parallel()
	phases := executor.ResolvePhases(executor.QuickScreen().Steps)

	require.Len(t, phases, 1)
	assert.ElementsMatch(t, []string{
		"geowiz.analyze", "econobot.analyze", "curve-smith.analyze", "risk-analysis.analyze",
	}, phaseTools(phases[0]))
}

func TestResolvePhasesFullDueDiligence(t *testing.T) {
	t.Parallel()
	phases := executor.ResolvePhases(executor.FullDueDiligence().Steps)

	require.Len(t, phases, 5)
	assert.ElementsMatch(t, []string{
		"geowiz.analyze", "econobot.analyze", "curve-smith.analyze",
		"market.analyze", "research.analyze",
	}, phaseTools(phases[0]))
	assert.ElementsMatch(t, []string{
		"risk-analysis.analyze", "legal.analyze", "title.analyze",
		"drilling.analyze", "infrastructure.analyze", "development.analyze",
	}, phaseTools(phases[1]))
	assert.Equal(t, []string{"test.analyze"}, phaseTools(phases[2]))
	assert.Equal(t, []string{"reporter.analyze"}, phaseTools(phases[3]))
	assert.Equal(t, []string{"decision.analyze"}, phaseTools(phases[4]))
}

func TestResolvePhasesCycleFallsBackToFinalPhase(t *testing.T) {
	t.Parallel()
	steps := []bundle.Step{
		{Tool: "a.analyze", DependsOn: []string{"b.analyze"}},
		{Tool: "b.analyze", DependsOn: []string{"a.analyze"}},
		{Tool: "c.analyze"},
	}

	phases := executor.ResolvePhases(steps)

	require.Len(t, phases, 2)
	assert.Equal(t, []string{"c.analyze"}, phaseTools(phases[0]))
	assert.ElementsMatch(t, []string{"a.analyze", "b.analyze"}, phaseTools(phases[1]))
}

func TestResolvePhasesMissingDependencyFallsBack(t *testing.T) {
	t.Parallel()
	steps := []bundle.Step{
		{Tool: "a.analyze", DependsOn: []string{"ghost.analyze"}},
	}

	phases := executor.ResolvePhases(steps)

	require.Len(t, phases, 1)
	assert.Equal(t, []string{"a.analyze"}, phaseTools(phases[0]))
}

func TestExecuteBundleQuickScreen(t *testing.T) {
	t.Parallel()
	st := &scriptedTransport{}
	e := newExecutor(t, executor.DefaultConfig(), st.fn())

	res := e.ExecuteBundle(context.Background(), executor.QuickScreen(), map[string]any{"tract": "Permian-A"})

	assert.True(t, res.OverallSuccess)
	assert.Equal(t, float64(100), res.Completeness)
	assert.Len(t, res.Results, 4)
	assert.Empty(t, res.Failures)

	require.Len(t, res.Phases, 1)
	assert.True(t, res.Phases[0].Parallel)
	assert.Len(t, res.Phases[0].Results, 4)

	// Every step saw the tract-wide args.
	assert.Equal(t, 4, st.total())
	for _, server := range []string{"geowiz", "econobot", "curve-smith", "risk-analysis"} {
		assert.Equal(t, "Permian-A", st.lastArgs(server)["tract"])
	}
	for _, env := range res.Results {
		assert.Equal(t, shape.DetailSummary, env.DetailLevel)
	}
}

func TestExecuteBundleMajorityToleratesOptionalFailure(t *testing.T) {
	t.Parallel()
	st := &scriptedTransport{errs: map[string]error{
		"research": errors.New("invalid query parameters for research feed"),
	}}
	e := newExecutor(t, executor.DefaultConfig(), st.fn(), executor.WithSleep(noSleep))

	res := e.ExecuteBundle(context.Background(), executor.FullDueDiligence(), map[string]any{"tract": "Permian-A"})

	assert.True(t, res.OverallSuccess, "13 of 14 steps is a majority")
	assert.Equal(t, float64(100), res.Completeness, "every required step succeeded")
	assert.Len(t, res.Results, 14)

	require.Len(t, res.Failures, 1)
	assert.Equal(t, "research.analyze", res.Failures[0].ToolName)

	require.Len(t, res.Phases, 5)
	require.Len(t, res.Phases[0].Failures, 1)
	assert.Equal(t, "research.analyze", res.Phases[0].Failures[0].ToolName)

	// The optional failure never blocked downstream phases.
	assert.True(t, res.Results["risk-analysis.analyze"].Success)
	assert.True(t, res.Results["reporter.analyze"].Success)
	assert.True(t, res.Results["decision.analyze"].Success)

	require.NotNil(t, res.Degraded)
	assert.True(t, res.Degraded.Useful)
	assert.Equal(t, []string{"research.analyze"}, res.Degraded.Missing)
	assert.Equal(t, float64(93), res.Degraded.Completeness)
}

func TestExecuteBundleSkipsDependentsOfFailedRequiredStep(t *testing.T) {
	t.Parallel()
	st := &scriptedTransport{errs: map[string]error{
		"geowiz": errors.New("schema validation failed: tract polygon malformed"),
	}}
	e := newExecutor(t, executor.DefaultConfig(), st.fn(), executor.WithSleep(noSleep))

	b := bundle.TaskBundle{
		Name: "geology_first",
		Steps: []bundle.Step{
			{Tool: "geowiz.analyze"},
			{Tool: "econobot.analyze", DependsOn: []string{"geowiz.analyze"}},
		},
		Gather: bundle.GatherAll,
	}
	res := e.ExecuteBundle(context.Background(), b, nil)

	assert.False(t, res.OverallSuccess)
	assert.Equal(t, float64(0), res.Completeness)
	assert.Len(t, res.Failures, 2)
	assert.Equal(t, 1, st.total(), "the skipped step never reached the transport")

	skipped := res.Results["econobot.analyze"]
	require.False(t, skipped.Success)
	require.NotNil(t, skipped.Error)
	assert.Equal(t, shape.ErrorPermanent, skipped.Error.Type)
	assert.Contains(t, skipped.Error.Message, "geowiz.analyze did not succeed")
	assert.Contains(t, skipped.Error.Message, "econobot.analyze was skipped")
}

func TestExecuteBundleOptionalDependencyFailureDoesNotBlock(t *testing.T) {
	t.Parallel()
	st := &scriptedTransport{errs: map[string]error{
		"research": errors.New("invalid research request"),
	}}
	e := newExecutor(t, executor.DefaultConfig(), st.fn(), executor.WithSleep(noSleep))

	b := bundle.TaskBundle{
		Name: "research_then_market",
		Steps: []bundle.Step{
			{Tool: "research.analyze", Optional: true},
			{Tool: "market.analyze", DependsOn: []string{"research.analyze"}},
		},
		Gather: bundle.GatherAll,
	}
	res := e.ExecuteBundle(context.Background(), b, nil)

	assert.True(t, res.OverallSuccess)
	assert.Equal(t, float64(100), res.Completeness)
	assert.True(t, res.Results["market.analyze"].Success)
	assert.Len(t, res.Failures, 1)
	assert.Equal(t, 2, st.total())
}

func TestExecuteBundleGatherStrategies(t *testing.T) {
	t.Parallel()
	st := &scriptedTransport{errs: map[string]error{
		"geowiz": errors.New("invalid tract"),
	}}
	e := newExecutor(t, executor.DefaultConfig(), st.fn(), executor.WithSleep(noSleep))

	steps := []bundle.Step{
		{Tool: "geowiz.analyze", Parallel: true},
		{Tool: "econobot.analyze", Parallel: true},
	}

	anyRes := e.ExecuteBundle(context.Background(), bundle.TaskBundle{Name: "any", Steps: steps, Gather: bundle.GatherAny}, nil)
	assert.True(t, anyRes.OverallSuccess)

	majorityRes := e.ExecuteBundle(context.Background(), bundle.TaskBundle{Name: "majority", Steps: steps, Gather: bundle.GatherMajority}, nil)
	assert.False(t, majorityRes.OverallSuccess, "one of two is not a majority")

	allRes := e.ExecuteBundle(context.Background(), bundle.TaskBundle{Name: "all", Steps: steps, Gather: bundle.GatherAll}, nil)
	assert.False(t, allRes.OverallSuccess)
	assert.Equal(t, float64(50), allRes.Completeness)
}

func TestExecuteBundleTractArgsOverrideStepArgs(t *testing.T) {
	t.Parallel()
	st := &scriptedTransport{}
	e := newExecutor(t, executor.DefaultConfig(), st.fn())

	b := bundle.TaskBundle{
		Name: "single",
		Steps: []bundle.Step{
			{Tool: "geowiz.analyze", Args: map[string]any{"tract": "Static-X", "depth": 5000}},
		},
		Gather: bundle.GatherAll,
	}
	e.ExecuteBundle(context.Background(), b, map[string]any{"tract": "Permian-A"})

	args := st.lastArgs("geowiz")
	assert.Equal(t, "Permian-A", args["tract"])
	assert.Equal(t, 5000, args["depth"])
}

func TestExecuteBundleDisabledDegradationOmitsGuidance(t *testing.T) {
	t.Parallel()
	cfg := executor.DefaultConfig()
	cfg.GracefulDegradation = false

	st := &scriptedTransport{errs: map[string]error{
		"geowiz": errors.New("invalid tract"),
	}}
	e := newExecutor(t, cfg, st.fn(), executor.WithSleep(noSleep))

	res := e.ExecuteBundle(context.Background(), executor.QuickScreen(), nil)

	assert.False(t, res.OverallSuccess)
	assert.Nil(t, res.Degraded)
}

func TestResolvePhasesProperties(t *testing.T) {
	t.Parallel()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	// Steps whose dependencies point only at earlier steps form a DAG; the
	// resolver must place every step exactly one phase after its deepest
	// dependency.
	properties.Property("DAG steps land at their dependency depth", prop.ForAll(
		func(n int, seed int64) bool {
			rng := rand.New(rand.NewSource(seed))
			steps := make([]bundle.Step, n)
			deps := make([][]int, n)
			for i := 0; i < n; i++ {
				steps[i] = bundle.Step{Tool: fmt.Sprintf("t%d.analyze", i)}
				for j := 0; j < i; j++ {
					if rng.Intn(3) == 0 {
						deps[i] = append(deps[i], j)
						steps[i].DependsOn = append(steps[i].DependsOn, steps[j].Tool)
					}
				}
			}

			var depth func(i int) int
			depth = func(i int) int {
				d := 0
				for _, j := range deps[i] {
					if cand := depth(j) + 1; cand > d {
						d = cand
					}
				}
				return d
			}

			phases := executor.ResolvePhases(steps)
			phaseOf := make(map[string]int)
			total := 0
			for p, phase := range phases {
				for _, step := range phase {
					if _, dup := phaseOf[step.Tool]; dup {
						return false
					}
					phaseOf[step.Tool] = p
					total++
				}
			}
			if total != n {
				return false
			}
			for i := 0; i < n; i++ {
				if phaseOf[steps[i].Tool] != depth(i) {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 8), gen.Int64(),
	))

	// Arbitrary dependency graphs, cycles included, must still emit every
	// step exactly once.
	properties.Property("no step is ever dropped", prop.ForAll(
		func(n int, seed int64) bool {
			rng := rand.New(rand.NewSource(seed))
			steps := make([]bundle.Step, n)
			for i := 0; i < n; i++ {
				steps[i] = bundle.Step{Tool: fmt.Sprintf("t%d.analyze", i)}
				for j := 0; j < n; j++ {
					if rng.Intn(4) == 0 {
						steps[i].DependsOn = append(steps[i].DependsOn, fmt.Sprintf("t%d.analyze", j))
					}
				}
			}

			seen := make(map[string]int)
			total := 0
			for _, phase := range executor.ResolvePhases(steps) {
				for _, step := range phase {
					seen[step.Tool]++
					total++
				}
			}
			if total != n {
				return false
			}
			for _, count := range seen {
				if count != 1 {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 8), gen.Int64(),
	))

	properties.TestingRun(t)
}
