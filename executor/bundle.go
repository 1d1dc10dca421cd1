package executor

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/shale-yeah/kernel/bundle"
	"github.com/shale-yeah/kernel/resilience"
	"github.com/shale-yeah/kernel/shape"
)

type (
	// PhaseResult reports one dependency phase of a bundle run.
	PhaseResult struct {
		// Phase is the 1-based phase number.
		Phase int `json:"phase"`
		// Tools lists the step tools in this phase, declaration order.
		Tools []string `json:"tools"`
		// Parallel reports whether the phase ran as a scatter-gather.
		Parallel bool `json:"parallel"`
		// Results maps each step tool to its envelope.
		Results map[string]shape.Envelope `json:"results"`
		// Failures details the steps that did not succeed.
		Failures []FailureDetail `json:"failures,omitempty"`
		// DurationMs is the phase wall time.
		DurationMs int64 `json:"durationMs"`
	}

	// BundleResult aggregates a bundle run.
	BundleResult struct {
		// Bundle is the bundle name.
		Bundle string `json:"bundle"`
		// OverallSuccess is the gather-strategy verdict.
		OverallSuccess bool `json:"overallSuccess"`
		// Completeness is required successes over required steps, 0-100.
		Completeness float64 `json:"completeness"`
		// Results maps every step tool to its envelope.
		Results map[string]shape.Envelope `json:"results"`
		// Phases reports per-phase outcomes in execution order.
		Phases []PhaseResult `json:"phases"`
		// Failures details every step that did not succeed, optional included.
		Failures []FailureDetail `json:"failures,omitempty"`
		// TotalTimeMs is the bundle wall time.
		TotalTimeMs int64 `json:"totalTimeMs"`
		// Degraded carries partial-result guidance when steps failed and
		// graceful degradation is enabled.
		Degraded *resilience.DegradedResponse `json:"degraded,omitempty"`
	}
)

// QuickScreen is the fast go/no-go screen: the four core analyses in one
// parallel phase at summary detail.
func QuickScreen() bundle.TaskBundle {
	return bundle.TaskBundle{
		Name:        "quick_screen",
		Description: "Fast tract screen across geology, economics, curves and risk",
		Steps: []bundle.Step{
			{Tool: "geowiz.analyze", Parallel: true, DetailLevel: shape.DetailSummary},
			{Tool: "econobot.analyze", Parallel: true, DetailLevel: shape.DetailSummary},
			{Tool: "curve-smith.analyze", Parallel: true, DetailLevel: shape.DetailSummary},
			{Tool: "risk-analysis.analyze", Parallel: true, DetailLevel: shape.DetailSummary},
		},
		Gather: bundle.GatherAll,
	}
}

// FullDueDiligence is the complete acquisition workflow: core analyses fan
// out first, dependent assessments follow, validation gates the report, and
// the investment decision closes on the report.
func FullDueDiligence() bundle.TaskBundle {
	coreDeps := []string{
		"geowiz.analyze", "econobot.analyze", "curve-smith.analyze",
		"market.analyze", "research.analyze",
	}
	return bundle.TaskBundle{
		Name:        "full_due_diligence",
		Description: "Complete due diligence from core analyses through investment decision",
		Steps: []bundle.Step{
			{Tool: "geowiz.analyze", Parallel: true, DetailLevel: shape.DetailStandard},
			{Tool: "econobot.analyze", Parallel: true, DetailLevel: shape.DetailStandard},
			{Tool: "curve-smith.analyze", Parallel: true, DetailLevel: shape.DetailStandard},
			{Tool: "market.analyze", Parallel: true, Optional: true, DetailLevel: shape.DetailStandard},
			{Tool: "research.analyze", Parallel: true, Optional: true, DetailLevel: shape.DetailStandard},
			{Tool: "risk-analysis.analyze", Parallel: true, DependsOn: coreDeps, DetailLevel: shape.DetailStandard},
			{Tool: "legal.analyze", Parallel: true, Optional: true, DependsOn: coreDeps, DetailLevel: shape.DetailStandard},
			{Tool: "title.analyze", Parallel: true, Optional: true, DependsOn: coreDeps, DetailLevel: shape.DetailStandard},
			{Tool: "drilling.analyze", Parallel: true, Optional: true, DependsOn: coreDeps, DetailLevel: shape.DetailStandard},
			{Tool: "infrastructure.analyze", Parallel: true, Optional: true, DependsOn: coreDeps, DetailLevel: shape.DetailStandard},
			{Tool: "development.analyze", Parallel: true, Optional: true, DependsOn: coreDeps, DetailLevel: shape.DetailStandard},
			{Tool: "test.analyze", Optional: true, DependsOn: []string{"risk-analysis.analyze"}},
			{Tool: "reporter.analyze", DependsOn: []string{"test.analyze"}, DetailLevel: shape.DetailFull},
			{Tool: "decision.analyze", DependsOn: []string{"reporter.analyze"}, DetailLevel: shape.DetailFull},
		},
		Gather: bundle.GatherMajority,
	}
}

// Bundles lists the workflows defined by this package.
func Bundles() []bundle.TaskBundle {
	return []bundle.TaskBundle{QuickScreen(), FullDueDiligence()}
}

// ResolvePhases topologically partitions steps into phases so that every
// step's dependencies land in earlier phases. When no remaining step is
// ready, because of a dependency cycle or a name that matches no step, the
// remainder is emitted as one final phase rather than dropped.
func ResolvePhases(steps []bundle.Step) [][]bundle.Step {
	placed := make(map[string]bool, len(steps))
	remaining := append([]bundle.Step(nil), steps...)
	var phases [][]bundle.Step
	for len(remaining) > 0 {
		ready := make([]bundle.Step, 0, len(remaining))
		var blocked []bundle.Step
		for _, step := range remaining {
			if depsPlaced(step, placed) {
				ready = append(ready, step)
			} else {
				blocked = append(blocked, step)
			}
		}
		if len(ready) == 0 {
			phases = append(phases, blocked)
			break
		}
		for _, step := range ready {
			placed[step.Tool] = true
		}
		phases = append(phases, ready)
		remaining = blocked
	}
	return phases
}

func depsPlaced(step bundle.Step, placed map[string]bool) bool {
	for _, dep := range step.DependsOn {
		if !placed[dep] {
			return false
		}
	}
	return true
}

// ExecuteBundle runs a bundle: steps are partitioned into dependency phases,
// each phase runs as a scatter-gather when any of its steps is parallel and
// sequentially otherwise, and tract-wide args overlay each step's static
// args. A step whose required dependency did not succeed is skipped with a
// permanent error; optional dependencies never block. The verdict follows
// the bundle's gather strategy and completeness counts required steps only.
func (e *Executor) ExecuteBundle(ctx context.Context, b bundle.TaskBundle, tractArgs map[string]any) BundleResult {
	start := e.clock()
	ctx, span := e.tracer.Start(ctx, "kernel.bundle",
		trace.WithAttributes(
			attribute.String("kernel.bundle", b.Name),
			attribute.Int("kernel.steps", len(b.Steps)),
		),
	)
	defer span.End()

	stepsByTool := make(map[string]bundle.Step, len(b.Steps))
	for _, step := range b.Steps {
		stepsByTool[step.Tool] = step
	}

	phases := ResolvePhases(b.Steps)
	results := make(map[string]shape.Envelope, len(b.Steps))
	phaseResults := make([]PhaseResult, 0, len(phases))
	var failures []FailureDetail

	for i, phase := range phases {
		phaseStart := e.clock()
		parallel := false
		for _, step := range phase {
			if step.Parallel {
				parallel = true
				break
			}
		}

		phaseEnvs := make(map[string]shape.Envelope, len(phase))
		if parallel {
			runnable := make([]ToolRequest, 0, len(phase))
			for _, step := range phase {
				if dep, blocked := blockedBy(step, stepsByTool, results); blocked {
					phaseEnvs[step.Tool] = e.skipStep(step, dep)
					continue
				}
				runnable = append(runnable, e.stepRequest(step, tractArgs))
			}
			parallelRes := e.ExecuteParallel(ctx, runnable)
			for tool, env := range parallelRes.Results {
				phaseEnvs[tool] = env
			}
		} else {
			for _, step := range phase {
				// Sequential steps gate at their turn so results from
				// earlier steps of a fallback phase count.
				if dep, blocked := blockedBy(step, stepsByTool, results); blocked {
					env := e.skipStep(step, dep)
					phaseEnvs[step.Tool] = env
					results[step.Tool] = env
					continue
				}
				env := e.Execute(ctx, e.stepRequest(step, tractArgs))
				phaseEnvs[step.Tool] = env
				results[step.Tool] = env
			}
		}

		tools := make([]string, 0, len(phase))
		var phaseFailures []FailureDetail
		for _, step := range phase {
			tools = append(tools, step.Tool)
			env := phaseEnvs[step.Tool]
			results[step.Tool] = env
			if !env.Success {
				phaseFailures = append(phaseFailures, failureDetail(step.Tool, env))
			}
		}
		failures = append(failures, phaseFailures...)
		phaseResults = append(phaseResults, PhaseResult{
			Phase:      i + 1,
			Tools:      tools,
			Parallel:   parallel,
			Results:    phaseEnvs,
			Failures:   phaseFailures,
			DurationMs: e.clock().Sub(phaseStart).Milliseconds(),
		})
	}

	requiredTotal, requiredOK, successes := 0, 0, 0
	for _, step := range b.Steps {
		env := results[step.Tool]
		if env.Success {
			successes++
		}
		if step.Optional {
			continue
		}
		requiredTotal++
		if env.Success {
			requiredOK++
		}
	}
	overall := gatherVerdict(b.Gather, len(b.Steps), successes, requiredTotal, requiredOK)

	out := BundleResult{
		Bundle:         b.Name,
		OverallSuccess: overall,
		Completeness:   roundPct(requiredOK, requiredTotal),
		Results:        results,
		Phases:         phaseResults,
		Failures:       failures,
		TotalTimeMs:    e.clock().Sub(start).Milliseconds(),
	}
	if e.cfg.GracefulDegradation && len(failures) > 0 {
		expected := make([]string, 0, len(b.Steps))
		for _, step := range b.Steps {
			expected = append(expected, step.Tool)
		}
		degraded := resilience.HandleDegradation(results, expected, e.cfg.MinCompleteness)
		out.Degraded = &degraded
	}

	e.metrics.IncCounter("kernel.bundle_runs", 1, "bundle", b.Name, "success", fmt.Sprintf("%t", overall))
	e.logger.Info(ctx, "bundle finished",
		"bundle", b.Name, "overall_success", overall,
		"completeness", out.Completeness, "phases", len(phaseResults),
		"duration_ms", out.TotalTimeMs)
	if overall {
		span.SetStatus(codes.Ok, "ok")
	} else {
		span.SetStatus(codes.Error, fmt.Sprintf("%d of %d required steps failed", requiredTotal-requiredOK, requiredTotal))
	}
	return out
}

// gatherVerdict evaluates bundle success: all requires every required step,
// majority requires more than half of all steps, any requires one success.
func gatherVerdict(strategy bundle.GatherStrategy, total, successes, requiredTotal, requiredOK int) bool {
	switch strategy {
	case bundle.GatherMajority:
		return successes*2 > total
	case bundle.GatherAny:
		return successes > 0
	default:
		return requiredOK == requiredTotal
	}
}

// blockedBy returns the first required dependency that completed without
// success. Dependencies without a recorded result never block: they are
// optional siblings of a fallback phase or names outside the bundle.
func blockedBy(step bundle.Step, steps map[string]bundle.Step, results map[string]shape.Envelope) (string, bool) {
	for _, dep := range step.DependsOn {
		env, ok := results[dep]
		if !ok || env.Success {
			continue
		}
		if depStep, known := steps[dep]; known && depStep.Optional {
			continue
		}
		return dep, true
	}
	return "", false
}

// skipStep builds the failure envelope recorded for a step whose required
// dependency did not succeed.
func (e *Executor) skipStep(step bundle.Step, dep string) shape.Envelope {
	level := step.DetailLevel
	if !level.Valid() {
		level = e.cfg.DefaultDetailLevel
	}
	return e.failure(step.Tool, shape.ErrorDetail{
		Type:    shape.ErrorPermanent,
		Message: fmt.Sprintf("dependency %s did not succeed; %s was skipped", dep, step.Tool),
		Reason:  "A required upstream analysis failed, so this step never started.",
	}, shape.Options{DetailLevel: level, Timestamp: e.clock()})
}

// stepRequest builds the tool request for a bundle step with tract-wide args
// overlaid on the step's static args.
func (e *Executor) stepRequest(step bundle.Step, tractArgs map[string]any) ToolRequest {
	return ToolRequest{
		Tool:        step.Tool,
		Args:        mergeArgs(step.Args, tractArgs),
		DetailLevel: step.DetailLevel,
	}
}
