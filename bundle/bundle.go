// Package bundle defines multi-step analysis workflows. A bundle names an
// ordered set of tool steps with dependency, concurrency and optionality
// flags; the executor partitions the steps into phases and runs them.
package bundle

import "github.com/shale-yeah/kernel/shape"

// GatherStrategy decides how step outcomes roll up into bundle success.
type GatherStrategy string

const (
	// GatherAll succeeds when every required step succeeded.
	GatherAll GatherStrategy = "all"
	// GatherMajority succeeds when more than half of all steps succeeded.
	GatherMajority GatherStrategy = "majority"
	// GatherAny succeeds when at least one step succeeded.
	GatherAny GatherStrategy = "any"
)

type (
	// Step is one tool invocation inside a bundle.
	Step struct {
		// Tool is the fully qualified tool name.
		Tool string `json:"tool"`
		// Args are static args merged under the caller's tract args.
		Args map[string]any `json:"args,omitempty"`
		// Parallel allows the step to run concurrently with other parallel
		// steps in its phase.
		Parallel bool `json:"parallel,omitempty"`
		// Optional steps may fail without failing the bundle or blocking
		// dependents.
		Optional bool `json:"optional,omitempty"`
		// DependsOn lists steps that must complete before this one starts.
		DependsOn []string `json:"dependsOn,omitempty"`
		// DetailLevel overrides the response detail for this step.
		DetailLevel shape.DetailLevel `json:"detailLevel,omitempty"`
	}

	// TaskBundle is a named workflow over analysis tools.
	TaskBundle struct {
		// Name identifies the bundle.
		Name string `json:"name"`
		// Description is a human summary of what the bundle answers.
		Description string `json:"description"`
		// Steps are the tool invocations in declaration order.
		Steps []Step `json:"steps"`
		// Gather is the success roll-up strategy.
		Gather GatherStrategy `json:"gather"`
	}
)

// GeologicalDeepDive runs the geology-focused workflow: full formation
// analysis with decline curves and optional supporting research.
func GeologicalDeepDive() TaskBundle {
	return TaskBundle{
		Name:        "geological_deep_dive",
		Description: "Full geological assessment with decline curves and supporting research",
		Steps: []Step{
			{Tool: "geowiz.analyze", Parallel: true, DetailLevel: shape.DetailFull},
			{Tool: "curve-smith.analyze", Parallel: true, DetailLevel: shape.DetailStandard},
			{Tool: "research.analyze", Parallel: true, Optional: true, DetailLevel: shape.DetailSummary},
		},
		Gather: GatherAll,
	}
}

// FinancialReview runs the economics-focused workflow: full DCF modeling
// with risk scoring and optional market context.
func FinancialReview() TaskBundle {
	return TaskBundle{
		Name:        "financial_review",
		Description: "Full economic evaluation with risk scoring and market context",
		Steps: []Step{
			{Tool: "econobot.analyze", Parallel: true, DetailLevel: shape.DetailFull},
			{Tool: "risk-analysis.analyze", Parallel: true, DetailLevel: shape.DetailStandard},
			{Tool: "market.analyze", Parallel: true, Optional: true, DetailLevel: shape.DetailSummary},
		},
		Gather: GatherAll,
	}
}

// Catalog lists the bundles defined in this package.
func Catalog() []TaskBundle {
	return []TaskBundle{GeologicalDeepDive(), FinancialReview()}
}
