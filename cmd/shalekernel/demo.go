package main

import (
	"context"
	"fmt"

	"github.com/shale-yeah/kernel/executor"
	"github.com/shale-yeah/kernel/shape"
)

// demoTransport returns an in-process transport that answers every server
// with canned, domain-plausible payloads. It lets the full pipeline run
// end to end without worker processes: shaping, summaries, bundles and the
// confirmation gate all behave exactly as they would against live workers.
func demoTransport() executor.TransportFunc {
	return func(_ context.Context, server string, args map[string]any) (shape.WireResult, error) {
		tract, _ := args["tract"].(string)
		if tract == "" {
			tract = "demo-tract"
		}
		build, ok := demoPayloads[server]
		if !ok {
			return shape.WireResult{
				Success: true,
				Data: map[string]any{
					"summary":    fmt.Sprintf("%s analysis complete for %s", server, tract),
					"confidence": 80,
				},
			}, nil
		}
		return shape.WireResult{Success: true, Data: build(tract)}, nil
	}
}

// demoPayloads builds one representative reply per server. Values are static
// so repeated runs produce identical output.
var demoPayloads = map[string]func(tract string) map[string]any{
	"geowiz": func(tract string) map[string]any {
		return map[string]any{
			"formationQuality": map[string]any{
				"reservoirQuality":     "excellent",
				"hydrocarbonPotential": "high",
				"netPayFt":             185,
				"porosityPct":          9.2,
			},
			"investmentPerspective": map[string]any{
				"recommendedAction":    "proceed to economic evaluation",
				"geologicalConfidence": "high",
			},
			"professionalSummary": fmt.Sprintf("Tract %s sits in the overpressured core of the basin with stacked pay.", tract),
			"depthData":           map[string]any{"topMd": 9850, "baseMd": 11200},
			"confidence":          88,
		}
	},
	"econobot": func(tract string) map[string]any {
		return map[string]any{
			"economicSummary": map[string]any{
				"npv":           24_500_000,
				"irr":           31.4,
				"paybackMonths": 22,
				"breakevenOil":  41.5,
			},
			"investmentRecommendation": map[string]any{
				"decision":  "favorable",
				"rationale": "NPV clears the hurdle rate at strip pricing with margin to spare.",
			},
			"sensitivityAnalysis": map[string]any{
				"oilPriceMinus20Pct": map[string]any{"npv": 9_100_000},
				"capexPlus15Pct":     map[string]any{"npv": 18_700_000},
			},
			"confidence": 84,
		}
	},
	"curve-smith": func(tract string) map[string]any {
		return map[string]any{
			"curveAnalysis": map[string]any{
				"eur":         map[string]any{"oil": 485_000, "gas": 1_250_000},
				"declineRate": 0.68,
				"bFactor":     1.1,
			},
			"qualityMetrics": map[string]any{
				"qualityGrade": "B+",
				"rSquared":     0.93,
			},
			"professionalAssessment": "Type curve fits offset wells within one standard deviation.",
			"curveData":              map[string]any{"months": 360, "points": "omitted"},
			"confidence":             86,
		}
	},
	"risk-analysis": func(tract string) map[string]any {
		return map[string]any{
			"riskAssessment": map[string]any{
				"overallRiskScore": 34,
				"riskGrade":        "moderate",
				"topRisks":         []any{"gas takeaway constraints", "offset frac hits"},
			},
			"mitigationStrategies": []any{
				"Stagger development with the offset operator's schedule",
				"Secure firm transport before the second pad",
			},
			"investmentGuidance": map[string]any{"recommendation": "proceed with standard contingencies"},
			"monteCarloResults":  map[string]any{"p10": 41_000_000, "p50": 24_500_000, "p90": 8_200_000},
			"confidence":         82,
		}
	},
	"market": func(tract string) map[string]any {
		return map[string]any{
			"marketOutlook": map[string]any{
				"trend":         "stable",
				"demandDrivers": []any{"refinery runs", "export capacity"},
			},
			"priceForecasts": map[string]any{"oil": 78.50, "gas": 3.10},
			"marketSummary":  "Basin differentials remain tight; takeaway additions come online next year.",
			"confidence":     79,
		}
	},
	"legal": func(tract string) map[string]any {
		return map[string]any{
			"legalAssessment": map[string]any{
				"encumbrances":     []any{},
				"litigationRisk":   "low",
				"leaseObligations": "continuous drilling clause satisfied through current program",
			},
			"confidence": 85,
		}
	},
	"title": func(tract string) map[string]any {
		return map[string]any{
			"titleStatus": map[string]any{
				"ownershipVerified":  true,
				"workingInterestPct": 87.5,
				"netRevenuePct":      75.0,
				"defects":            []any{},
			},
			"confidence": 90,
		}
	},
	"drilling": func(tract string) map[string]any {
		return map[string]any{
			"drillingPlan": map[string]any{
				"lateralLengthFt": 10_000,
				"estimatedDays":   18,
				"afeCost":         8_400_000,
			},
			"confidence": 83,
		}
	},
	"infrastructure": func(tract string) map[string]any {
		return map[string]any{
			"infrastructureAssessment": map[string]any{
				"gatheringCapacity": "adequate",
				"waterDisposal":     "SWD within 4 miles",
				"powerAvailability": "grid tie-in required",
			},
			"confidence": 81,
		}
	},
	"development": func(tract string) map[string]any {
		return map[string]any{
			"developmentPlan": map[string]any{
				"wellCount":     12,
				"padCount":      3,
				"spacingFt":     660,
				"firstOilMonth": 9,
			},
			"confidence": 80,
		}
	},
	"research": func(tract string) map[string]any {
		return map[string]any{
			"researchFindings": map[string]any{
				"analogWells":   14,
				"avgEurOil":     455_000,
				"operatorNotes": "Offset operators moved to wider spacing in 2024.",
			},
			"confidence": 77,
		}
	},
	"test": func(tract string) map[string]any {
		return map[string]any{
			"validation": map[string]any{
				"checksRun":    42,
				"checksPassed": 42,
				"dataQuality":  "good",
			},
			"confidence": 95,
		}
	},
	"reporter": func(tract string) map[string]any {
		return map[string]any{
			"report": map[string]any{
				"title":    fmt.Sprintf("Due Diligence Summary: %s", tract),
				"sections": []any{"geology", "economics", "curves", "risk", "market"},
				"format":   "markdown",
			},
			"confidence": 92,
		}
	},
	"decision": func(tract string) map[string]any {
		return map[string]any{
			"recommendation": map[string]any{
				"decision":       "PROCEED",
				"bidStrategy":    "open at $8,500/acre, walk away above $11,000/acre",
				"keyConditions":  []any{"confirm title cures", "firm transport letter of intent"},
				"expectedReturn": "31% IRR at strip",
			},
			"confidence": 87,
		}
	},
}
