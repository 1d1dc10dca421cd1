package shape

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func geologicalPayload() map[string]any {
	return map[string]any{
		"geological": map[string]any{"basin": "permian"},
		"formationQuality": map[string]any{
			"reservoirQuality":     "excellent",
			"hydrocarbonPotential": "high",
		},
		"investmentPerspective": map[string]any{
			"recommendedAction":    "acquire",
			"geologicalConfidence": 0.85,
		},
		"professionalSummary": "Wolfcamp A shows strong porosity.",
		"confidence":          82.0,
		"depthData":           []any{1.0, 2.0, 3.0},
	}
}

func TestShapeFullReturnsRawUnchanged(t *testing.T) {
	t.Parallel()

	raw := geologicalPayload()
	env := Shape(raw, Options{DetailLevel: DetailFull, Server: "geowiz"})

	require.True(t, env.Success)
	assert.Equal(t, DetailFull, env.DetailLevel)
	assert.Equal(t, raw, env.Data)
	assert.Equal(t, 82.0, env.Confidence)
	assert.Equal(t, float64(100), env.Completeness)
	assert.Equal(t, "geowiz", env.Metadata.Server)
}

func TestShapeStandardStripsVerboseKeysDeep(t *testing.T) {
	t.Parallel()

	raw := map[string]any{
		"economicSummary": map[string]any{
			"npv":                 18_500_000.0,
			"monteCarloResults":   map[string]any{"p10": 1.0},
			"sensitivityAnalysis": map[string]any{"oilPrice": "steep"},
		},
		"rawData": "enormous",
		"nested": map[string]any{
			"deeper": []any{
				map[string]any{"curveData": []any{1.0}, "keep": true},
			},
		},
	}
	env := Shape(raw, Options{DetailLevel: DetailStandard})

	data, ok := env.Data.(map[string]any)
	require.True(t, ok)
	assert.NotContains(t, data, "rawData")
	summary := data["economicSummary"].(map[string]any)
	assert.NotContains(t, summary, "monteCarloResults")
	assert.NotContains(t, summary, "sensitivityAnalysis")
	assert.Equal(t, 18_500_000.0, summary["npv"])
	inner := data["nested"].(map[string]any)["deeper"].([]any)[0].(map[string]any)
	assert.NotContains(t, inner, "curveData")
	assert.Equal(t, true, inner["keep"])

	// Shaping must not mutate the raw payload.
	assert.Contains(t, raw, "rawData")
}

func TestShapeSummaryExtractsDomainFields(t *testing.T) {
	t.Parallel()

	env := Shape(geologicalPayload(), Options{DetailLevel: DetailSummary})

	data, ok := env.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "excellent", data["reservoirQuality"])
	assert.Equal(t, "high", data["hydrocarbonPotential"])
	assert.Equal(t, "acquire", data["recommendedAction"])
	assert.Equal(t, 0.85, data["geologicalConfidence"])
	assert.Equal(t, "Wolfcamp A shows strong porosity.", data["professionalSummary"])
	assert.Equal(t, 82.0, data["confidence"])
	assert.NotContains(t, data, "depthData")
}

func TestShapeSummaryWithoutRulesKeepsFirstThreeKeys(t *testing.T) {
	t.Parallel()

	raw := map[string]any{
		"zeta":       1.0,
		"alpha":      2.0,
		"beta":       3.0,
		"gamma":      4.0,
		"confidence": 70.0,
	}
	env := Shape(raw, Options{DetailLevel: DetailSummary})

	data, ok := env.Data.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, data, "alpha")
	assert.Contains(t, data, "beta")
	assert.Contains(t, data, "confidence")
	assert.Equal(t, 70.0, data["confidence"])
	assert.NotContains(t, data, "zeta")
}

func TestShapeDefaultsUnknownDetailToStandard(t *testing.T) {
	t.Parallel()

	env := Shape(map[string]any{"rawData": "x", "keep": 1.0}, Options{DetailLevel: DetailLevel("verbose")})

	assert.Equal(t, DetailStandard, env.DetailLevel)
	data := env.Data.(map[string]any)
	assert.NotContains(t, data, "rawData")
}

func TestDetectDomainPrecedence(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		data map[string]any
		want Domain
	}{
		{"exact key", map[string]any{"geological": map[string]any{}}, DomainGeological},
		{"prefix key", map[string]any{"economicSummary": map[string]any{}}, DomainEconomic},
		{"curve prefix", map[string]any{"curveAnalysis": map[string]any{}}, DomainCurve},
		{"risk prefix", map[string]any{"riskAssessment": map[string]any{}}, DomainRisk},
		{"market prefix", map[string]any{"marketOutlook": map[string]any{}}, DomainMarket},
		{"gis prefix", map[string]any{"gisSummary": "ok"}, DomainGIS},
		{"geological wins over market", map[string]any{
			"marketOutlook":   map[string]any{},
			"geologicalNotes": "x",
		}, DomainGeological},
		{"no match", map[string]any{"other": 1.0}, DomainNone},
		{"empty", nil, DomainNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, DetectDomain(tc.data))
		})
	}
}

func TestSummarizeTemplates(t *testing.T) {
	t.Parallel()

	t.Run("geological", func(t *testing.T) {
		t.Parallel()
		got := Summarize(DomainGeological, geologicalPayload(), 82)
		assert.Equal(t, "Excellent reservoir quality. Recommended action: acquire. Confidence: 82%.", got)
	})

	t.Run("economic", func(t *testing.T) {
		t.Parallel()
		data := map[string]any{
			"economicSummary": map[string]any{"npv": 18_500_000.0, "irr": 22.5},
		}
		got := Summarize(DomainEconomic, data, 78)
		assert.Equal(t, "NPV: $18.5M, IRR: 22.5%. Confidence: 78%.", got)
	})

	t.Run("curve", func(t *testing.T) {
		t.Parallel()
		data := map[string]any{
			"curveAnalysis":  map[string]any{"eur": map[string]any{"oil": 450_000.0}},
			"qualityMetrics": map[string]any{"qualityGrade": "B"},
		}
		got := Summarize(DomainCurve, data, 75)
		assert.Equal(t, "EUR: 450K BOE, grade: B. Confidence: 75%.", got)
	})

	t.Run("risk", func(t *testing.T) {
		t.Parallel()
		data := map[string]any{
			"riskAssessment": map[string]any{"overallRiskScore": 35.0},
		}
		got := Summarize(DomainRisk, data, 80)
		assert.Equal(t, "Overall risk score: 35/100. Confidence: 80%.", got)
	})

	t.Run("default", func(t *testing.T) {
		t.Parallel()
		got := Summarize(DomainNone, nil, 0)
		assert.Equal(t, "Analysis complete. Confidence: 0%.", got)
	})

	t.Run("missing fields render fallbacks", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t,
			"Unknown reservoir quality. Recommended action: unknown. Confidence: 10%.",
			Summarize(DomainGeological, map[string]any{}, 10))
		assert.Equal(t,
			"NPV: $N/AM, IRR: N/A%. Confidence: 0%.",
			Summarize(DomainEconomic, map[string]any{}, 0))
		assert.Equal(t,
			"EUR: N/AK BOE, grade: unknown. Confidence: 0%.",
			Summarize(DomainCurve, map[string]any{}, 0))
		assert.Equal(t,
			"Overall risk score: N/A/100. Confidence: 0%.",
			Summarize(DomainRisk, map[string]any{}, 0))
	})
}

func TestExtractConfidencePrecedence(t *testing.T) {
	t.Parallel()

	explicit := 91.0
	assert.Equal(t, 91.0, extractConfidence(map[string]any{"confidence": 10.0}, &explicit))
	assert.Equal(t, 82.0, extractConfidence(map[string]any{"confidence": 82.0}, nil))
	assert.Equal(t, 64.0, extractConfidence(map[string]any{
		"riskAssessment": map[string]any{"confidence": 64.0},
	}, nil))
	assert.Equal(t, 0.0, extractConfidence(map[string]any{"other": "x"}, nil))
	assert.Equal(t, 0.0, extractConfidence("not an object", nil))
	assert.Equal(t, 55.0, extractConfidence(map[string]any{"confidence": 55}, nil))
}

func TestFailureEnvelope(t *testing.T) {
	t.Parallel()

	detail := ErrorDetail{
		Type:          ErrorAuthRequired,
		Message:       "missing permission write:reports",
		RecoverySteps: []string{"escalate role"},
	}
	env := Failure(detail, Options{Server: "reporter", DetailLevel: DetailSummary})

	require.False(t, env.Success)
	assert.Equal(t, "Access denied: missing permission write:reports.", env.Summary)
	assert.Zero(t, env.Confidence)
	assert.Zero(t, env.Completeness)
	require.NotNil(t, env.Error)
	assert.Equal(t, ErrorAuthRequired, env.Error.Type)
	assert.Equal(t, DetailSummary, env.DetailLevel)
	assert.NotEmpty(t, env.Metadata.Timestamp)
}

func TestParseHelpers(t *testing.T) {
	t.Parallel()

	lvl, ok := ParseDetailLevel(" Standard ")
	require.True(t, ok)
	assert.Equal(t, DetailStandard, lvl)
	_, ok = ParseDetailLevel("verbose")
	assert.False(t, ok)

	et, ok := ParseErrorType("AUTH_REQUIRED")
	require.True(t, ok)
	assert.Equal(t, ErrorAuthRequired, et)
	_, ok = ParseErrorType("fatal")
	assert.False(t, ok)
}
