package shape

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Domain tags the analysis family detected in a raw payload. The shaper
// branches on the tag; no reflection over payload structure beyond key
// inspection.
type Domain string

const (
	DomainGeological Domain = "geological"
	DomainEconomic   Domain = "economic"
	DomainCurve      Domain = "curve"
	DomainRisk       Domain = "risk"
	DomainMarket     Domain = "market"
	DomainGIS        Domain = "gis"
	DomainNone       Domain = ""
)

// domainOrder fixes detection precedence when a payload matches several
// domains.
var domainOrder = []Domain{
	DomainGeological,
	DomainEconomic,
	DomainCurve,
	DomainRisk,
	DomainMarket,
	DomainGIS,
}

// verboseKeys are stripped from standard-detail payloads at every depth.
var verboseKeys = map[string]struct{}{
	"sensitivityAnalysis": {},
	"monteCarloResults":   {},
	"rawData":             {},
	"depthData":           {},
	"curveData":           {},
}

// summaryFields maps each domain to the payload paths kept at summary
// detail. Paths are dotted; the last segment becomes the output key.
var summaryFields = map[Domain][]string{
	DomainGeological: {
		"formationQuality.reservoirQuality",
		"formationQuality.hydrocarbonPotential",
		"investmentPerspective.recommendedAction",
		"investmentPerspective.geologicalConfidence",
		"professionalSummary",
	},
	DomainEconomic: {
		"economicSummary.npv",
		"economicSummary.irr",
		"economicSummary.paybackMonths",
		"investmentRecommendation.decision",
		"investmentRecommendation.rationale",
	},
	DomainCurve: {
		"curveAnalysis.eur",
		"curveAnalysis.declineRate",
		"qualityMetrics.qualityGrade",
		"professionalAssessment",
	},
	DomainRisk: {
		"riskAssessment.overallRiskScore",
		"riskAssessment.riskGrade",
		"mitigationStrategies",
		"investmentGuidance.recommendation",
	},
	DomainMarket: {
		"marketOutlook.trend",
		"priceForecasts.oil",
		"marketSummary",
	},
	DomainGIS: {
		"spatialAnalysis.acreage",
		"boundaries.tractCount",
		"gisSummary",
	},
}

// Shape reduces a raw worker payload to the requested detail level and wraps
// it in a success envelope with summary, confidence and metadata.
func Shape(raw any, opts Options) Envelope {
	level := opts.DetailLevel
	if !level.Valid() {
		level = DetailStandard
	}
	conf := extractConfidence(raw, opts.Confidence)

	payload, _ := raw.(map[string]any)
	domain := DetectDomain(payload)

	var data any
	switch {
	case payload == nil:
		data = raw
	case level == DetailFull:
		data = raw
	case level == DetailSummary:
		data = extractSummary(payload, domain)
	default:
		data = stripVerbose(payload)
	}

	return Envelope{
		Success:      true,
		Summary:      Summarize(domain, payload, conf),
		Confidence:   conf,
		Data:         data,
		DetailLevel:  level,
		Completeness: 100,
		Metadata:     newMetadata(opts),
	}
}

// DetectDomain inspects top-level keys in precedence order and returns the
// first domain whose name matches a key exactly or as a prefix. A payload
// holding economicSummary therefore detects as economic.
func DetectDomain(data map[string]any) Domain {
	if len(data) == 0 {
		return DomainNone
	}
	for _, domain := range domainOrder {
		name := string(domain)
		if _, ok := data[name]; ok {
			return domain
		}
		for key := range data {
			if strings.HasPrefix(key, name) {
				return domain
			}
		}
	}
	return DomainNone
}

// Summarize renders the domain-specific one- or two-sentence digest.
// Missing fields render as N/A or unknown depending on the template slot.
func Summarize(domain Domain, data map[string]any, confidence float64) string {
	pct := int(math.Round(confidence))
	switch domain {
	case DomainGeological:
		quality := stringAt(data, "formationQuality.reservoirQuality", "unknown")
		action := stringAt(data, "investmentPerspective.recommendedAction", "unknown")
		return fmt.Sprintf("%s reservoir quality. Recommended action: %s. Confidence: %d%%.",
			capitalize(quality), action, pct)
	case DomainEconomic:
		npv := "N/A"
		if v, ok := numberAt(data, "economicSummary.npv"); ok {
			npv = fmt.Sprintf("%.1f", v/1e6)
		}
		irr := "N/A"
		if v, ok := numberAt(data, "economicSummary.irr"); ok {
			irr = formatNumber(v)
		}
		return fmt.Sprintf("NPV: $%sM, IRR: %s%%. Confidence: %d%%.", npv, irr, pct)
	case DomainCurve:
		eur := "N/A"
		if v, ok := numberAt(data, "curveAnalysis.eur.oil"); ok {
			eur = fmt.Sprintf("%.0f", v/1000)
		}
		grade := stringAt(data, "qualityMetrics.qualityGrade", "unknown")
		return fmt.Sprintf("EUR: %sK BOE, grade: %s. Confidence: %d%%.", eur, grade, pct)
	case DomainRisk:
		score := "N/A"
		if v, ok := numberAt(data, "riskAssessment.overallRiskScore"); ok {
			score = formatNumber(v)
		}
		return fmt.Sprintf("Overall risk score: %s/100. Confidence: %d%%.", score, pct)
	default:
		return fmt.Sprintf("Analysis complete. Confidence: %d%%.", pct)
	}
}

// stripVerbose deep-copies the payload with verbose keys removed at every
// depth, including objects nested inside arrays.
func stripVerbose(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if _, verbose := verboseKeys[k]; verbose {
			continue
		}
		out[k] = stripValue(v)
	}
	return out
}

func stripValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return stripVerbose(tv)
	case []any:
		out := make([]any, len(tv))
		for i, item := range tv {
			out[i] = stripValue(item)
		}
		return out
	default:
		return v
	}
}

// extractSummary keeps only the domain's summary fields, flattening nested
// paths so the last segment becomes the key. Domains without rules keep
// their first three keys in lexical order. A top-level confidence field is
// always preserved.
func extractSummary(data map[string]any, domain Domain) map[string]any {
	out := make(map[string]any)
	paths := summaryFields[domain]
	if len(paths) == 0 {
		keys := make([]string, 0, len(data))
		for k := range data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if len(keys) > 3 {
			keys = keys[:3]
		}
		for _, k := range keys {
			out[k] = data[k]
		}
	} else {
		for _, path := range paths {
			v, ok := lookupPath(data, path)
			if !ok {
				continue
			}
			segs := strings.Split(path, ".")
			out[segs[len(segs)-1]] = v
		}
	}
	if v, ok := data["confidence"]; ok {
		out["confidence"] = v
	}
	return out
}

// extractConfidence prefers an explicit figure, then a top-level confidence
// number, then one a single level deep inside any object value, then zero.
func extractConfidence(raw any, explicit *float64) float64 {
	if explicit != nil {
		return *explicit
	}
	data, ok := raw.(map[string]any)
	if !ok {
		return 0
	}
	if v, ok := toNumber(data["confidence"]); ok {
		return v
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		nested, ok := data[k].(map[string]any)
		if !ok {
			continue
		}
		if v, ok := toNumber(nested["confidence"]); ok {
			return v
		}
	}
	return 0
}

// lookupPath walks a dotted path through nested objects.
func lookupPath(data map[string]any, path string) (any, bool) {
	cur := any(data)
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func stringAt(data map[string]any, path, fallback string) string {
	v, ok := lookupPath(data, path)
	if !ok {
		return fallback
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return fallback
	}
	return s
}

func numberAt(data map[string]any, path string) (float64, bool) {
	v, ok := lookupPath(data, path)
	if !ok {
		return 0, false
	}
	return toNumber(v)
}

func toNumber(v any) (float64, bool) {
	switch tv := v.(type) {
	case float64:
		return tv, true
	case float32:
		return float64(tv), true
	case int:
		return float64(tv), true
	case int64:
		return float64(tv), true
	case json.Number:
		f, err := tv.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// formatNumber renders a float with the fewest digits that round-trip.
func formatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%g", v)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
