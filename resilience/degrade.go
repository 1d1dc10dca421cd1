package resilience

import (
	"fmt"
	"math"
	"strings"

	"github.com/shale-yeah/kernel/shape"
)

// DefaultMinCompleteness is the completeness ratio below which a partial
// result set is not considered useful.
const DefaultMinCompleteness = 0.5

// DegradedResponse summarizes a partial result set so the agent can decide
// whether sufficient analysis coverage remains.
type DegradedResponse struct {
	// Successful holds the envelopes that completed, keyed by tool.
	Successful map[string]shape.Envelope `json:"successful"`
	// Missing lists expected tools that failed or never ran.
	Missing []string `json:"missing"`
	// Completeness is successful coverage of the expected set, 0-100.
	Completeness float64 `json:"completeness"`
	// Useful reports whether completeness met the minimum ratio.
	Useful bool `json:"useful"`
	// Suggestions advises the agent on next moves.
	Suggestions []string `json:"suggestions"`
}

// HandleDegradation partitions results into completed envelopes and missing
// tools against the expected set. minCompleteness is a 0-1 ratio; values
// outside that range fall back to the default.
func HandleDegradation(results map[string]shape.Envelope, expectedTools []string, minCompleteness float64) DegradedResponse {
	if minCompleteness <= 0 || minCompleteness > 1 {
		minCompleteness = DefaultMinCompleteness
	}

	successful := make(map[string]shape.Envelope, len(results))
	var missing []string
	for _, tool := range expectedTools {
		env, ok := results[tool]
		if ok && env.Success {
			successful[tool] = env
			continue
		}
		missing = append(missing, tool)
	}

	completeness := 100.0
	if len(expectedTools) > 0 {
		completeness = math.Round(float64(len(successful)) / float64(len(expectedTools)) * 100)
	}
	useful := completeness >= minCompleteness*100

	suggestions := make([]string, 0, len(missing)+1)
	if useful {
		suggestions = append(suggestions,
			fmt.Sprintf("Partial results cover %.0f%% of the expected analyses and may be sufficient.", completeness))
	} else {
		suggestions = append(suggestions,
			"Less than the required coverage completed; retry the missing analyses before relying on this result.")
	}
	for _, tool := range missing {
		if alts := AlternativesFor(tool); len(alts) > 0 {
			suggestions = append(suggestions,
				fmt.Sprintf("For %s, consider: %s.", tool, strings.Join(alts, ", ")))
		}
	}

	return DegradedResponse{
		Successful:   successful,
		Missing:      missing,
		Completeness: completeness,
		Useful:       useful,
		Suggestions:  suggestions,
	}
}
