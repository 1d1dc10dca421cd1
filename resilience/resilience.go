// Package resilience classifies worker failures and generates recovery
// guidance. Classification drives the executor's retry decisions; guides are
// attached to failure envelopes so the calling agent can recover without
// guessing. Pattern tables are data so tuning them never touches control
// flow.
package resilience

import (
	"regexp"
	"time"

	"github.com/shale-yeah/kernel/shape"
)

// classificationRules orders the pattern tables by priority; the first
// matching table wins. Messages matching nothing default to retryable.
var classificationRules = []struct {
	kind     shape.ErrorType
	patterns []*regexp.Regexp
}{
	{shape.ErrorAuthRequired, compileAll(
		`unauthorized`,
		`forbidden`,
		`401`,
		`403`,
		`api.?key`,
		`authentication`,
		`credentials`,
		`access.?denied`,
		`permission`,
		`token.?expired`,
	)},
	{shape.ErrorUserAction, compileAll(
		`file.?not.?found`,
		`ENOENT`,
		`missing.?(data|file|input)`,
		`no.?data`,
		`not.?provided`,
		`upload`,
		`please.?provide`,
	)},
	{shape.ErrorRetryable, compileAll(
		`rate.?limit|429|too many requests`,
		`timeout|timed?\s*out|ETIMEDOUT`,
		`ECONNRESET|ECONNREFUSED|ECONNABORTED|ENOTFOUND|ENETUNREACH|socket hang up`,
		`network`,
		`temporarily unavailable|service unavailable|503|502|504`,
		`retry`,
	)},
	{shape.ErrorPermanent, compileAll(
		`invalid|validation|schema|malformed|unsupported|not.?found|does.?not.?exist|unknown.?tool|400`,
	)},
}

var (
	rateLimitPattern = regexp.MustCompile(`(?i)rate.?limit|429|too many requests`)
	timeoutPattern   = regexp.MustCompile(`(?i)timeout|timed?\s*out|ETIMEDOUT`)
)

func compileAll(patterns ...string) []*regexp.Regexp {
	res := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		res[i] = regexp.MustCompile(`(?i)` + p)
	}
	return res
}

// Classify maps an error message to its failure type. The first matching
// pattern table wins; unmatched messages classify as retryable so transient
// unknowns get a second chance.
func Classify(message string) shape.ErrorType {
	for _, rule := range classificationRules {
		for _, re := range rule.patterns {
			if re.MatchString(message) {
				return rule.kind
			}
		}
	}
	return shape.ErrorRetryable
}

// SuggestRetryDelay returns the backoff base for a failure message:
// five times the base for rate-limit style errors, twice for timeouts and
// the base itself otherwise. With the default one second base this yields
// the 5s/2s/1s ladder.
func SuggestRetryDelay(message string, base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	switch {
	case rateLimitPattern.MatchString(message):
		return 5 * base
	case timeoutPattern.MatchString(message):
		return 2 * base
	default:
		return base
	}
}
