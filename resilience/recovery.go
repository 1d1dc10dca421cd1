package resilience

import (
	"fmt"
	"strings"
	"time"

	"github.com/shale-yeah/kernel/shape"
)

// RecoveryGuide packages everything an agent needs to recover from a failed
// tool call.
type RecoveryGuide struct {
	// Type is the failure classification.
	Type shape.ErrorType `json:"type"`
	// Reason explains the classification in plain language.
	Reason string `json:"reason"`
	// Steps lists ordered remediation steps personalized with the server.
	Steps []string `json:"steps"`
	// AlternativeTools names tools with overlapping capabilities.
	AlternativeTools []string `json:"alternativeTools"`
	// RetryAfterMs suggests a backoff before retrying, retryable only.
	RetryAfterMs int64 `json:"retryAfterMs,omitempty"`
}

// alternativeTools maps each server to tools whose capabilities overlap
// enough to stand in when the server is down. Servers with no meaningful
// substitute carry empty lists.
var alternativeTools = map[string][]string{
	"geowiz":         {"research.analyze"},
	"econobot":       {"market.analyze", "research.analyze"},
	"curve-smith":    {"econobot.analyze"},
	"risk-analysis":  {"research.analyze", "econobot.analyze"},
	"market":         {"econobot.analyze", "research.analyze"},
	"legal":          {"title.analyze", "research.analyze"},
	"title":          {"legal.analyze"},
	"drilling":       {"curve-smith.analyze", "geowiz.analyze"},
	"infrastructure": {"development.analyze", "market.analyze"},
	"development":    {"infrastructure.analyze", "econobot.analyze"},
	"research":       {"market.analyze"},
	"test":           {},
	"reporter":       {},
	"decision":       {"research.analyze"},
}

// BuildRecoveryGuide classifies the message and assembles the full guide for
// the named tool.
func BuildRecoveryGuide(message, toolName string) RecoveryGuide {
	return buildGuide(Classify(message), message, toolName)
}

// ClassifyDetail enriches an error detail in place: it classifies the
// message when the type is missing or unknown and fills reason, recovery
// steps, alternatives and retry delay without overwriting values already
// present.
func ClassifyDetail(detail *shape.ErrorDetail, toolName string) {
	if detail == nil {
		return
	}
	if !detail.Type.Valid() {
		detail.Type = Classify(detail.Message)
	}
	guide := buildGuide(detail.Type, detail.Message, toolName)
	if detail.Reason == "" {
		detail.Reason = guide.Reason
	}
	if len(detail.RecoverySteps) == 0 {
		detail.RecoverySteps = guide.Steps
	}
	if len(detail.AlternativeTools) == 0 {
		detail.AlternativeTools = guide.AlternativeTools
	}
	if detail.RetryAfterMs == 0 {
		detail.RetryAfterMs = guide.RetryAfterMs
	}
}

// AlternativesFor returns the alternative tools registered for the server
// owning the given tool name. Bare server names work too.
func AlternativesFor(toolName string) []string {
	alts := alternativeTools[serverOf(toolName)]
	out := make([]string, len(alts))
	copy(out, alts)
	return out
}

func buildGuide(kind shape.ErrorType, message, toolName string) RecoveryGuide {
	server := serverOf(toolName)
	guide := RecoveryGuide{
		Type:             kind,
		Reason:           reasonFor(kind),
		Steps:            recoverySteps(kind, server),
		AlternativeTools: AlternativesFor(toolName),
	}
	if kind == shape.ErrorRetryable {
		guide.RetryAfterMs = SuggestRetryDelay(message, time.Second).Milliseconds()
	}
	return guide
}

func reasonFor(kind shape.ErrorType) string {
	switch kind {
	case shape.ErrorAuthRequired:
		return "The call lacks valid credentials or permissions."
	case shape.ErrorUserAction:
		return "Required inputs are missing; a human needs to supply them."
	case shape.ErrorPermanent:
		return "The request was rejected as invalid; retrying unchanged will fail again."
	default:
		return "A transient failure interrupted the call; it should clear on retry."
	}
}

func recoverySteps(kind shape.ErrorType, server string) []string {
	if server == "" {
		server = "the server"
	}
	switch kind {
	case shape.ErrorAuthRequired:
		return []string{
			fmt.Sprintf("Verify the API key or credentials configured for %s.", server),
			"Confirm your role grants the required permissions.",
			"Re-authenticate and retry the call.",
		}
	case shape.ErrorUserAction:
		return []string{
			"Provide the missing input or file named in the error.",
			fmt.Sprintf("Check the supplied data against the %s input requirements.", server),
			"Retry once the inputs are in place.",
		}
	case shape.ErrorPermanent:
		return []string{
			"Review the request arguments for invalid or unsupported values.",
			fmt.Sprintf("Consult the %s tool description for the expected inputs.", server),
			"Correct the request before retrying; retrying unchanged will fail.",
		}
	default:
		return []string{
			"Wait for the suggested delay, then retry the call.",
			fmt.Sprintf("If %s remains unavailable, consider alternative tools.", server),
			"Reduce request size or rate if the error mentions limits.",
		}
	}
}

func serverOf(toolName string) string {
	if i := strings.IndexByte(toolName, '.'); i >= 0 {
		return toolName[:i]
	}
	return toolName
}
