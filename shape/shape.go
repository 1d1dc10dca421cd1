// Package shape defines the response contracts shared across the kernel and
// transforms raw worker payloads into the standardized envelope returned for
// every call. Workers reply with loosely structured JSON; the shaper reduces
// it to the requested detail level, derives a short natural language summary
// and extracts a confidence figure.
package shape

import (
	"fmt"
	"strings"
	"time"
)

// timestampLayout renders ISO-8601 timestamps with millisecond precision.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// DetailLevel selects how much of the raw worker payload survives shaping.
type DetailLevel string

const (
	// DetailSummary keeps only the domain's summary fields.
	DetailSummary DetailLevel = "summary"
	// DetailStandard strips verbose keys and keeps the rest.
	DetailStandard DetailLevel = "standard"
	// DetailFull returns the raw payload unchanged.
	DetailFull DetailLevel = "full"
)

// ParseDetailLevel parses a detail level string. The second return is false
// for unknown values.
func ParseDetailLevel(s string) (DetailLevel, bool) {
	switch DetailLevel(strings.ToLower(strings.TrimSpace(s))) {
	case DetailSummary:
		return DetailSummary, true
	case DetailStandard:
		return DetailStandard, true
	case DetailFull:
		return DetailFull, true
	default:
		return "", false
	}
}

// Valid reports whether the detail level is one of the three known values.
func (d DetailLevel) Valid() bool {
	switch d {
	case DetailSummary, DetailStandard, DetailFull:
		return true
	default:
		return false
	}
}

// ErrorType classifies a failure for recovery purposes.
type ErrorType string

const (
	// ErrorRetryable marks transient failures worth retrying with backoff.
	ErrorRetryable ErrorType = "retryable"
	// ErrorPermanent marks failures that will not clear on retry.
	ErrorPermanent ErrorType = "permanent"
	// ErrorAuthRequired marks missing credentials or permissions.
	ErrorAuthRequired ErrorType = "auth_required"
	// ErrorUserAction marks failures that need human-supplied inputs.
	ErrorUserAction ErrorType = "user_action"
)

// ParseErrorType parses an error type string. The second return is false for
// unknown values.
func ParseErrorType(s string) (ErrorType, bool) {
	switch ErrorType(strings.ToLower(strings.TrimSpace(s))) {
	case ErrorRetryable:
		return ErrorRetryable, true
	case ErrorPermanent:
		return ErrorPermanent, true
	case ErrorAuthRequired:
		return ErrorAuthRequired, true
	case ErrorUserAction:
		return ErrorUserAction, true
	default:
		return "", false
	}
}

// Valid reports whether the error type is one of the four known values.
func (t ErrorType) Valid() bool {
	switch t {
	case ErrorRetryable, ErrorPermanent, ErrorAuthRequired, ErrorUserAction:
		return true
	default:
		return false
	}
}

type (
	// Envelope is the standardized response returned for every kernel call,
	// successful or not.
	Envelope struct {
		// Success reports whether the call produced a usable result.
		Success bool `json:"success"`
		// Summary is a one- or two-sentence natural language digest.
		Summary string `json:"summary"`
		// Confidence is the worker-reported confidence, 0-100.
		Confidence float64 `json:"confidence"`
		// Data is the shaped payload at the requested detail level.
		Data any `json:"data,omitempty"`
		// DetailLevel is the level actually applied.
		DetailLevel DetailLevel `json:"detailLevel"`
		// Completeness is the percentage of expected analyses present, 0-100.
		Completeness float64 `json:"completeness"`
		// MissingAnalyses lists sub-analyses that did not complete.
		MissingAnalyses []string `json:"missingAnalyses,omitempty"`
		// Degraded flags responses assembled from partial results.
		Degraded bool `json:"degraded,omitempty"`
		// Metadata carries execution details.
		Metadata Metadata `json:"metadata"`
		// Error describes the failure when Success is false.
		Error *ErrorDetail `json:"error,omitempty"`
	}

	// Metadata carries execution details attached to every envelope.
	Metadata struct {
		// Server is the worker that handled the call.
		Server string `json:"server,omitempty"`
		// Persona is the worker's persona label.
		Persona string `json:"persona,omitempty"`
		// ExecutionTimeMs is the wall-clock duration of the call.
		ExecutionTimeMs int64 `json:"executionTimeMs"`
		// Timestamp is the ISO-8601 completion time with milliseconds.
		Timestamp string `json:"timestamp"`
		// IdempotencyKey is the deterministic request digest, when derived.
		IdempotencyKey string `json:"idempotencyKey,omitempty"`
		// RetryAttempts counts retries performed beyond the first attempt.
		RetryAttempts int `json:"retryAttempts,omitempty"`
		// TotalRetryDelayMs sums the backoff slept across retries.
		TotalRetryDelayMs int64 `json:"totalRetryDelayMs,omitempty"`
	}

	// ErrorDetail describes a classified failure with recovery guidance.
	ErrorDetail struct {
		// Type is the failure classification.
		Type ErrorType `json:"type"`
		// Message is the underlying error text.
		Message string `json:"message"`
		// Reason is an optional human explanation.
		Reason string `json:"reason,omitempty"`
		// RecoverySteps lists ordered remediation steps.
		RecoverySteps []string `json:"recoverySteps,omitempty"`
		// AlternativeTools names tools with overlapping capabilities.
		AlternativeTools []string `json:"alternativeTools,omitempty"`
		// RetryAfterMs suggests how long to wait before retrying.
		RetryAfterMs int64 `json:"retryAfterMs,omitempty"`
	}

	// WireResult is the raw worker reply crossing the transport boundary.
	// Success is the only required field.
	WireResult struct {
		// Success reports whether the worker completed the analysis.
		Success bool `json:"success"`
		// Data is the raw analysis payload.
		Data any `json:"data,omitempty"`
		// Confidence optionally reports the worker's confidence, 0-100.
		Confidence *float64 `json:"confidence,omitempty"`
		// Metadata carries worker-specific extras, opaque to the kernel.
		Metadata map[string]any `json:"metadata,omitempty"`
		// Error describes the failure when Success is false.
		Error *WireError `json:"error,omitempty"`
	}

	// WireError is the failure detail a worker may attach to a reply.
	WireError struct {
		// Type optionally pre-classifies the failure.
		Type string `json:"type,omitempty"`
		// Message is the worker's error text.
		Message string `json:"message,omitempty"`
	}

	// Options parameterizes shaping.
	Options struct {
		// DetailLevel requested by the caller; defaults to standard.
		DetailLevel DetailLevel
		// Server is the worker name recorded in metadata.
		Server string
		// Persona is the worker persona recorded in metadata.
		Persona string
		// ExecutionTimeMs is the measured call duration.
		ExecutionTimeMs int64
		// Confidence overrides extraction when set.
		Confidence *float64
		// Timestamp pins the metadata timestamp; zero means now.
		Timestamp time.Time
	}
)

// NewMetadata builds envelope metadata from shaping options. Useful for
// envelopes assembled outside the shaper, such as confirmation gates.
func NewMetadata(opts Options) Metadata {
	return newMetadata(opts)
}

// Failure builds a failure envelope around a classified error detail.
func Failure(detail ErrorDetail, opts Options) Envelope {
	level := opts.DetailLevel
	if !level.Valid() {
		level = DetailStandard
	}
	return Envelope{
		Success:     false,
		Summary:     failureSummary(detail),
		Confidence:  0,
		DetailLevel: level,
		Metadata:    newMetadata(opts),
		Error:       &detail,
	}
}

func failureSummary(detail ErrorDetail) string {
	msg := strings.TrimSuffix(strings.TrimSpace(detail.Message), ".")
	switch detail.Type {
	case ErrorAuthRequired:
		return fmt.Sprintf("Access denied: %s.", msg)
	case ErrorUserAction:
		return fmt.Sprintf("Action needed: %s.", msg)
	case ErrorRetryable:
		return fmt.Sprintf("Temporary failure: %s.", msg)
	default:
		return fmt.Sprintf("Analysis failed: %s.", msg)
	}
}

func newMetadata(opts Options) Metadata {
	ts := opts.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return Metadata{
		Server:          opts.Server,
		Persona:         opts.Persona,
		ExecutionTimeMs: opts.ExecutionTimeMs,
		Timestamp:       ts.UTC().Format(timestampLayout),
	}
}
