// Package audit records an append-only JSON-lines trail of tool activity.
// One file per UTC date; each line is a self-contained entry. Audit never
// fails visibly: write errors are counted and swallowed so a full disk or a
// bad path cannot break analysis execution.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/shale-yeah/kernel/telemetry"
)

// timestampLayout renders ISO-8601 timestamps with millisecond precision.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// DefaultDir is where audit files land unless configured otherwise.
const DefaultDir = "data/audit"

// sensitiveKey matches parameter names whose values must never be persisted.
var sensitiveKey = regexp.MustCompile(`(?i)key|token|secret|password|credential|auth|bearer|api.?key`)

// Action identifies the lifecycle stage an audit entry records.
type Action string

const (
	// ActionRequest is written before a tool executes.
	ActionRequest Action = "request"
	// ActionResponse is written after a tool returns successfully.
	ActionResponse Action = "response"
	// ActionError is written after a tool fails.
	ActionError Action = "error"
	// ActionDenied is written when auth rejects a call.
	ActionDenied Action = "denied"
)

// Entry is one audit line. Parameters are stored redacted.
type Entry struct {
	// Tool is the fully qualified tool name.
	Tool string `json:"tool"`
	// Action is the lifecycle stage.
	Action Action `json:"action"`
	// Parameters are the call args after redaction.
	Parameters map[string]any `json:"parameters"`
	// UserID identifies the caller.
	UserID string `json:"userId"`
	// SessionID identifies the session, empty for sessionless calls.
	SessionID string `json:"sessionId"`
	// Role is the caller's role at call time.
	Role string `json:"role"`
	// Timestamp is the ISO-8601 entry time with milliseconds.
	Timestamp string `json:"timestamp"`
	// Success reports the outcome on response entries.
	Success *bool `json:"success,omitempty"`
	// DurationMs is the call duration on response and error entries.
	DurationMs *int64 `json:"durationMs,omitempty"`
	// ErrorType is the classified failure type when known.
	ErrorType string `json:"errorType,omitempty"`
}

// Trail appends entries to per-day JSON-lines files. Safe for concurrent
// use; each entry is written with a single newline-terminated write.
type Trail struct {
	mu      sync.Mutex
	enabled bool
	dir     string
	clock   func() time.Time
	logger  telemetry.Logger
	metrics telemetry.Metrics
}

// TrailOption configures a Trail.
type TrailOption func(*Trail)

// WithLogger installs a logger used for dropped-write diagnostics.
func WithLogger(logger telemetry.Logger) TrailOption {
	return func(t *Trail) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithMetrics installs a metrics recorder for the dropped-write counter.
func WithMetrics(metrics telemetry.Metrics) TrailOption {
	return func(t *Trail) {
		if metrics != nil {
			t.metrics = metrics
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) TrailOption {
	return func(t *Trail) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// NewTrail creates a trail writing under dir. A disabled trail turns every
// method into a no-op and reads return nothing.
func NewTrail(enabled bool, dir string, opts ...TrailOption) *Trail {
	if dir == "" {
		dir = DefaultDir
	}
	t := &Trail{
		enabled: enabled,
		dir:     dir,
		clock:   time.Now,
		logger:  telemetry.NewNoopLogger(),
		metrics: telemetry.NewNoopMetrics(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Enabled reports whether the trail persists entries.
func (t *Trail) Enabled() bool { return t.enabled }

// Dir returns the directory audit files are written to.
func (t *Trail) Dir() string { return t.dir }

// BuildEntry assembles an entry with redacted parameters and a current
// timestamp.
func (t *Trail) BuildEntry(tool string, action Action, params map[string]any, userID, sessionID, role string) Entry {
	return Entry{
		Tool:       tool,
		Action:     action,
		Parameters: RedactSensitive(params),
		UserID:     userID,
		SessionID:  sessionID,
		Role:       role,
		Timestamp:  t.clock().UTC().Format(timestampLayout),
	}
}

// LogRequest records that a tool is about to execute.
func (t *Trail) LogRequest(e Entry) {
	e.Action = ActionRequest
	t.write(e)
}

// LogResponse records a completed tool call.
func (t *Trail) LogResponse(e Entry) {
	e.Action = ActionResponse
	t.write(e)
}

// LogError records a failed tool call.
func (t *Trail) LogError(e Entry) {
	e.Action = ActionError
	t.write(e)
}

// LogDenial records an auth rejection.
func (t *Trail) LogDenial(e Entry) {
	e.Action = ActionDenied
	t.write(e)
}

// Entries reads back the entries for the given calendar day (UTC). Malformed
// lines are skipped. A disabled trail returns nil.
func (t *Trail) Entries(date time.Time) []Entry {
	if !t.enabled {
		return nil
	}
	f, err := os.Open(t.fileFor(date))
	if err != nil {
		return nil
	}
	defer f.Close()

	var out []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (t *Trail) write(e Entry) {
	if !t.enabled {
		return
	}
	if e.Timestamp == "" {
		e.Timestamp = t.clock().UTC().Format(timestampLayout)
	}
	line, err := json.Marshal(e)
	if err != nil {
		t.drop(err)
		return
	}
	line = append(line, '\n')

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		t.drop(err)
		return
	}
	f, err := os.OpenFile(t.fileFor(t.clock()), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		t.drop(err)
		return
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		t.drop(err)
	}
}

func (t *Trail) drop(err error) {
	t.logger.Debug(context.Background(), "audit write dropped", "error", err.Error())
	t.metrics.IncCounter("kernel.audit_dropped_writes", 1)
}

func (t *Trail) fileFor(date time.Time) string {
	return filepath.Join(t.dir, date.UTC().Format("2006-01-02")+".jsonl")
}

// RedactSensitive returns a copy of params with values of sensitive keys
// replaced by "[REDACTED]". Nested objects are recursed; arrays are left
// alone. The input is never mutated.
func RedactSensitive(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		if sensitiveKey.MatchString(k) {
			out[k] = "[REDACTED]"
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = RedactSensitive(nested)
			continue
		}
		out[k] = v
	}
	return out
}
