// Package executor runs tool calls against the injected transport. It owns
// the retry loop, per-call timeouts, scatter-gather batching, bundled
// workflows, idempotency caching and the confirmation gate. Every public
// method returns a well-formed envelope; the executor never panics or
// returns errors across its surface on worker failure.
package executor

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/shale-yeah/kernel/registry"
	"github.com/shale-yeah/kernel/resilience"
	"github.com/shale-yeah/kernel/shape"
	"github.com/shale-yeah/kernel/telemetry"
)

type (
	// TransportFunc is the single coupling to the tool protocol. It invokes
	// a tool on the named server and returns the worker's raw reply. A
	// non-nil error means the transport itself failed; worker-reported
	// failures arrive as WireResult with Success false.
	TransportFunc func(ctx context.Context, server string, args map[string]any) (shape.WireResult, error)

	// Directory resolves tool references and validates call args.
	// *registry.Registry satisfies it.
	Directory interface {
		ResolveTool(toolName string) (registry.ToolDescriptor, bool)
		ValidateArgs(toolName string, args map[string]any) error
	}

	// ToolRequest describes one tool invocation.
	ToolRequest struct {
		// Tool is the tool reference: fully qualified, bare server, or
		// prefix.
		Tool string `json:"tool"`
		// Args are the call arguments.
		Args map[string]any `json:"args,omitempty"`
		// SessionID scopes the idempotency key.
		SessionID string `json:"sessionId,omitempty"`
		// DetailLevel overrides the configured default.
		DetailLevel shape.DetailLevel `json:"detailLevel,omitempty"`
		// IdempotencyKey overrides key derivation when supplied.
		IdempotencyKey string `json:"idempotencyKey,omitempty"`
	}

	// FailureDetail pairs a failed tool with its classified error and a
	// recovery guide.
	FailureDetail struct {
		// ToolName is the requested tool.
		ToolName string `json:"toolName"`
		// Error is the classified failure from the envelope.
		Error shape.ErrorDetail `json:"error"`
		// RecoveryGuide suggests remediation and alternatives.
		RecoveryGuide resilience.RecoveryGuide `json:"recoveryGuide"`
	}

	// ParallelResult aggregates a scatter-gather run.
	ParallelResult struct {
		// Results maps each requested tool name to its envelope.
		Results map[string]shape.Envelope `json:"results"`
		// Completeness is round(successes / total * 100).
		Completeness float64 `json:"completeness"`
		// TotalTimeMs is the wall time for the whole run.
		TotalTimeMs int64 `json:"totalTimeMs"`
		// Failures details every failed request.
		Failures []FailureDetail `json:"failures,omitempty"`
	}

	// Config tunes the executor. Zero values fall back to defaults.
	Config struct {
		// DefaultDetailLevel applies when requests omit one.
		DefaultDetailLevel shape.DetailLevel
		// MaxParallel bounds concurrent transport calls and sets the
		// scatter-gather chunk size.
		MaxParallel int
		// ToolTimeout bounds each transport attempt.
		ToolTimeout time.Duration
		// IdempotencyTTL is how long successful envelopes are replayed for
		// duplicate requests. Zero disables the cache.
		IdempotencyTTL time.Duration
		// MaxRetries bounds retries beyond the first attempt.
		MaxRetries int
		// RetryBackoff is the base backoff scaled by error class and
		// attempt.
		RetryBackoff time.Duration
		// GracefulDegradation attaches partial-result guidance to failed
		// bundles.
		GracefulDegradation bool
		// MinCompleteness is the usefulness threshold for degraded results.
		MinCompleteness float64
	}
)

// DefaultConfig returns the executor defaults.
func DefaultConfig() Config {
	return Config{
		DefaultDetailLevel:  shape.DetailStandard,
		MaxParallel:         6,
		ToolTimeout:         30 * time.Second,
		IdempotencyTTL:      5 * time.Minute,
		MaxRetries:          2,
		RetryBackoff:        time.Second,
		GracefulDegradation: true,
		MinCompleteness:     resilience.DefaultMinCompleteness,
	}
}

func (c Config) normalized() Config {
	if !c.DefaultDetailLevel.Valid() {
		c.DefaultDetailLevel = shape.DetailStandard
	}
	if c.MaxParallel <= 0 {
		c.MaxParallel = 6
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = 30 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
	if c.MinCompleteness <= 0 || c.MinCompleteness > 1 {
		c.MinCompleteness = resilience.DefaultMinCompleteness
	}
	return c
}

// Executor coordinates all tool execution. Safe for concurrent use.
type Executor struct {
	cfg       Config
	directory Directory

	transportMu sync.RWMutex
	transport   TransportFunc

	inflight *semaphore.Weighted

	pendingMu sync.Mutex
	pending   map[string]PendingAction

	cacheMu sync.Mutex
	cache   map[string]cachedResult

	confirmTools map[string]bool

	logger    telemetry.Logger
	metrics   telemetry.Metrics
	tracer    telemetry.Tracer
	clock     func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
	randFloat func() float64
}

type cachedResult struct {
	envelope shape.Envelope
	expires  time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger configures the executor logger. When nil, the executor uses a
// noop logger.
func WithLogger(logger telemetry.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics configures the executor metrics recorder. When nil, the
// executor uses a noop recorder.
func WithMetrics(metrics telemetry.Metrics) Option {
	return func(e *Executor) {
		if metrics != nil {
			e.metrics = metrics
		}
	}
}

// WithTracer configures the executor tracer. When nil, the executor uses a
// noop tracer.
func WithTracer(tracer telemetry.Tracer) Option {
	return func(e *Executor) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithConfirmTools overrides the set of tool names gated behind explicit
// confirmation regardless of descriptor flags.
func WithConfirmTools(names ...string) Option {
	return func(e *Executor) {
		e.confirmTools = make(map[string]bool, len(names))
		for _, n := range names {
			e.confirmTools[n] = true
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Executor) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithSleep overrides backoff sleeping, for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) {
		if sleep != nil {
			e.sleep = sleep
		}
	}
}

// WithRand overrides the jitter source with a function returning values in
// [0, 1), for tests.
func WithRand(randFloat func() float64) Option {
	return func(e *Executor) {
		if randFloat != nil {
			e.randFloat = randFloat
		}
	}
}

// New creates an executor resolving tools through directory. The transport
// is injected later via SetTransport; until then every call fails with a
// permanent error envelope.
func New(directory Directory, cfg Config, opts ...Option) *Executor {
	cfg = cfg.normalized()
	e := &Executor{
		cfg:          cfg,
		directory:    directory,
		inflight:     semaphore.NewWeighted(int64(cfg.MaxParallel)),
		pending:      make(map[string]PendingAction),
		cache:        make(map[string]cachedResult),
		confirmTools: map[string]bool{"decision.analyze": true},
		logger:       telemetry.NewNoopLogger(),
		metrics:      telemetry.NewNoopMetrics(),
		tracer:       telemetry.NewNoopTracer(),
		clock:        time.Now,
		sleep:        sleepContext,
		randFloat:    defaultRand,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// SetTransport injects (or replaces) the transport function.
func (e *Executor) SetTransport(fn TransportFunc) {
	e.transportMu.Lock()
	e.transport = fn
	e.transportMu.Unlock()
}

func (e *Executor) transportFn() TransportFunc {
	e.transportMu.RLock()
	defer e.transportMu.RUnlock()
	return e.transport
}

// Execute runs a single tool call: resolve, merge defaults, validate,
// replay cached duplicates, then invoke the transport with retries and
// backoff. The returned envelope carries retry metadata when retries
// happened.
func (e *Executor) Execute(ctx context.Context, req ToolRequest) shape.Envelope {
	start := e.clock()
	level := req.DetailLevel
	if !level.Valid() {
		level = e.cfg.DefaultDetailLevel
	}

	desc, ok := e.directory.ResolveTool(req.Tool)
	if !ok {
		return e.failure(req.Tool, shape.ErrorDetail{
			Type:    shape.ErrorPermanent,
			Message: fmt.Sprintf("unknown tool %q", req.Tool),
		}, shape.Options{DetailLevel: level, Timestamp: start})
	}

	ctx, span := e.tracer.Start(ctx, "kernel.execute",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("kernel.tool", desc.Name),
			attribute.String("kernel.server", desc.Server),
			attribute.String("kernel.session_id", req.SessionID),
		),
	)
	defer span.End()

	opts := shape.Options{
		DetailLevel: level,
		Server:      desc.Server,
		Persona:     desc.Persona,
		Timestamp:   start,
	}

	transport := e.transportFn()
	if transport == nil {
		span.SetStatus(codes.Error, "no transport")
		return e.failure(desc.Name, shape.ErrorDetail{
			Type:    shape.ErrorPermanent,
			Message: "executor not connected: no transport configured",
		}, opts)
	}

	args := mergeArgs(desc.Defaults, req.Args)
	if err := e.directory.ValidateArgs(desc.Name, args); err != nil {
		span.SetStatus(codes.Error, "invalid arguments")
		return e.failure(desc.Name, shape.ErrorDetail{
			Type:    shape.ErrorPermanent,
			Message: err.Error(),
		}, opts)
	}

	key := req.IdempotencyKey
	if key == "" {
		key = GenerateKey(desc.Name, args, req.SessionID)
	}
	if env, ok := e.cachedEnvelope(key); ok {
		span.AddEvent("kernel.idempotent_replay", "kernel.key", key)
		e.metrics.IncCounter("kernel.idempotent_replays", 1, "tool", desc.Name)
		return env
	}

	var (
		totalDelay time.Duration
		attempts   int
		detail     shape.ErrorDetail
	)
	for attempt := 0; ; attempt++ {
		res, err := e.attempt(ctx, transport, desc.Server, args)
		if err == nil && res.Success {
			now := e.clock()
			opts.ExecutionTimeMs = now.Sub(start).Milliseconds()
			opts.Confidence = res.Confidence
			opts.Timestamp = now
			env := shape.Shape(res.Data, opts)
			env.Metadata.IdempotencyKey = key
			env.Metadata.RetryAttempts = attempt
			env.Metadata.TotalRetryDelayMs = totalDelay.Milliseconds()
			e.storeCached(key, env)
			e.recordCall(ctx, desc.Name, "success", opts.ExecutionTimeMs)
			span.SetStatus(codes.Ok, "ok")
			return env
		}

		detail = e.classifyAttempt(desc.Server, res, err)
		attempts = attempt
		if detail.Type != shape.ErrorRetryable || attempt >= e.cfg.MaxRetries {
			break
		}
		delay := e.backoff(detail.Message, attempt)
		if err := e.sleep(ctx, delay); err != nil {
			break
		}
		totalDelay += delay
	}

	resilience.ClassifyDetail(&detail, desc.Name)
	now := e.clock()
	opts.ExecutionTimeMs = now.Sub(start).Milliseconds()
	opts.Timestamp = now
	env := shape.Failure(detail, opts)
	env.Metadata.IdempotencyKey = key
	env.Metadata.RetryAttempts = attempts
	env.Metadata.TotalRetryDelayMs = totalDelay.Milliseconds()

	e.recordCall(ctx, desc.Name, string(detail.Type), opts.ExecutionTimeMs)
	e.logger.Warn(ctx, "tool call failed",
		"tool", desc.Name, "type", string(detail.Type),
		"attempts", attempts+1, "error", detail.Message)
	span.SetStatus(codes.Error, detail.Message)
	return env
}

// attempt races one transport invocation against the per-call timeout. Late
// results from abandoned attempts are dropped. Panics inside the transport
// surface as permanent errors instead of crashing the kernel.
func (e *Executor) attempt(ctx context.Context, transport TransportFunc, server string, args map[string]any) (shape.WireResult, error) {
	if err := e.inflight.Acquire(ctx, 1); err != nil {
		return shape.WireResult{}, fmt.Errorf("%s call canceled: %w", server, err)
	}
	defer e.inflight.Release(1)

	attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.ToolTimeout)
	defer cancel()

	type outcome struct {
		res shape.WireResult
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: &panicError{val: r}}
			}
		}()
		res, err := transport(attemptCtx, server, args)
		ch <- outcome{res: res, err: err}
	}()

	select {
	case out := <-ch:
		return out.res, out.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return shape.WireResult{}, fmt.Errorf("%s call canceled: %w", server, ctx.Err())
		}
		return shape.WireResult{}, fmt.Errorf("%s call timed out after %dms", server, e.cfg.ToolTimeout.Milliseconds())
	}
}

func (e *Executor) classifyAttempt(server string, res shape.WireResult, err error) shape.ErrorDetail {
	if err != nil {
		if _, isPanic := err.(*panicError); isPanic {
			return shape.ErrorDetail{Type: shape.ErrorPermanent, Message: err.Error()}
		}
		return shape.ErrorDetail{Type: resilience.Classify(err.Error()), Message: err.Error()}
	}
	if res.Error != nil {
		message := res.Error.Message
		if t, ok := shape.ParseErrorType(res.Error.Type); ok {
			return shape.ErrorDetail{Type: t, Message: message}
		}
		return shape.ErrorDetail{Type: resilience.Classify(message), Message: message}
	}
	message := fmt.Sprintf("%s returned failure with no error detail", server)
	return shape.ErrorDetail{Type: resilience.Classify(message), Message: message}
}

// backoff computes the delay before the next attempt: the class-scaled base
// doubled per attempt, plus up to 30% uniform jitter.
func (e *Executor) backoff(message string, attempt int) time.Duration {
	base := resilience.SuggestRetryDelay(message, e.cfg.RetryBackoff)
	delay := base * (1 << attempt)
	jitter := time.Duration(float64(delay) * 0.3 * e.randFloat())
	return delay + jitter
}

func (e *Executor) failure(tool string, detail shape.ErrorDetail, opts shape.Options) shape.Envelope {
	resilience.ClassifyDetail(&detail, tool)
	if opts.Timestamp.IsZero() {
		opts.Timestamp = e.clock()
	}
	env := shape.Failure(detail, opts)
	e.recordCall(context.Background(), tool, string(detail.Type), opts.ExecutionTimeMs)
	return env
}

func (e *Executor) recordCall(ctx context.Context, tool, status string, durationMs int64) {
	e.metrics.IncCounter("kernel.tool_calls", 1, "tool", tool, "status", status)
	e.metrics.RecordTimer("kernel.tool_duration", time.Duration(durationMs)*time.Millisecond, "tool", tool)
	e.logger.Debug(ctx, "tool call finished", "tool", tool, "status", status, "duration_ms", durationMs)
}

func (e *Executor) cachedEnvelope(key string) (shape.Envelope, bool) {
	if e.cfg.IdempotencyTTL <= 0 {
		return shape.Envelope{}, false
	}
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	c, ok := e.cache[key]
	if !ok {
		return shape.Envelope{}, false
	}
	if e.clock().After(c.expires) {
		delete(e.cache, key)
		return shape.Envelope{}, false
	}
	return c.envelope, true
}

// storeCached replays only successful envelopes; failures stay retryable by
// re-invoking.
func (e *Executor) storeCached(key string, env shape.Envelope) {
	if e.cfg.IdempotencyTTL <= 0 || !env.Success {
		return
	}
	e.cacheMu.Lock()
	e.cache[key] = cachedResult{envelope: env, expires: e.clock().Add(e.cfg.IdempotencyTTL)}
	e.cacheMu.Unlock()
}

// mergeArgs overlays overrides on top of base without mutating either.
func mergeArgs(base, overrides map[string]any) map[string]any {
	if len(base) == 0 && len(overrides) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func defaultRand() float64 {
	return float64(time.Now().UnixNano()%1000) / 1000
}

type panicError struct{ val any }

func (p *panicError) Error() string {
	return fmt.Sprintf("transport panic: %v", p.val)
}

func roundPct(part, total int) float64 {
	if total == 0 {
		return 100
	}
	return math.Round(float64(part) / float64(total) * 100)
}
