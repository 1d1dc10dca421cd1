// Package kernel is the orchestration core for SHALE YEAH analysis agents.
// It fronts a registry of analysis servers, an executor with retry,
// idempotency and confirmation gating, per-session context, role checks and
// an audit trail behind one facade. Workers stay behind a single injected
// transport function; the kernel never speaks a tool protocol itself.
package kernel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shale-yeah/kernel/audit"
	"github.com/shale-yeah/kernel/auth"
	"github.com/shale-yeah/kernel/bundle"
	"github.com/shale-yeah/kernel/config"
	"github.com/shale-yeah/kernel/executor"
	"github.com/shale-yeah/kernel/registry"
	"github.com/shale-yeah/kernel/session"
	"github.com/shale-yeah/kernel/telemetry"
)

// Kernel coordinates discovery, execution, sessions, authorization and
// audit. Safe for concurrent use. Construct with New, register servers with
// Initialize, inject a transport with SetExecutorFn, then call tools.
type Kernel struct {
	cfg config.Config

	registry *registry.Registry
	exec     *executor.Executor
	sessions *session.Manager
	checker  *auth.Checker
	trail    *audit.Trail

	logger       telemetry.Logger
	metrics      telemetry.Metrics
	tracer       telemetry.Tracer
	clock        func() time.Time
	confirmTools []string

	initMu      sync.Mutex
	initialized bool
}

// New builds a kernel from cfg. A zero config means the defaults; invalid
// values fall back field by field. The audit environment overrides are
// applied here, once.
func New(cfg config.Config, opts ...Option) *Kernel {
	if cfg == (config.Config{}) {
		cfg = config.Default()
	}
	cfg = config.FromEnv(normalizeConfig(cfg))

	k := &Kernel{
		cfg:     cfg,
		logger:  telemetry.NewNoopLogger(),
		metrics: telemetry.NewNoopMetrics(),
		tracer:  telemetry.NewNoopTracer(),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(k)
	}

	k.registry = registry.New(
		registry.WithLogger(k.logger),
		registry.WithMetrics(k.metrics),
	)
	k.checker = auth.NewChecker(k.registry, cfg.Security.RequireAuth)
	k.trail = audit.NewTrail(cfg.Security.AuditEnabled, cfg.Security.AuditPath,
		audit.WithLogger(k.logger),
		audit.WithMetrics(k.metrics),
		audit.WithClock(k.clock),
	)
	k.sessions = session.NewManager(
		session.WithLogger(k.logger),
		session.WithClock(k.clock),
	)

	execOpts := []executor.Option{
		executor.WithLogger(k.logger),
		executor.WithMetrics(k.metrics),
		executor.WithTracer(k.tracer),
		executor.WithClock(k.clock),
	}
	if len(k.confirmTools) > 0 {
		execOpts = append(execOpts, executor.WithConfirmTools(k.confirmTools...))
	}
	k.exec = executor.New(k.registry, executorConfig(cfg), execOpts...)
	return k
}

// Initialize registers the server fleet. Idempotent: after the first
// successful call, later calls are no-ops. Every kernel method works before
// Initialize; discovery simply returns nothing and execution reports unknown
// tools.
func (k *Kernel) Initialize(servers ...registry.ServerConfig) error {
	k.initMu.Lock()
	defer k.initMu.Unlock()
	if k.initialized {
		return nil
	}
	if err := k.registry.Register(servers...); err != nil {
		return fmt.Errorf("initialize kernel: %w", err)
	}
	k.initialized = true
	k.logger.Info(context.Background(), "kernel initialized", "servers", len(servers))
	return nil
}

// Initialized reports whether a server fleet has been registered.
func (k *Kernel) Initialized() bool {
	k.initMu.Lock()
	defer k.initMu.Unlock()
	return k.initialized
}

// Config returns the effective configuration after defaults and environment
// overrides.
func (k *Kernel) Config() config.Config {
	return k.cfg
}

// Audit exposes the audit trail for operators.
func (k *Kernel) Audit() *audit.Trail {
	return k.trail
}

// ListServers returns discovery views of the registered servers.
func (k *Kernel) ListServers(filter registry.Filter) []registry.ServerInfo {
	return k.registry.ListServers(filter)
}

// DescribeTools lists the tool descriptors one server exposes.
func (k *Kernel) DescribeTools(serverName string) []registry.ToolDescriptor {
	return k.registry.ListTools(serverName)
}

// FindCapability returns the tools matching a capability query.
func (k *Kernel) FindCapability(query string) []registry.ToolDescriptor {
	return k.registry.FindByCapability(query)
}

// ResolveServer maps a tool reference to its owning server name.
func (k *Kernel) ResolveServer(toolName string) (string, bool) {
	return k.registry.ResolveServer(toolName)
}

// ListBundles returns every defined workflow bundle.
func (k *Kernel) ListBundles() []bundle.TaskBundle {
	return append(executor.Bundles(), bundle.Catalog()...)
}

// CreateSession starts a new session. Without options the session carries
// the demo identity and default preferences.
func (k *Kernel) CreateSession(opts ...session.CreateOption) *session.Session {
	return k.sessions.Create(opts...)
}

// GetSession returns the injection-ready snapshot of a session.
func (k *Kernel) GetSession(id string) (session.InjectedContext, error) {
	sess, err := k.sessions.Get(id)
	if err != nil {
		return session.InjectedContext{}, err
	}
	return sess.InjectedContext(), nil
}

// GetSessionRaw returns the live session object.
func (k *Kernel) GetSessionRaw(id string) (*session.Session, error) {
	return k.sessions.Get(id)
}

// WhoAmI describes the caller behind a session id. Unknown or empty ids
// resolve to the demo identity.
func (k *Kernel) WhoAmI(sessionID string) session.InjectedContext {
	if sess, err := k.sessions.Get(sessionID); err == nil {
		return sess.InjectedContext()
	}
	identity := auth.DemoIdentity()
	now := k.clock()
	zone, _ := now.Zone()
	return session.InjectedContext{
		UserID:           identity.UserID,
		Role:             identity.Role,
		Timestamp:        now.Format("2006-01-02T15:04:05.000Z07:00"),
		Timezone:         zone,
		AvailableResults: []string{},
	}
}

// ListSessions returns read-only views of the live sessions, oldest first.
func (k *Kernel) ListSessions() []session.Info {
	return k.sessions.List()
}

// DestroySession removes a session and its stored results. Returns false
// when the id is unknown.
func (k *Kernel) DestroySession(id string) bool {
	return k.sessions.Destroy(id)
}

// GenerateIdempotencyKey derives the deterministic deduplication key the
// executor uses for a call.
func (k *Kernel) GenerateIdempotencyKey(tool string, args map[string]any, sessionID string) string {
	return executor.GenerateKey(tool, args, sessionID)
}

// identityFor resolves the identity behind a session id; unknown or empty
// ids act as the demo identity.
func (k *Kernel) identityFor(sessionID string) auth.Identity {
	if sessionID != "" {
		if sess, err := k.sessions.Get(sessionID); err == nil {
			return sess.Identity()
		}
	}
	return auth.DemoIdentity()
}

// normalizeConfig replaces invalid or zero tunables with their defaults.
// Boolean fields and MaxRetries keep their given values since zero is
// meaningful for them.
func normalizeConfig(cfg config.Config) config.Config {
	def := config.Default()
	if !cfg.Execution.DefaultDetailLevel.Valid() {
		cfg.Execution.DefaultDetailLevel = def.Execution.DefaultDetailLevel
	}
	if cfg.Execution.MaxParallel <= 0 {
		cfg.Execution.MaxParallel = def.Execution.MaxParallel
	}
	if cfg.Execution.ToolTimeoutMs <= 0 {
		cfg.Execution.ToolTimeoutMs = def.Execution.ToolTimeoutMs
	}
	if cfg.Execution.IdempotencyTTLMs < 0 {
		cfg.Execution.IdempotencyTTLMs = def.Execution.IdempotencyTTLMs
	}
	if cfg.Resilience.MaxRetries < 0 {
		cfg.Resilience.MaxRetries = 0
	}
	if cfg.Resilience.RetryBackoffMs <= 0 {
		cfg.Resilience.RetryBackoffMs = def.Resilience.RetryBackoffMs
	}
	if cfg.Resilience.MinCompleteness <= 0 || cfg.Resilience.MinCompleteness > 1 {
		cfg.Resilience.MinCompleteness = def.Resilience.MinCompleteness
	}
	if cfg.Security.AuditPath == "" {
		cfg.Security.AuditPath = def.Security.AuditPath
	}
	return cfg
}

// executorConfig maps the kernel config onto the executor's.
func executorConfig(cfg config.Config) executor.Config {
	return executor.Config{
		DefaultDetailLevel:  cfg.Execution.DefaultDetailLevel,
		MaxParallel:         cfg.Execution.MaxParallel,
		ToolTimeout:         cfg.Execution.ToolTimeout(),
		IdempotencyTTL:      cfg.Execution.IdempotencyTTL(),
		MaxRetries:          cfg.Resilience.MaxRetries,
		RetryBackoff:        cfg.Resilience.RetryBackoff(),
		GracefulDegradation: cfg.Resilience.GracefulDegradation,
		MinCompleteness:     cfg.Resilience.MinCompleteness,
	}
}
