// Package registry is the authoritative index of analysis servers and the
// tools they expose. It is populated once from static server configurations
// and answers discovery, resolution and validation queries for the rest of
// the kernel.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/shale-yeah/kernel/shape"
	"github.com/shale-yeah/kernel/telemetry"
)

type (
	// ToolType classifies how a tool interacts with the outside world.
	ToolType string

	// ServerStatus tracks transport connectivity for a server.
	ServerStatus string
)

const (
	// ToolTypeQuery marks read-only analysis tools.
	ToolTypeQuery ToolType = "query"
	// ToolTypeCommand marks tools that produce artifacts or decisions.
	ToolTypeCommand ToolType = "command"
	// ToolTypeDiscovery marks tools that enumerate other tools.
	ToolTypeDiscovery ToolType = "discovery"
)

const (
	// StatusConnected means the transport reached the server.
	StatusConnected ServerStatus = "connected"
	// StatusDisconnected means the server has not been dialed yet.
	StatusDisconnected ServerStatus = "disconnected"
	// StatusError means the transport reported a failure for the server.
	StatusError ServerStatus = "error"
)

type (
	// ServerConfig describes one analysis server as supplied at kernel
	// initialization. Script is opaque to the kernel and consumed only by
	// the transport layer.
	ServerConfig struct {
		// Name is the unique server name, e.g. "geowiz".
		Name string `json:"name" yaml:"name"`
		// Script locates the server process for stdio transports.
		Script string `json:"script,omitempty" yaml:"script,omitempty"`
		// Description is a human summary of what the server analyzes.
		Description string `json:"description,omitempty" yaml:"description,omitempty"`
		// Persona is the professional persona the server speaks as.
		Persona string `json:"persona,omitempty" yaml:"persona,omitempty"`
		// Domain tags the server's analysis domain, e.g. "geology".
		Domain string `json:"domain,omitempty" yaml:"domain,omitempty"`
		// Capabilities are free-form searchable tags.
		Capabilities []string `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
		// Defaults are merged into call args when the caller omits them.
		Defaults map[string]any `json:"defaults,omitempty" yaml:"defaults,omitempty"`
		// InputSchema optionally constrains call args as a JSON Schema.
		InputSchema map[string]any `json:"inputSchema,omitempty" yaml:"inputSchema,omitempty"`
	}

	// ToolDescriptor describes a single registered tool.
	ToolDescriptor struct {
		// Name is the fully qualified tool name, "{server}.{tool}".
		Name string `json:"name"`
		// Server is the owning server name.
		Server string `json:"server"`
		// Persona is the owning server's persona label.
		Persona string `json:"persona,omitempty"`
		// Type classifies the tool.
		Type ToolType `json:"type"`
		// Description is a human summary of the tool.
		Description string `json:"description,omitempty"`
		// Capabilities are the searchable tags inherited from the server.
		Capabilities []string `json:"capabilities,omitempty"`
		// DetailLevels lists the supported response detail levels.
		DetailLevels []shape.DetailLevel `json:"detailLevels"`
		// ReadOnly reports that the tool never mutates external state.
		ReadOnly bool `json:"readOnly"`
		// Destructive reports that the tool's effects are not reversible.
		Destructive bool `json:"destructive"`
		// RequiresConfirmation gates the tool behind an explicit confirm.
		RequiresConfirmation bool `json:"requiresConfirmation"`
		// Defaults are merged into call args when the caller omits them.
		Defaults map[string]any `json:"defaults,omitempty"`
		// InputSchema optionally constrains call args.
		InputSchema map[string]any `json:"inputSchema,omitempty"`
	}

	// ServerInfo is the discovery view of a registered server.
	ServerInfo struct {
		// Name is the server name.
		Name string `json:"name"`
		// Domain is the server's analysis domain tag.
		Domain string `json:"domain,omitempty"`
		// Persona is the server's persona label.
		Persona string `json:"persona,omitempty"`
		// ToolCount is the number of tools the server exposes.
		ToolCount int `json:"toolCount"`
		// Capabilities is the union of capability tags over the tools.
		Capabilities []string `json:"capabilities,omitempty"`
		// Status is the current transport connectivity.
		Status ServerStatus `json:"status"`
	}

	// Filter narrows ListServers results. Zero-value fields are ignored and
	// the remaining criteria are AND-combined.
	Filter struct {
		// Domain matches the server domain tag exactly.
		Domain string
		// ToolType keeps servers with at least one tool of this type.
		ToolType ToolType
		// Capability keeps servers with at least one capability containing
		// this substring, case-insensitively.
		Capability string
	}
)

// clone deep-copies the descriptor so callers cannot mutate registry state.
func (d ToolDescriptor) clone() ToolDescriptor {
	d.Capabilities = append([]string(nil), d.Capabilities...)
	d.DetailLevels = append([]shape.DetailLevel(nil), d.DetailLevels...)
	d.Defaults = cloneMap(d.Defaults)
	d.InputSchema = cloneMap(d.InputSchema)
	return d
}

// Registry indexes servers and tools. It is safe for concurrent use; writes
// happen at initialization and on status changes only.
type Registry struct {
	mu           sync.RWMutex
	servers      map[string]*serverRecord
	serverOrder  []string
	tools        map[string]ToolDescriptor
	toolOrder    []string
	byCapability map[string][]string

	commandServers map[string]bool
	confirmServers map[string]bool
	logger         telemetry.Logger
	metrics        telemetry.Metrics
}

type serverRecord struct {
	config ServerConfig
	status ServerStatus
	tools  []string
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger installs a logger; defaults to a no-op.
func WithLogger(logger telemetry.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics installs a metrics recorder; defaults to a no-op.
func WithMetrics(metrics telemetry.Metrics) Option {
	return func(r *Registry) {
		if metrics != nil {
			r.metrics = metrics
		}
	}
}

// WithCommandServers overrides the set of servers whose tools register as
// commands instead of queries. Defaults to reporter and decision.
func WithCommandServers(names ...string) Option {
	return func(r *Registry) {
		r.commandServers = make(map[string]bool, len(names))
		for _, n := range names {
			r.commandServers[n] = true
		}
	}
}

// WithConfirmServers overrides the set of servers whose tools require
// explicit confirmation before executing. Defaults to decision.
func WithConfirmServers(names ...string) Option {
	return func(r *Registry) {
		r.confirmServers = make(map[string]bool, len(names))
		for _, n := range names {
			r.confirmServers[n] = true
		}
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		servers:        make(map[string]*serverRecord),
		tools:          make(map[string]ToolDescriptor),
		byCapability:   make(map[string][]string),
		commandServers: map[string]bool{"reporter": true, "decision": true},
		confirmServers: map[string]bool{"decision": true},
		logger:         telemetry.NewNoopLogger(),
		metrics:        telemetry.NewNoopMetrics(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register indexes the given server configurations. Each server contributes
// one primary tool named "{server}.analyze" supporting all detail levels.
// Registering a duplicate server or tool name is an error.
func (r *Registry) Register(configs ...ServerConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cfg := range configs {
		if cfg.Name == "" {
			return fmt.Errorf("server config missing name")
		}
		if _, ok := r.servers[cfg.Name]; ok {
			return fmt.Errorf("server %q already registered", cfg.Name)
		}
		desc := r.primaryTool(cfg)
		if _, ok := r.tools[desc.Name]; ok {
			return fmt.Errorf("tool %q already registered", desc.Name)
		}

		r.servers[cfg.Name] = &serverRecord{
			config: cfg,
			status: StatusDisconnected,
			tools:  []string{desc.Name},
		}
		r.serverOrder = append(r.serverOrder, cfg.Name)
		r.tools[desc.Name] = desc
		r.toolOrder = append(r.toolOrder, desc.Name)
		for _, capability := range cfg.Capabilities {
			key := strings.ToLower(capability)
			r.byCapability[key] = append(r.byCapability[key], desc.Name)
		}

		r.logger.Debug(context.Background(), "registered server",
			"server", cfg.Name, "domain", cfg.Domain, "tool", desc.Name)
	}
	r.metrics.RecordGauge("kernel.registered_servers", float64(len(r.servers)))
	return nil
}

func (r *Registry) primaryTool(cfg ServerConfig) ToolDescriptor {
	toolType := ToolTypeQuery
	if r.commandServers[cfg.Name] {
		toolType = ToolTypeCommand
	}
	confirm := r.confirmServers[cfg.Name]
	return ToolDescriptor{
		Name:                 cfg.Name + ".analyze",
		Server:               cfg.Name,
		Persona:              cfg.Persona,
		Type:                 toolType,
		Description:          cfg.Description,
		Capabilities:         append([]string(nil), cfg.Capabilities...),
		DetailLevels:         []shape.DetailLevel{shape.DetailSummary, shape.DetailStandard, shape.DetailFull},
		ReadOnly:             toolType == ToolTypeQuery,
		Destructive:          confirm,
		RequiresConfirmation: confirm,
		Defaults:             cloneMap(cfg.Defaults),
		InputSchema:          cloneMap(cfg.InputSchema),
	}
}

// ListServers returns discovery views of the registered servers, in
// registration order, narrowed by the filter.
func (r *Registry) ListServers(filter Filter) []ServerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ServerInfo, 0, len(r.serverOrder))
	for _, name := range r.serverOrder {
		rec := r.servers[name]
		if !r.matches(rec, filter) {
			continue
		}
		out = append(out, ServerInfo{
			Name:         name,
			Domain:       rec.config.Domain,
			Persona:      rec.config.Persona,
			ToolCount:    len(rec.tools),
			Capabilities: append([]string(nil), rec.config.Capabilities...),
			Status:       rec.status,
		})
	}
	return out
}

func (r *Registry) matches(rec *serverRecord, filter Filter) bool {
	if filter.Domain != "" && rec.config.Domain != filter.Domain {
		return false
	}
	if filter.ToolType != "" {
		found := false
		for _, name := range rec.tools {
			if r.tools[name].Type == filter.ToolType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.Capability != "" {
		query := strings.ToLower(filter.Capability)
		found := false
		for _, capability := range rec.config.Capabilities {
			if strings.Contains(strings.ToLower(capability), query) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ListTools returns tool descriptors. With an empty server name it returns
// every tool in registration order; otherwise only the named server's tools.
// Unknown servers return nil.
func (r *Registry) ListTools(server string) []ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if server == "" {
		out := make([]ToolDescriptor, 0, len(r.toolOrder))
		for _, name := range r.toolOrder {
			out = append(out, r.tools[name].clone())
		}
		return out
	}
	rec, ok := r.servers[server]
	if !ok {
		return nil
	}
	out := make([]ToolDescriptor, 0, len(rec.tools))
	for _, name := range rec.tools {
		out = append(out, r.tools[name].clone())
	}
	return out
}

// FindByCapability returns tools whose capability tags contain the query as
// a case-insensitive substring, de-duplicated by tool name.
func (r *Registry) FindByCapability(query string) []ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	seen := make(map[string]bool)
	var out []ToolDescriptor
	for capability, toolNames := range r.byCapability {
		if !strings.Contains(capability, q) {
			continue
		}
		for _, name := range toolNames {
			if seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, r.tools[name].clone())
		}
	}
	return out
}

// ResolveServer maps a tool reference to the owning server name. It accepts
// a fully qualified tool name, a bare server name, or a tool-name prefix.
// The second return is false when nothing matches.
func (r *Registry) ResolveServer(toolName string) (string, bool) {
	desc, ok := r.ResolveTool(toolName)
	if !ok {
		return "", false
	}
	return desc.Server, true
}

// ResolveTool maps a tool reference to its descriptor using the same rules
// as ResolveServer: exact name, then bare server name (resolving to that
// server's primary tool), then first tool-name prefix match in registration
// order.
func (r *Registry) ResolveTool(toolName string) (ToolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if desc, ok := r.tools[toolName]; ok {
		return desc.clone(), true
	}
	if rec, ok := r.servers[toolName]; ok && len(rec.tools) > 0 {
		return r.tools[rec.tools[0]].clone(), true
	}
	if toolName != "" {
		for _, name := range r.toolOrder {
			if strings.HasPrefix(name, toolName) {
				return r.tools[name].clone(), true
			}
		}
	}
	return ToolDescriptor{}, false
}

// GetTool returns the descriptor for an exact fully qualified tool name.
func (r *Registry) GetTool(toolName string) (ToolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.tools[toolName]
	if !ok {
		return ToolDescriptor{}, false
	}
	return desc.clone(), true
}

// SetServerStatus records transport connectivity for a server. Unknown
// servers are ignored and reported as false.
func (r *Registry) SetServerStatus(name string, status ServerStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.servers[name]
	if !ok {
		return false
	}
	if rec.status != status {
		r.logger.Info(context.Background(), "server status change",
			"server", name, "from", string(rec.status), "to", string(status))
	}
	rec.status = status
	return true
}

// ValidateArgs checks call args against the tool's input schema. Tools
// without a schema accept anything. The tool name must resolve.
func (r *Registry) ValidateArgs(toolName string, args map[string]any) error {
	desc, ok := r.ResolveTool(toolName)
	if !ok {
		return fmt.Errorf("unknown tool %q", toolName)
	}
	if len(desc.InputSchema) == 0 {
		return nil
	}

	schemaBytes, err := json.Marshal(desc.InputSchema)
	if err != nil {
		return fmt.Errorf("marshal schema for %s: %w", desc.Name, err)
	}
	var schemaDoc any
	if err := json.Unmarshal(schemaBytes, &schemaDoc); err != nil {
		return fmt.Errorf("unmarshal schema for %s: %w", desc.Name, err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", schemaDoc); err != nil {
		return fmt.Errorf("add schema resource for %s: %w", desc.Name, err)
	}
	schema, err := c.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", desc.Name, err)
	}

	argBytes, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal args for %s: %w", desc.Name, err)
	}
	var argDoc any
	if err := json.Unmarshal(argBytes, &argDoc); err != nil {
		return fmt.Errorf("unmarshal args for %s: %w", desc.Name, err)
	}

	if err := schema.Validate(argDoc); err != nil {
		return fmt.Errorf("invalid arguments for %s: %w", desc.Name, err)
	}
	return nil
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
