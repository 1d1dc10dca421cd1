// Package config holds the kernel configuration surface: compiled-in
// defaults, YAML file loading, and the two audit environment overrides. The
// package is passive; the kernel facade maps it onto component configs at
// construction.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shale-yeah/kernel/shape"
)

// Environment variables honored by FromEnv. Both are read once, at kernel
// construction.
const (
	// EnvAuditEnabled disables the audit trail when set to "false". Any
	// other value, or no value, leaves the configured default in place.
	EnvAuditEnabled = "KERNEL_AUDIT_ENABLED"
	// EnvAuditPath overrides the audit directory when non-empty.
	EnvAuditPath = "KERNEL_AUDIT_PATH"
)

type (
	// Config is the kernel configuration. Zero values fall back to the
	// component defaults at construction, so partial files are safe.
	Config struct {
		// Execution tunes the executor.
		Execution Execution `yaml:"execution"`
		// Security tunes auth and audit.
		Security Security `yaml:"security"`
		// Resilience tunes retries and degradation.
		Resilience Resilience `yaml:"resilience"`
	}

	// Execution tunes tool invocation.
	Execution struct {
		// DefaultDetailLevel applies when requests omit a detail level.
		DefaultDetailLevel shape.DetailLevel `yaml:"defaultDetailLevel"`
		// MaxParallel bounds concurrent transport calls.
		MaxParallel int `yaml:"maxParallel"`
		// ToolTimeoutMs bounds each transport attempt.
		ToolTimeoutMs int `yaml:"toolTimeoutMs"`
		// IdempotencyTTLMs is how long successful envelopes replay for
		// duplicate requests.
		IdempotencyTTLMs int `yaml:"idempotencyTtlMs"`
	}

	// Security tunes authorization and the audit trail.
	Security struct {
		// RequireAuth enforces permission checks on CallTool.
		RequireAuth bool `yaml:"requireAuth"`
		// AuditEnabled persists the JSONL audit trail.
		AuditEnabled bool `yaml:"auditEnabled"`
		// AuditPath is the audit directory.
		AuditPath string `yaml:"auditPath"`
	}

	// Resilience tunes retry and degradation behavior.
	Resilience struct {
		// MaxRetries bounds retries beyond the first attempt.
		MaxRetries int `yaml:"maxRetries"`
		// RetryBackoffMs is the base backoff before class and attempt
		// scaling.
		RetryBackoffMs int `yaml:"retryBackoffMs"`
		// GracefulDegradation attaches partial-result guidance to failed
		// bundles.
		GracefulDegradation bool `yaml:"gracefulDegradation"`
		// MinCompleteness is the 0-1 usefulness threshold for degraded
		// results.
		MinCompleteness float64 `yaml:"minCompleteness"`
	}
)

// Default returns the kernel defaults.
func Default() Config {
	return Config{
		Execution: Execution{
			DefaultDetailLevel: shape.DetailStandard,
			MaxParallel:        6,
			ToolTimeoutMs:      30000,
			IdempotencyTTLMs:   300000,
		},
		Security: Security{
			RequireAuth:  false,
			AuditEnabled: true,
			AuditPath:    "data/audit",
		},
		Resilience: Resilience{
			MaxRetries:          2,
			RetryBackoffMs:      1000,
			GracefulDegradation: true,
			MinCompleteness:     0.5,
		},
	}
}

// Load reads a YAML config file and merges it over the defaults: keys the
// file omits keep their default values. An empty path returns the defaults
// unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// FromEnv applies the audit environment overrides to cfg and returns the
// result. KERNEL_AUDIT_ENABLED only ever disables: the value "false" turns
// the trail off, anything else defers to the config.
func FromEnv(cfg Config) Config {
	if v, ok := os.LookupEnv(EnvAuditEnabled); ok && strings.EqualFold(strings.TrimSpace(v), "false") {
		cfg.Security.AuditEnabled = false
	}
	if v := os.Getenv(EnvAuditPath); v != "" {
		cfg.Security.AuditPath = v
	}
	return cfg
}

// ToolTimeout returns the per-attempt timeout as a duration.
func (e Execution) ToolTimeout() time.Duration {
	return time.Duration(e.ToolTimeoutMs) * time.Millisecond
}

// IdempotencyTTL returns the replay window as a duration.
func (e Execution) IdempotencyTTL() time.Duration {
	return time.Duration(e.IdempotencyTTLMs) * time.Millisecond
}

// RetryBackoff returns the base backoff as a duration.
func (r Resilience) RetryBackoff() time.Duration {
	return time.Duration(r.RetryBackoffMs) * time.Millisecond
}
