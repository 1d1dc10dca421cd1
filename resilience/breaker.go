package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/shale-yeah/kernel/shape"
	"github.com/shale-yeah/kernel/telemetry"
)

// BreakerConfig tunes the per-server circuit breakers guarding the
// transport.
type BreakerConfig struct {
	// ConsecutiveFailures trips the breaker; defaults to 5.
	ConsecutiveFailures uint32
	// OpenTimeout is how long an open breaker waits before probing;
	// defaults to 30 seconds.
	OpenTimeout time.Duration
	// MaxHalfOpenRequests bounds probe traffic; defaults to 1.
	MaxHalfOpenRequests uint32
}

// BreakerSet maintains one circuit breaker per server and wraps the
// transport so a misbehaving worker stops receiving traffic. Worker-reported
// failures do not trip the breaker; only transport-level errors count.
type BreakerSet struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	cfg      BreakerConfig
	logger   telemetry.Logger
	metrics  telemetry.Metrics
	onChange func(server string, state gobreaker.State)
}

// BreakerOption configures a BreakerSet.
type BreakerOption func(*BreakerSet)

// WithBreakerLogger installs a logger for state transitions.
func WithBreakerLogger(logger telemetry.Logger) BreakerOption {
	return func(s *BreakerSet) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBreakerMetrics installs a metrics recorder for state gauges.
func WithBreakerMetrics(metrics telemetry.Metrics) BreakerOption {
	return func(s *BreakerSet) {
		if metrics != nil {
			s.metrics = metrics
		}
	}
}

// WithStateChange installs a callback invoked on every breaker transition,
// letting the owner mirror breaker state into server status.
func WithStateChange(fn func(server string, state gobreaker.State)) BreakerOption {
	return func(s *BreakerSet) {
		s.onChange = fn
	}
}

// NewBreakerSet builds an empty breaker set; breakers are created lazily per
// server on first call.
func NewBreakerSet(cfg BreakerConfig, opts ...BreakerOption) *BreakerSet {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.MaxHalfOpenRequests == 0 {
		cfg.MaxHalfOpenRequests = 1
	}
	s := &BreakerSet{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		cfg:      cfg,
		logger:   telemetry.NewNoopLogger(),
		metrics:  telemetry.NewNoopMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Wrap guards a transport function with the per-server breakers. An open
// breaker short-circuits into a worker-shaped retryable failure so the
// executor's classification and backoff apply unchanged.
func (s *BreakerSet) Wrap(next func(ctx context.Context, server string, args map[string]any) (shape.WireResult, error)) func(ctx context.Context, server string, args map[string]any) (shape.WireResult, error) {
	return func(ctx context.Context, server string, args map[string]any) (shape.WireResult, error) {
		out, err := s.breaker(server).Execute(func() (any, error) {
			res, err := next(ctx, server, args)
			if err != nil {
				return nil, err
			}
			return res, nil
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return shape.WireResult{
					Success: false,
					Error: &shape.WireError{
						Type:    string(shape.ErrorRetryable),
						Message: fmt.Sprintf("%s temporarily unavailable: circuit breaker open", server),
					},
				}, nil
			}
			return shape.WireResult{}, err
		}
		return out.(shape.WireResult), nil
	}
}

// State reports the breaker state for a server. Servers never called report
// closed.
func (s *BreakerSet) State(server string) gobreaker.State {
	s.mu.Lock()
	cb, ok := s.breakers[server]
	s.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}

func (s *BreakerSet) breaker(server string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok := s.breakers[server]; ok {
		return cb
	}
	threshold := s.cfg.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        server,
		MaxRequests: s.cfg.MaxHalfOpenRequests,
		Timeout:     s.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn(context.Background(), "circuit breaker state change",
				"server", name, "from", from.String(), "to", to.String())
			s.metrics.RecordGauge("kernel.breaker_state", stateGauge(to), "server", name)
			if s.onChange != nil {
				s.onChange(name, to)
			}
		},
	})
	s.breakers[server] = cb
	return cb
}

func stateGauge(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateOpen:
		return 2
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}
