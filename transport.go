package kernel

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/shale-yeah/kernel/mcp"
	"github.com/shale-yeah/kernel/registry"
	"github.com/shale-yeah/kernel/resilience"
	"github.com/shale-yeah/kernel/shape"
)

// stdioInitTimeout bounds each worker's initialize handshake.
const stdioInitTimeout = 10 * time.Second

// StdioTransport launches one worker subprocess per server config, wires the
// per-server circuit breakers in front, and installs the resulting transport
// on the executor. Registry status follows worker health: connected after
// launch, error when a worker fails to start or its breaker opens.
//
// The returned close function shuts every worker down. If any worker fails
// to launch, the ones already running are closed and the error returned.
func (k *Kernel) StdioTransport(ctx context.Context, servers []registry.ServerConfig) (func() error, error) {
	callers := make(map[string]*mcp.StdioCaller, len(servers))
	closeAll := func() error {
		var firstErr error
		for _, c := range callers {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	for _, cfg := range servers {
		if cfg.Script == "" {
			_ = closeAll()
			return nil, fmt.Errorf("server %s has no script to launch", cfg.Name)
		}
		caller, err := mcp.NewStdioCaller(ctx, mcp.StdioOptions{
			Command:     cfg.Script,
			InitTimeout: stdioInitTimeout,
		})
		if err != nil {
			k.registry.SetServerStatus(cfg.Name, registry.StatusError)
			_ = closeAll()
			return nil, fmt.Errorf("launch worker %s: %w", cfg.Name, err)
		}
		callers[cfg.Name] = caller
		k.registry.SetServerStatus(cfg.Name, registry.StatusConnected)
	}

	breakers := resilience.NewBreakerSet(resilience.BreakerConfig{},
		resilience.WithBreakerLogger(k.logger),
		resilience.WithBreakerMetrics(k.metrics),
		resilience.WithStateChange(func(server string, state gobreaker.State) {
			switch state {
			case gobreaker.StateOpen:
				k.registry.SetServerStatus(server, registry.StatusError)
			case gobreaker.StateClosed:
				k.registry.SetServerStatus(server, registry.StatusConnected)
			}
		}),
	)

	transport := breakers.Wrap(func(ctx context.Context, server string, args map[string]any) (shape.WireResult, error) {
		caller, ok := callers[server]
		if !ok {
			return shape.WireResult{}, fmt.Errorf("no worker for server %s", server)
		}
		resp, err := caller.CallTool(ctx, mcp.CallRequest{Tool: "analyze", Args: args})
		if err != nil {
			return shape.WireResult{}, err
		}
		return resp.Result, nil
	})

	k.exec.SetTransport(transport)
	k.logger.Info(ctx, "stdio transport connected", "workers", len(callers))
	return closeAll, nil
}
