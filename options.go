package kernel

import (
	"time"

	"github.com/shale-yeah/kernel/telemetry"
)

// Option configures a Kernel at construction. The logger, metrics, tracer
// and clock propagate to every component.
type Option func(*Kernel)

// WithLogger installs a logger; defaults to a no-op.
func WithLogger(logger telemetry.Logger) Option {
	return func(k *Kernel) {
		if logger != nil {
			k.logger = logger
		}
	}
}

// WithMetrics installs a metrics recorder; defaults to a no-op.
func WithMetrics(metrics telemetry.Metrics) Option {
	return func(k *Kernel) {
		if metrics != nil {
			k.metrics = metrics
		}
	}
}

// WithTracer installs a tracer; defaults to a no-op.
func WithTracer(tracer telemetry.Tracer) Option {
	return func(k *Kernel) {
		if tracer != nil {
			k.tracer = tracer
		}
	}
}

// WithClock overrides the time source for tests.
func WithClock(clock func() time.Time) Option {
	return func(k *Kernel) {
		if clock != nil {
			k.clock = clock
		}
	}
}

// WithConfirmTools overrides which tools are held behind the confirmation
// gate. Tools whose descriptors demand confirmation stay gated regardless.
func WithConfirmTools(names ...string) Option {
	return func(k *Kernel) {
		k.confirmTools = append([]string(nil), names...)
	}
}
