package workflow

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/devspace/workflow/emit"
)

// Options holds the engine configuration collected from Option values.
type Options struct {
	// DefaultMaxRetries applies to steps without a RetryPolicy. Default 1.
	DefaultMaxRetries int

	// DefaultStepTimeout bounds attempts of steps without their own
	// Timeout. Zero means unbounded.
	DefaultStepTimeout time.Duration

	// ReleaseGrace is how long a finished run stays in the registry for
	// subscribers that are still draining. Default 30s.
	ReleaseGrace time.Duration

	// InstanceID is recorded as the owner of every run this engine starts.
	// Engines sharing a ledger need distinct IDs. Default: a random UUID.
	InstanceID string

	// LeaseTTL is how long a run's heartbeat stays valid. The engine renews
	// the leases of its runs every LeaseTTL/3. Default DefaultLeaseTTL.
	LeaseTTL time.Duration
}

// DefaultLeaseTTL is the default run lease.
const DefaultLeaseTTL = time.Minute

// Option is a functional option for configuring an Engine.
//
// Example:
//
//	engine, err := workflow.New(ledger, registry,
//	    workflow.WithEmitter(emit.NewLogEmitter(os.Stdout, true)),
//	    workflow.WithDefaultMaxRetries(2),
//	    workflow.WithReleaseGrace(time.Minute),
//	)
type Option func(*engineConfig) error

// engineConfig collects options before they are applied to an Engine.
type engineConfig struct {
	opts    Options
	emitter emit.Emitter
	metrics *PrometheusMetrics
	logger  *slog.Logger
	newID   func() string
}

func defaultConfig() engineConfig {
	return engineConfig{
		opts: Options{
			DefaultMaxRetries: 1,
			ReleaseGrace:      30 * time.Second,
			InstanceID:        uuid.NewString(),
			LeaseTTL:          DefaultLeaseTTL,
		},
		emitter: emit.NewNullEmitter(),
		logger:  slog.Default(),
		newID:   uuid.NewString,
	}
}

// WithDefaultMaxRetries sets the retry count of steps that declare no
// RetryPolicy.
func WithDefaultMaxRetries(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 0 {
			return fmt.Errorf("default max retries must be >= 0, got %d", n)
		}
		cfg.opts.DefaultMaxRetries = n
		return nil
	}
}

// WithDefaultStepTimeout bounds each attempt of steps without a Timeout.
func WithDefaultStepTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		if d < 0 {
			return fmt.Errorf("step timeout must be >= 0, got %v", d)
		}
		cfg.opts.DefaultStepTimeout = d
		return nil
	}
}

// WithReleaseGrace sets how long a closed output channel stays registered
// while subscribers are still attached.
func WithReleaseGrace(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		if d < 0 {
			return fmt.Errorf("release grace must be >= 0, got %v", d)
		}
		cfg.opts.ReleaseGrace = d
		return nil
	}
}

// WithInstanceID sets the owner recorded on runs. Use a value that is stable
// across restarts of the same process (a host or pod name) so its orphaned
// runs are recovered at startup without waiting for their leases to expire.
func WithInstanceID(id string) Option {
	return func(cfg *engineConfig) error {
		if id == "" {
			return fmt.Errorf("instance id cannot be empty")
		}
		cfg.opts.InstanceID = id
		return nil
	}
}

// WithLeaseTTL sets how long a run survives without a heartbeat before
// another engine's RecoverInterrupted may fail it.
func WithLeaseTTL(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		if d <= 0 {
			return fmt.Errorf("lease ttl must be > 0, got %v", d)
		}
		cfg.opts.LeaseTTL = d
		return nil
	}
}

// WithEmitter sets the lifecycle event emitter. Default: NullEmitter.
func WithEmitter(e emit.Emitter) Option {
	return func(cfg *engineConfig) error {
		if e != nil {
			cfg.emitter = e
		}
		return nil
	}
}

// WithMetrics enables Prometheus metrics collection.
func WithMetrics(m *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.metrics = m
		return nil
	}
}

// WithLogger sets the logger used for ledger write failures, which cannot
// be reported to the caller of Start.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *engineConfig) error {
		if l != nil {
			cfg.logger = l
		}
		return nil
	}
}

// WithIDGenerator replaces the run ID generator (UUIDv4 by default).
func WithIDGenerator(fn func() string) Option {
	return func(cfg *engineConfig) error {
		if fn == nil {
			return fmt.Errorf("id generator cannot be nil")
		}
		cfg.newID = fn
		return nil
	}
}
