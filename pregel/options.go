package pregel

import (
	"math/rand"
	"time"

	"github.com/flowforge/pregel/pregel/emit"
)

// Option configures a PregelLoop at construction time.
type Option func(*loopConfig) error

type loopConfig struct {
	maxSteps           int
	maxConcurrentTasks int
	defaultNodeTimeout time.Duration
	recursionLimit     int
	emitter            emit.Emitter
	metrics            *Metrics
	rng                *rand.Rand
}

func defaultLoopConfig() loopConfig {
	return loopConfig{
		maxSteps:           0,
		maxConcurrentTasks: 8,
		defaultNodeTimeout: 30 * time.Second,
		recursionLimit:     25,
		emitter:            emit.NewNullEmitter(),
	}
}

// WithMaxSteps bounds the number of supersteps a single Invoke may run
// before returning ErrRecursionExceeded. Zero means unbounded (bounded only
// by RecursionLimit).
func WithMaxSteps(n int) Option {
	return func(c *loopConfig) error { c.maxSteps = n; return nil }
}

// WithMaxConcurrentTasks bounds how many tasks within one superstep execute
// concurrently. Default 8.
func WithMaxConcurrentTasks(n int) Option {
	return func(c *loopConfig) error {
		if n < 1 {
			return &EngineError{Message: "MaxConcurrentTasks must be >= 1", Code: "INVALID_OPTION"}
		}
		c.maxConcurrentTasks = n
		return nil
	}
}

// WithDefaultNodeTimeout sets the timeout applied to every node body; nodes
// have no timeout setting of their own (a node body concern the engine merely bounds; spec
// §5, "Cancellation & timeouts"). Default 30s; zero disables the bound.
func WithDefaultNodeTimeout(d time.Duration) Option {
	return func(c *loopConfig) error { c.defaultNodeTimeout = d; return nil }
}

// WithRecursionLimit bounds the superstep count independent of MaxSteps,
// matching the Config.RecursionLimit field a caller may also set per
// invocation; the smaller of the two applies. Default 25.
func WithRecursionLimit(n int) Option {
	return func(c *loopConfig) error { c.recursionLimit = n; return nil }
}

// WithEmitter attaches an observability sink. Default is a no-op emitter.
func WithEmitter(e emit.Emitter) Option {
	return func(c *loopConfig) error { c.emitter = e; return nil }
}

// WithMetrics attaches a Prometheus metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(c *loopConfig) error { c.metrics = m; return nil }
}

// WithSeededBackoff fixes the RNG used to jitter retry backoff, so a replay
// of a recorded run reproduces the same wait pattern (spec §9, Open
// Questions on backoff jitter shape).
func WithSeededBackoff(seed int64) Option {
	return func(c *loopConfig) error { c.rng = rand.New(rand.NewSource(seed)); return nil }
}
