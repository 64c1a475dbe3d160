package pregel

import (
	"math/rand"
	"time"
)

// RetryPolicy configures automatic retry of a node's transient failures
// (spec §4.3, "Retry policy semantics"). A task whose node raises a
// retryable error is run up to MaxAttempts times in total, with exponential
// backoff between attempts; retries never re-run other tasks of the same superstep, since
// their writes are already queued independently.
//
// The backoff curve's exact jitter shape is implementation-defined (spec
// §9, Open Questions); what is guaranteed is a deterministic *count* of
// attempts for a given error sequence.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of executions, including the
	// first. A value of 1 disables retries.
	MaxAttempts int

	// BaseDelay is the initial backoff interval.
	BaseDelay time.Duration

	// MaxDelay caps the exponential growth of the backoff interval.
	MaxDelay time.Duration

	// Retryable decides whether an error raised by the node should be
	// retried. A nil Retryable treats every error as retryable.
	Retryable func(error) bool
}

// Validate reports a configuration error for an impossible policy.
func (p *RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return &EngineError{Message: "RetryPolicy.MaxAttempts must be >= 1", Code: "INVALID_RETRY_POLICY", Cause: ErrInvalidGraph}
	}
	if p.MaxDelay > 0 && p.BaseDelay > 0 && p.MaxDelay < p.BaseDelay {
		return &EngineError{Message: "RetryPolicy.MaxDelay must be >= BaseDelay", Code: "INVALID_RETRY_POLICY", Cause: ErrInvalidGraph}
	}
	return nil
}

func (p *RetryPolicy) shouldRetry(attempt int, err error) bool {
	if p == nil {
		return false
	}
	if attempt+1 >= p.MaxAttempts {
		return false
	}
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

// backoff computes the delay before retry attempt `attempt` (0-based,
// counting the retry itself rather than the initial try): base * 2^attempt
// capped at maxDelay, plus jitter in [0, base) drawn from rng so that
// replay of a run with a seeded RNG reproduces the same wait pattern.
func backoff(attempt int, base, maxDelay time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	delay := base * time.Duration(1<<uint(attempt))
	if delay > maxDelay || delay < 0 {
		delay = maxDelay
	}
	var jitter time.Duration
	if rng != nil {
		jitter = time.Duration(rng.Int63n(int64(base)))
	}
	total := delay + jitter
	if total > maxDelay {
		total = maxDelay
	}
	return total
}
