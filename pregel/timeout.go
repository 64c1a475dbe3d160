package pregel

import (
	"context"
	"time"
)

// nodeTimeout resolves the effective per-node execution timeout: it returns
// the loop's configured default for every node (zero means no timeout);
// RetryPolicy carries no timeout of its own. Per-node execution timeouts are a
// node-body concern the engine merely offers a convenience hook for (spec
// §5, "Cancellation & timeouts" — "not specified by the engine").
func nodeTimeout(policy *RetryPolicy, _ string, defaultTimeout time.Duration) time.Duration {
	// Retry policy does not itself carry a timeout field (timeouts are
	// orthogonal to retries in this engine); defaultTimeout is the only
	// source today. The policy parameter is accepted for forward
	// compatibility with a future per-node override without changing the
	// call sites in loop.go.
	_ = policy
	return defaultTimeout
}

// runWithTimeout executes body under a derived context bounded by timeout
// (a zero timeout means "no bound"), returning a wrapped EngineError if the
// deadline is exceeded so the loop can distinguish a timeout from an
// ordinary node error.
func runWithTimeout(ctx context.Context, nodeName string, timeout time.Duration, body func(context.Context) error) error {
	if timeout <= 0 {
		return body(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := body(tctx)
	if err != nil && tctx.Err() == context.DeadlineExceeded {
		return &EngineError{Message: "node exceeded timeout of " + timeout.String(), Code: "NODE_TIMEOUT", NodeName: nodeName, Cause: err}
	}
	return err
}
