package graph

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// timeout returns the deadline budget for a node: the policy's own
// timeout, else the engine default. Zero means unbounded.
func (p *NodePolicy) timeout(engineDefault time.Duration) time.Duration {
	if p != nil && p.Unbounded {
		return 0
	}
	if p != nil && p.Timeout > 0 {
		return p.Timeout
	}
	return max(engineDefault, 0)
}

// runBounded runs node under its deadline. Overrunning yields a
// NODE_TIMEOUT EngineError wrapping context.DeadlineExceeded, which retry
// predicates can treat as transient. Cancellation of the parent context is
// not reported as a timeout.
func runBounded[S any](ctx context.Context, node Node[S], nodeID string, state S, limit time.Duration) (NodeResult[S], error) {
	if limit == 0 {
		return node.Run(ctx, state), nil
	}

	bounded, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	result := node.Run(bounded, state)
	if ctx.Err() == nil && errors.Is(bounded.Err(), context.DeadlineExceeded) {
		return result, &EngineError{
			Message: fmt.Sprintf("node %s exceeded timeout of %v", nodeID, limit),
			Code:    "NODE_TIMEOUT",
			Cause:   context.DeadlineExceeded,
		}
	}
	return result, nil
}
