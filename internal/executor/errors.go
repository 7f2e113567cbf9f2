// Package executor implements the streaming execution engine: one task
// per node, bounded edge queues, overflow handling, speculative
// forwarding, and cancellation (spec.md §4.F). It generalizes tvarr's
// internal/pipeline/core.Orchestrator (a sequential batch pipeline driven
// stage-by-stage) to a concurrent streaming graph: one goroutine per node
// instead of one per stage, wired by bounded channels instead of a shared
// State struct passed down a slice of Stages.
package executor

import (
	"fmt"

	"github.com/mediarun/mediarun/internal/node"
)

// CircuitOpenError reports that a node's circuit breaker has tripped and
// is refusing invocations until its reset window elapses.
type CircuitOpenError struct {
	NodeID string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("executor: circuit open for node %s", e.NodeID)
}

// classifyOutcome maps an Execution error to the per-node-type policy
// that decides whether it is fatal (spec.md §4.F Failure semantics:
// "if the node's policy is FailFast, session transitions to Closing;
// otherwise the item is dropped and processing continues").
func classifyOutcome(policy node.ErrorPolicy) bool {
	return policy == node.ErrorPolicyFailFast
}
