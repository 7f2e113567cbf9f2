package node

import "fmt"

// OverflowPolicy names how a node's input queue absorbs publication
// against a full queue (spec.md §4.D).
type OverflowPolicy string

const (
	OverflowDropOldest      OverflowPolicy = "drop_oldest"
	OverflowDropNewest      OverflowPolicy = "drop_newest"
	OverflowBlock           OverflowPolicy = "block"
	OverflowMergeOnOverflow OverflowPolicy = "merge_on_overflow"
)

// ErrorPolicy names how the executor reacts to an Execution error raised
// by a node during streaming (spec.md §4.F/§7).
type ErrorPolicy string

const (
	// ErrorPolicySkip drops the offending item and keeps the session Active.
	ErrorPolicySkip ErrorPolicy = "skip"
	// ErrorPolicyFailFast transitions the owning session to Closing.
	ErrorPolicyFailFast ErrorPolicy = "fail_fast"
)

// emaAlpha weights recent measurements over history in the processing
// time EMA, matching node_capabilities.rs's choice exactly.
const emaAlpha = 0.1

// Capabilities describes a node type's execution characteristics for
// executor scheduling: batching, queue sizing, and overflow behavior.
// Adapted from original_source/crates/core/src/executor/node_capabilities.rs.
type Capabilities struct {
	NodeType                string
	Parallelizable          bool
	BatchAware              bool
	AvgProcessingUs         float64
	QueueCapacity           int
	OverflowPolicy          OverflowPolicy
	SupportsControlMessages bool
	// ErrorPolicy decides whether an Execution error from this node type
	// is fatal to the owning session (spec.md §4.F). Defaults to
	// ErrorPolicyFailFast.
	ErrorPolicy ErrorPolicy
}

// NewCapabilities returns the default capability profile for a node type:
// parallelizable, not batch-aware, a 1ms running average, a 50-item
// queue, and DropOldest overflow.
func NewCapabilities(nodeType string) Capabilities {
	return Capabilities{
		NodeType:        nodeType,
		Parallelizable:  true,
		AvgProcessingUs: 1000,
		QueueCapacity:   50,
		OverflowPolicy:  OverflowDropOldest,
		ErrorPolicy:     ErrorPolicyFailFast,
	}
}

// UpdateAvgProcessingUs folds a new latency measurement into the running
// average via exponential moving average.
func (c *Capabilities) UpdateAvgProcessingUs(measurementUs uint64) {
	c.AvgProcessingUs = emaAlpha*float64(measurementUs) + (1-emaAlpha)*c.AvgProcessingUs
}

// ShouldAutoWrap reports whether the executor should wrap this node type
// in a buffering adapter before scheduling it: non-parallelizable nodes
// that benefit from batched input need their input queue drained in
// batches rather than one item at a time.
func (c Capabilities) ShouldAutoWrap() bool {
	return !c.Parallelizable && c.BatchAware
}

// Validate checks the capability profile's own invariants.
func (c Capabilities) Validate() error {
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("node %s: queue_capacity must be > 0", c.NodeType)
	}
	if c.QueueCapacity > 1000 {
		return fmt.Errorf("node %s: queue_capacity (%d) is unusually large (>1000)", c.NodeType, c.QueueCapacity)
	}
	if c.AvgProcessingUs < 0 {
		return fmt.Errorf("node %s: avg_processing_us cannot be negative", c.NodeType)
	}
	switch c.OverflowPolicy {
	case OverflowDropOldest, OverflowDropNewest, OverflowBlock, OverflowMergeOnOverflow:
	default:
		return fmt.Errorf("node %s: unknown overflow policy %q", c.NodeType, c.OverflowPolicy)
	}
	return nil
}
