// Package node defines the runtime contract every processing node
// implements, regardless of whether it runs in-process or behind an
// out-of-process worker (spec.md §4.C).
package node

import (
	"context"

	"github.com/mediarun/mediarun/internal/apperrors"
	"github.com/mediarun/mediarun/internal/data"
)

// Traits is a bitmask of the invocation modes and behaviors a node
// declares support for. The executor queries Traits and never invokes an
// unsupported mode (spec.md §4.C).
type Traits uint8

const (
	Parallelizable Traits = 1 << iota
	BatchAware
	MultiOutput
	SupportsControl
	Stateful
)

// Has reports whether t includes all bits in want.
func (t Traits) Has(want Traits) bool {
	return t&want == want
}

func (t Traits) String() string {
	names := []struct {
		bit  Traits
		name string
	}{
		{Parallelizable, "parallelizable"},
		{BatchAware, "batch_aware"},
		{MultiOutput, "multi_output"},
		{SupportsControl, "supports_control"},
		{Stateful, "stateful"},
	}
	out := ""
	for _, n := range names {
		if t.Has(n.bit) {
			if out != "" {
				out += "|"
			}
			out += n.name
		}
	}
	if out == "" {
		return "none"
	}
	return out
}

// EmitFunc is called zero or more times by a streaming node's ProcessStreaming
// for each value it produces, before the call returns (spec.md §4.C).
type EmitFunc func(data.RuntimeData) error

// Node is the contract every node type (node_type() in spec.md terms)
// implements. A node advertises its supported invocation modes via
// Traits; the executor never calls a method outside that declared set.
type Node interface {
	// NodeType returns the registered type name (matches the capability
	// registry's node_type key).
	NodeType() string
	// Traits returns the set of invocation modes and behaviors this node
	// supports.
	Traits() Traits

	// Initialize runs exactly once, before any Process* call.
	Initialize(ctx context.Context) error
	// Cleanup runs exactly once, before the node is discarded.
	Cleanup(ctx context.Context) error

	// Process implements unary mode: one input, one output. Returns
	// apperrors.ErrUnsupportedMode if the node is strictly streaming.
	Process(ctx context.Context, input data.RuntimeData) (data.RuntimeData, error)

	// ProcessStreaming implements streaming mode: emit may be called any
	// number of times before this returns. Returns the number of
	// emissions made.
	ProcessStreaming(ctx context.Context, input data.RuntimeData, sessionID string, emit EmitFunc) (int, error)

	// ProcessMulti implements join-style multi-input nodes, keyed by port
	// name.
	ProcessMulti(ctx context.Context, inputs map[string]data.RuntimeData) (data.RuntimeData, error)
}

// BaseNode provides Process/ProcessStreaming/ProcessMulti stubs that
// return apperrors.ErrUnsupportedMode, so a concrete node type only needs
// to override the modes its Traits() actually advertises (the same
// embed-and-override convention tvarr's pipeline stages use for optional
// lifecycle hooks).
type BaseNode struct{}

func (BaseNode) Process(ctx context.Context, input data.RuntimeData) (data.RuntimeData, error) {
	return nil, apperrors.ErrUnsupportedMode
}

func (BaseNode) ProcessStreaming(ctx context.Context, input data.RuntimeData, sessionID string, emit EmitFunc) (int, error) {
	return 0, apperrors.ErrUnsupportedMode
}

func (BaseNode) ProcessMulti(ctx context.Context, inputs map[string]data.RuntimeData) (data.RuntimeData, error) {
	return nil, apperrors.ErrUnsupportedMode
}
