package capability

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mediarun/mediarun/internal/node"
)

// Factory constructs a new Node instance for a registered node type.
type Factory func() (node.Node, error)

// Entry is everything the registry knows about one node_type: how to
// build it, its param schema, its input/output capability descriptors,
// and its trait set.
type Entry struct {
	NodeType     string
	Factory      Factory
	InputCaps    FieldConstraints
	OutputCaps   FieldConstraints
	Traits       node.Traits
	Capabilities node.Capabilities

	schema *compiledSchema
}

// Registry is the in-memory, read-mostly store of registered node types
// (spec.md §4.B). Guarded by sync.RWMutex: writes only happen at startup,
// per spec.md §5's "Shared resources" concurrency model, the same shape
// tvarr's internal/repository package uses for its entity stores.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewRegistry constructs an empty capability registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Register adds a node type to the registry, compiling its param schema
// once up front so a bad schema fails at startup rather than on first use.
func (r *Registry) Register(nodeType string, factory Factory, paramSchema json.RawMessage, inputCaps, outputCaps FieldConstraints, traits node.Traits) error {
	schema, err := compileSchema(nodeType, paramSchema)
	if err != nil {
		return err
	}

	caps := node.NewCapabilities(nodeType)
	caps.Parallelizable = traits.Has(node.Parallelizable)
	caps.BatchAware = traits.Has(node.BatchAware)
	caps.SupportsControlMessages = traits.Has(node.SupportsControl)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[nodeType] = &Entry{
		NodeType:     nodeType,
		Factory:      factory,
		InputCaps:    inputCaps,
		OutputCaps:   outputCaps,
		Traits:       traits,
		Capabilities: caps,
		schema:       schema,
	}
	return nil
}

// SetErrorPolicy overrides the Skip/FailFast policy applied when a node
// type raises an Execution error during streaming (spec.md §4.F). Must be
// called after Register; unknown node types are a no-op error.
func (r *Registry) SetErrorPolicy(nodeType string, policy node.ErrorPolicy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[nodeType]
	if !ok {
		return fmt.Errorf("capability: unknown node_type %q", nodeType)
	}
	e.Capabilities.ErrorPolicy = policy
	return nil
}

// Get returns the registered entry for a node type.
func (r *Registry) Get(nodeType string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[nodeType]
	return e, ok
}

// GetSchemaSource returns whether nodeType has a compiled param schema.
func (r *Registry) GetSchemaSource(nodeType string) (hasSchema bool, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[nodeType]
	if !ok {
		return false, false
	}
	return e.schema != nil, true
}

// GetCapabilities returns the input/output capability descriptors for a
// node type (spec.md §4.B's get_capabilities).
func (r *Registry) GetCapabilities(nodeType string) (input, output FieldConstraints, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[nodeType]
	if !ok {
		return FieldConstraints{}, FieldConstraints{}, false
	}
	return e.InputCaps, e.OutputCaps, true
}

// ValidateParams validates a node's params against its registered schema
// (spec.md §4.B's validate_params). A node type with no registered schema
// always succeeds.
func (r *Registry) ValidateParams(nodeID, nodeType string, params json.RawMessage) error {
	r.mu.RLock()
	e, ok := r.entries[nodeType]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("capability: unknown node_type %q", nodeType)
	}
	return e.schema.Validate(nodeID, nodeType, params)
}

// ValidateEdge checks that the upstream node's output capabilities are a
// subset of the downstream node's input capabilities under the
// refinement lattice (spec.md §3.3/§4.B).
func (r *Registry) ValidateEdge(fromID, fromType, toID, toType string) error {
	r.mu.RLock()
	fromEntry, fromOK := r.entries[fromType]
	toEntry, toOK := r.entries[toType]
	r.mu.RUnlock()
	if !fromOK {
		return fmt.Errorf("capability: unknown node_type %q", fromType)
	}
	if !toOK {
		return fmt.Errorf("capability: unknown node_type %q", toType)
	}

	if mismatch := Compatible(fromEntry.OutputCaps, toEntry.InputCaps); mismatch != nil {
		mismatch.Source = fromID
		mismatch.Target = toID
		return mismatch
	}
	return nil
}
