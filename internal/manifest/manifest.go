// Package manifest defines the declarative graph description that a
// session is built from: node specs, their parameters, and the
// connections between them (spec.md §3.2).
package manifest

import "encoding/json"

// Manifest describes a node graph to be instantiated as a streaming
// session.
type Manifest struct {
	Version     string       `json:"version" yaml:"version"`
	Metadata    Metadata     `json:"metadata" yaml:"metadata"`
	Nodes       []NodeSpec   `json:"nodes" yaml:"nodes"`
	Connections []Connection `json:"connections" yaml:"connections"`

	// extra preserves unknown top-level fields verbatim (spec.md §6.1:
	// "unknown top-level fields are preserved").
	extra map[string]json.RawMessage
}

// Metadata is the manifest's descriptive header.
type Metadata struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	CreatedAt   string `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// RuntimeHint values for NodeSpec.RuntimeHint (spec.md §2 Component E):
// whether a node runs as an in-process object or is driven out-of-process
// through the Worker Process Manager. An empty RuntimeHint is treated as
// RuntimeInProcess.
const (
	RuntimeInProcess    = "in_process"
	RuntimeOutOfProcess = "out_of_process"
)

// NodeSpec declares one node instance in the graph.
type NodeSpec struct {
	ID          string          `json:"id" yaml:"id"`
	NodeType    string          `json:"node_type" yaml:"node_type"`
	Params      json.RawMessage `json:"params,omitempty" yaml:"params,omitempty"`
	IsStreaming bool            `json:"is_streaming" yaml:"is_streaming"`
	RuntimeHint string          `json:"runtime_hint,omitempty" yaml:"runtime_hint,omitempty"`
	InputTypes  []string        `json:"input_types,omitempty" yaml:"input_types,omitempty"`
	OutputTypes []string        `json:"output_types,omitempty" yaml:"output_types,omitempty"`
}

// Connection names a directed edge between two declared nodes, optionally
// pinned to a named port on either end.
type Connection struct {
	From     string `json:"from" yaml:"from"`
	To       string `json:"to" yaml:"to"`
	FromPort string `json:"from_port,omitempty" yaml:"from_port,omitempty"`
	ToPort   string `json:"to_port,omitempty" yaml:"to_port,omitempty"`
}

// normalizedVersions maps accepted version synonyms to the canonical form
// (spec.md §6.1: "1.0" and "v1" are accepted synonyms).
var normalizedVersions = map[string]string{
	"1.0": "1.0",
	"v1":  "1.0",
}

// NormalizeVersion resolves a manifest version string to its canonical
// form, reporting whether the version was recognized.
func NormalizeVersion(v string) (string, bool) {
	canon, ok := normalizedVersions[v]
	return canon, ok
}

// NodeByID returns the node spec with the given id, if present.
func (m *Manifest) NodeByID(id string) (NodeSpec, bool) {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return NodeSpec{}, false
}
