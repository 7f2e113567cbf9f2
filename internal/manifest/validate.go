package manifest

import (
	"fmt"

	"github.com/mediarun/mediarun/internal/apperrors"
)

// Validate checks the manifest's structural invariants (spec.md §3.2):
// version recognized, node ids unique, every connection endpoint refers
// to a declared node, and the graph is acyclic. It does not validate node
// params against a schema or check capability compatibility between
// connected nodes — that is the Capability Registry's job (internal/capability).
func (m *Manifest) Validate() error {
	if _, ok := NormalizeVersion(m.Version); !ok {
		return &apperrors.ManifestErr{Reason: fmt.Sprintf("unrecognized manifest version %q", m.Version)}
	}

	seen := make(map[string]struct{}, len(m.Nodes))
	for _, n := range m.Nodes {
		if n.ID == "" {
			return &apperrors.ManifestErr{Reason: "node with empty id"}
		}
		if _, dup := seen[n.ID]; dup {
			return &apperrors.ManifestErr{Reason: fmt.Sprintf("duplicate node id %q", n.ID)}
		}
		seen[n.ID] = struct{}{}
	}

	adjacency := make(map[string][]string, len(m.Nodes))
	for _, c := range m.Connections {
		if _, ok := seen[c.From]; !ok {
			return &apperrors.ManifestErr{Reason: fmt.Sprintf("connection references undeclared node %q", c.From)}
		}
		if _, ok := seen[c.To]; !ok {
			return &apperrors.ManifestErr{Reason: fmt.Sprintf("connection references undeclared node %q", c.To)}
		}
		adjacency[c.From] = append(adjacency[c.From], c.To)
	}

	if cyclePath, ok := findCycle(m.Nodes, adjacency); ok {
		return &apperrors.ManifestErr{Reason: fmt.Sprintf("cycle detected: %v", cyclePath)}
	}

	return nil
}

// nodeColor tracks DFS visitation state for cycle detection.
type nodeColor int

const (
	colorWhite nodeColor = iota // unvisited
	colorGray                   // on the current DFS stack
	colorBlack                  // fully explored
)

// findCycle runs an iterative-by-recursion DFS over the connection graph
// and returns the first cycle found, expressed as the node ids on the
// cycle in traversal order.
func findCycle(nodes []NodeSpec, adjacency map[string][]string) ([]string, bool) {
	colors := make(map[string]nodeColor, len(nodes))
	var stack []string

	var visit func(id string) ([]string, bool)
	visit = func(id string) ([]string, bool) {
		colors[id] = colorGray
		stack = append(stack, id)

		for _, next := range adjacency[id] {
			switch colors[next] {
			case colorGray:
				cycleStart := indexOf(stack, next)
				return append(append([]string{}, stack[cycleStart:]...), next), true
			case colorWhite:
				if path, found := visit(next); found {
					return path, true
				}
			}
		}

		stack = stack[:len(stack)-1]
		colors[id] = colorBlack
		return nil, false
	}

	for _, n := range nodes {
		if colors[n.ID] == colorWhite {
			if path, found := visit(n.ID); found {
				return path, true
			}
		}
	}
	return nil, false
}

func indexOf(s []string, v string) int {
	for i, item := range s {
		if item == v {
			return i
		}
	}
	return -1
}
