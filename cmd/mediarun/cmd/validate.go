package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mediarun/mediarun/internal/builtin"
	"github.com/mediarun/mediarun/internal/capability"
	"github.com/mediarun/mediarun/internal/manifest"
)

// validateCmd loads a manifest and runs it through the same structural and
// capability validation session.Runner.CreateSession performs, without
// actually starting a session. Useful for CI and authoring tools that want
// fast feedback on a manifest before deploying it (spec.md §3.2/§6.1).
var validateCmd = &cobra.Command{
	Use:   "validate [manifest]",
	Short: "Validate a manifest's structure and node/edge capability compatibility",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	m, err := manifest.LoadFile(args[0])
	if err != nil {
		return fmt.Errorf("loading manifest %s: %w", args[0], err)
	}

	if err := m.Validate(); err != nil {
		return fmt.Errorf("manifest structure: %w", err)
	}

	reg := capability.NewRegistry()
	if err := builtin.Register(reg); err != nil {
		return fmt.Errorf("registering builtin node types: %w", err)
	}

	for _, n := range m.Nodes {
		if _, ok := reg.Get(n.NodeType); !ok {
			return fmt.Errorf("node %s: unknown node_type %q (not registered in this runtime)", n.ID, n.NodeType)
		}
		if err := reg.ValidateParams(n.ID, n.NodeType, n.Params); err != nil {
			return fmt.Errorf("node %s: %w", n.ID, err)
		}
	}

	for _, c := range m.Connections {
		fromNode, _ := m.NodeByID(c.From)
		toNode, _ := m.NodeByID(c.To)
		if err := reg.ValidateEdge(c.From, fromNode.NodeType, c.To, toNode.NodeType); err != nil {
			return fmt.Errorf("connection %s->%s: %w", c.From, c.To, err)
		}
	}

	fmt.Printf("%s: %d nodes, %d connections, valid\n", m.Metadata.Name, len(m.Nodes), len(m.Connections))
	return nil
}
