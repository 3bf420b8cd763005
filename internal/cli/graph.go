package cli

import (
	"fmt"
	"io"

	"github.com/picklr-io/splunk-stack/internal/engine"
	"github.com/picklr-io/splunk-stack/internal/ir"
	"github.com/spf13/cobra"
)

func newGraphCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "graph",
		Short: "Output the dependency graph in DOT format",
		Long: `Generates a visual representation of the resource dependency graph
in Graphviz DOT format. Pipe the output to 'dot' to generate an image:

  splunkstack graph | dot -Tpng > graph.png`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := opts.loadStack(cmd.Context())
			if err != nil {
				return err
			}
			return writeDOT(cmd.OutOrStdout(), cfg)
		},
	}
}

// writeDOT prints nodes in declaration order and edges from dependent to
// dependency.
func writeDOT(w io.Writer, cfg *ir.Config) error {
	dag, err := engine.BuildDAG(cfg.Resources)
	if err != nil {
		return fmt.Errorf("failed to build graph: %w", err)
	}

	fmt.Fprintln(w, "digraph splunkstack {")
	fmt.Fprintln(w, "  rankdir = \"BT\";")
	fmt.Fprintln(w, "  node [shape = rect];")
	fmt.Fprintln(w)

	for _, res := range cfg.Resources {
		fmt.Fprintf(w, "  %q;\n", res.Address())
	}
	fmt.Fprintln(w)

	for _, res := range cfg.Resources {
		addr := res.Address()
		for _, dep := range dag.Dependencies(addr) {
			fmt.Fprintf(w, "  %q -> %q;\n", addr, dep)
		}
	}

	fmt.Fprintln(w, "}")
	return nil
}
