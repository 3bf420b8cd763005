package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newShowCmd(opts *options) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current state",
		Long:  `Displays a human-readable view of the deployed stack.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			backend, err := opts.openBackend(ctx)
			if err != nil {
				return err
			}
			s, err := backend.Read(ctx)
			if err != nil {
				return fmt.Errorf("failed to read state: %w", err)
			}

			if asJSON {
				data, err := json.MarshalIndent(s, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal state: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}

			p := opts.printer(cmd.OutOrStdout())
			p.printf("Stack: %s (%s)\n", orNone(s.Stack), orNone(s.Variant))
			p.printf("State: version=%d serial=%d lineage=%s\n", s.Version, s.Serial, s.Lineage)
			p.printf("Resources: %d\n", len(s.Resources))

			for _, res := range s.Resources {
				p.printf("\n# %s\n", res.Address())
				p.printf("  provider = %s\n", res.Provider)
				for _, line := range sortedLines(res.Outputs, "  ") {
					p.printf("%s\n", line)
				}
			}

			if len(s.Outputs) > 0 {
				p.printf("\nOutputs:\n\n")
				p.renderOutputs(s.Outputs)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output in JSON format")
	return cmd
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
