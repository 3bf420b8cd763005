package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newOutputCmd(opts *options) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "output [name]",
		Short: "Show output values from state",
		Long: `Reads output values recorded by the last apply.

If no name is given, all outputs are displayed. If a name is given,
only that output's value is printed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			backend, err := opts.openBackend(ctx)
			if err != nil {
				return err
			}
			s, err := backend.Read(ctx)
			if err != nil {
				return fmt.Errorf("failed to read state: %w", err)
			}

			if len(args) > 0 {
				name := args[0]
				val, ok := s.Outputs[name]
				if !ok {
					return fmt.Errorf("output %q not found", name)
				}
				if asJSON {
					data, err := json.Marshal(val)
					if err != nil {
						return fmt.Errorf("failed to encode output %q: %w", name, err)
					}
					fmt.Fprintln(out, string(data))
				} else {
					fmt.Fprintln(out, val)
				}
				return nil
			}

			if asJSON {
				outputs := s.Outputs
				if outputs == nil {
					outputs = map[string]any{}
				}
				data, err := json.MarshalIndent(outputs, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to encode outputs: %w", err)
				}
				fmt.Fprintln(out, string(data))
				return nil
			}

			if len(s.Outputs) == 0 {
				fmt.Fprintln(out, "No outputs recorded.")
				return nil
			}
			opts.printer(out).renderOutputs(s.Outputs)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output in JSON format")
	return cmd
}
