package cli

import (
	"fmt"

	"github.com/picklr-io/splunk-stack/internal/synth"
	"github.com/spf13/cobra"
)

func newSynthCmd(opts *options) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Print the deployment template for the selected variant",
		Long: `Builds the selected variant and prints it as a template document: every
resource keyed by address with its properties and dependencies.

The output is deterministic; synthesizing the same settings twice yields
identical bytes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := opts.loadStack(cmd.Context())
			if err != nil {
				return err
			}
			out, err := synth.Synth(cfg, format)
			if err != nil {
				return fmt.Errorf("synthesis failed: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", synth.FormatJSON, "Output format: json or yaml")
	return cmd
}
