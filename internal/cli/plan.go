package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newPlanCmd(opts *options) *cobra.Command {
	var (
		outFile string
		targets []string
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Generate an execution plan",
		Long: `Generates an execution plan showing what actions splunkstack will take
to reach the stack described by the settings.

The plan shows:
  • Resources to be created
  • Resources to be updated or replaced (with diff)
  • Resources to be deleted`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p := opts.printer(cmd.OutOrStdout())

			settings, cfg, err := opts.loadStack(ctx)
			if err != nil {
				return err
			}

			backend, err := opts.openBackend(ctx)
			if err != nil {
				return err
			}
			current, err := backend.Read(ctx)
			if err != nil {
				return fmt.Errorf("failed to read state: %w", err)
			}

			plan, err := opts.newEngine(settings).CreatePlanWithTargets(ctx, cfg, current, targets)
			if err != nil {
				return fmt.Errorf("plan generation failed: %w", err)
			}

			if len(plan.Changes) == 0 {
				p.printf("No changes. The %s stack %q is up-to-date.\n", cfg.Variant, cfg.Stack)
			} else {
				p.printf("splunkstack will perform the following actions:\n")
				p.renderPlanChanges(plan)
				p.renderPlanSummary(plan)
			}

			if outFile != "" {
				data, err := json.MarshalIndent(plan, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to encode plan: %w", err)
				}
				if err := os.WriteFile(outFile, append(data, '\n'), 0o644); err != nil {
					return fmt.Errorf("failed to write plan: %w", err)
				}
				p.printf("\nPlan saved to %s\n", outFile)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "Write plan to file as JSON")
	cmd.Flags().StringSliceVar(&targets, "target", nil, "Limit planning to these resource addresses and their dependencies")
	return cmd
}
