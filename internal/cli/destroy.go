package cli

import (
	"fmt"

	"github.com/picklr-io/splunk-stack/internal/logging"
	"github.com/spf13/cobra"
)

func newDestroyCmd(opts *options) *cobra.Command {
	var autoApprove bool

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Destroy all managed infrastructure",
		Long: `Destroys all resources recorded in state, dependents before their
dependencies.

This command is the inverse of 'splunkstack apply'. Resources declared with
prevent_destroy stop the destroy before anything is deleted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p := opts.printer(cmd.OutOrStdout())

			// The declaration is only needed for lifecycle rules; state alone
			// is enough to destroy.
			settings, cfg, err := opts.loadStack(ctx)
			if err != nil {
				logging.Warn("destroying from state alone", "error", err)
			}

			backend, err := opts.openBackend(ctx)
			if err != nil {
				return err
			}
			eng := opts.newEngine(settings)

			return withLock(ctx, backend, func() error {
				current, err := backend.Read(ctx)
				if err != nil {
					return fmt.Errorf("failed to read state: %w", err)
				}

				plan, err := eng.CreateDestroyPlan(ctx, cfg, current)
				if err != nil {
					return fmt.Errorf("destroy plan failed: %w", err)
				}
				if len(plan.Changes) == 0 {
					p.printf("No resources to destroy.\n")
					return nil
				}

				p.printf("splunkstack will destroy the following resources:\n")
				p.renderPlanChanges(plan)
				p.renderPlanSummary(plan)

				if !autoApprove && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), "Do you really want to destroy all resources?") {
					p.printf("Destroy cancelled.\n")
					return nil
				}

				p.printf("\n")
				if _, err := applyAndPersist(ctx, eng, backend, plan, current, p); err != nil {
					return err
				}
				p.printf("\nDestroy complete! Resources: %d destroyed.\n", plan.Summary.Delete)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "Skip interactive approval before destroying")
	return cmd
}
