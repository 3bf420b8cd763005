package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/picklr-io/splunk-stack/internal/engine"
	"github.com/picklr-io/splunk-stack/internal/ir"
	"github.com/picklr-io/splunk-stack/internal/state"
	"github.com/spf13/cobra"
)

func newApplyCmd(opts *options) *cobra.Command {
	var (
		autoApprove     bool
		continueOnError bool
		targets         []string
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Create or update the stack",
		Long: `Plans the changes needed to reach the stack described by the settings and,
once approved, applies them. Deletions run first, dependents before their
dependencies; creations and updates follow in dependency order.

State is locked for the duration and written after the apply, including
after a partial failure.`,
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

			eng := opts.newEngine(settings)
			eng.ContinueOnError = continueOnError

			return withLock(ctx, backend, func() error {
				current, err := backend.Read(ctx)
				if err != nil {
					return fmt.Errorf("failed to read state: %w", err)
				}

				plan, err := eng.CreatePlanWithTargets(ctx, cfg, current, targets)
				if err != nil {
					return fmt.Errorf("plan generation failed: %w", err)
				}
				if len(plan.Changes) == 0 {
					p.printf("No changes. The %s stack %q is up-to-date.\n", cfg.Variant, cfg.Stack)
					return nil
				}

				p.printf("splunkstack will perform the following actions:\n")
				p.renderPlanChanges(plan)
				p.renderPlanSummary(plan)

				if !autoApprove && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), "Do you want to perform these actions?") {
					p.printf("Apply cancelled.\n")
					return nil
				}

				p.printf("\n")
				next, err := applyAndPersist(ctx, eng, backend, plan, current, p)
				if err != nil {
					return err
				}

				p.printf("\nApply complete! Resources: %d added, %d changed, %d replaced, %d destroyed.\n",
					plan.Summary.Create, plan.Summary.Update, plan.Summary.Replace, plan.Summary.Delete)
				if len(next.Outputs) > 0 {
					p.printf("\nOutputs:\n\n")
					p.renderOutputs(next.Outputs)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "Skip interactive approval of plan before applying")
	cmd.Flags().BoolVar(&continueOnError, "continue-on-error", false, "Keep applying resources that do not depend on a failed one")
	cmd.Flags().StringSliceVar(&targets, "target", nil, "Limit the apply to these resource addresses and their dependencies")
	return cmd
}

// applyAndPersist applies plan and writes the resulting state, also when the
// apply fails part way so completed changes are not forgotten.
func applyAndPersist(ctx context.Context, eng *engine.Engine, backend state.Backend, plan *ir.Plan, current *ir.State, p *printer) (*ir.State, error) {
	next, applyErr := eng.ApplyPlanWithCallback(ctx, plan, current, p.progress)
	if next == nil {
		next = current
	}

	if err := backend.Write(context.WithoutCancel(ctx), next); err != nil {
		return next, errors.Join(applyErr, fmt.Errorf("failed to write state: %w", err))
	}
	if applyErr != nil {
		return next, fmt.Errorf("apply failed: %w", applyErr)
	}
	return next, nil
}
