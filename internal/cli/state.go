package cli

import (
	"fmt"
	"sort"

	"github.com/picklr-io/splunk-stack/internal/ir"
	"github.com/spf13/cobra"
)

func newStateCmd(opts *options) *cobra.Command {
	stateCmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect and modify state",
		Long:  `Commands for inspecting and modifying the recorded state of the stack.`,
	}

	stateCmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List resources in state",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runStateList(cmd, opts)
			},
		},
		&cobra.Command{
			Use:   "show <address>",
			Short: "Show attributes of a single resource",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runStateShow(cmd, opts, args[0])
			},
		},
		&cobra.Command{
			Use:   "rm <address>",
			Short: "Remove a resource from state (does not destroy)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runStateRm(cmd, opts, args[0])
			},
		},
	)
	return stateCmd
}

func runStateList(cmd *cobra.Command, opts *options) error {
	ctx := cmd.Context()
	backend, err := opts.openBackend(ctx)
	if err != nil {
		return err
	}
	s, err := backend.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	p := opts.printer(cmd.OutOrStdout())
	if len(s.Resources) == 0 {
		p.printf("No resources in state.\n")
		return nil
	}
	for _, res := range s.Resources {
		p.printf("%s\n", res.Address())
	}
	return nil
}

func runStateShow(cmd *cobra.Command, opts *options, addr string) error {
	ctx := cmd.Context()
	backend, err := opts.openBackend(ctx)
	if err != nil {
		return err
	}
	s, err := backend.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	res := s.Lookup(addr)
	if res == nil {
		return fmt.Errorf("resource %s not found in state", addr)
	}

	p := opts.printer(cmd.OutOrStdout())
	p.printf("# %s\n", addr)
	p.printf("  provider = %s\n", res.Provider)
	if len(res.Dependencies) > 0 {
		p.printf("  dependencies = %v\n", res.Dependencies)
	}
	if len(res.Inputs) > 0 {
		p.printf("\n  Inputs:\n")
		for _, line := range sortedLines(res.Inputs, "    ") {
			p.printf("%s\n", line)
		}
	}
	if len(res.Outputs) > 0 {
		p.printf("\n  Outputs:\n")
		for _, line := range sortedLines(res.Outputs, "    ") {
			p.printf("%s\n", line)
		}
	}
	return nil
}

func runStateRm(cmd *cobra.Command, opts *options, addr string) error {
	ctx := cmd.Context()
	backend, err := opts.openBackend(ctx)
	if err != nil {
		return err
	}

	return withLock(ctx, backend, func() error {
		s, err := backend.Read(ctx)
		if err != nil {
			return fmt.Errorf("failed to read state: %w", err)
		}

		kept := make([]*ir.ResourceState, 0, len(s.Resources))
		for _, res := range s.Resources {
			if res.Address() != addr {
				kept = append(kept, res)
			}
		}
		if len(kept) == len(s.Resources) {
			return fmt.Errorf("resource %s not found in state", addr)
		}

		s.Resources = kept
		s.Serial++
		if err := backend.Write(ctx, s); err != nil {
			return fmt.Errorf("failed to write state: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from state (resource was NOT destroyed)\n", addr)
		return nil
	})
}

// sortedLines renders a property map as "key = value" lines in key order.
func sortedLines(m map[string]any, indent string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s%s = %s", indent, k, formatValue(m[k])))
	}
	return lines
}
