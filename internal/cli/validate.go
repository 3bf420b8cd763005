package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/picklr-io/splunk-stack/internal/engine"
	"github.com/picklr-io/splunk-stack/internal/synth"
	"github.com/picklr-io/splunk-stack/internal/topology"
	"github.com/spf13/cobra"
)

func newValidateCmd(opts *options) *cobra.Command {
	var (
		all      bool
		template string
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the settings and the structure of the generated stack",
		Long: `Validates the settings, builds the stack and checks the structural
properties each variant promises: a single instance reachable only through
the balancer, HTTPS listeners on a certificate for the published name, and
so on. Exits non-zero when any check fails.

With --all every variant is checked with the same settings. With --template
a template written by 'splunkstack synth' is read back and checked instead;
--variant overrides the variant it records.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if template != "" {
				return validateTemplate(cmd.OutOrStdout(), template, opts.variant)
			}

			s, err := opts.loadSettings(cmd.Context())
			if err != nil {
				return err
			}

			variants := []string{s.Variant}
			if all {
				variants = topology.Variants
			}

			out := cmd.OutOrStdout()
			failures := 0
			for _, variant := range variants {
				fmt.Fprintf(out, "Checking %s... ", variant)
				violations, err := validateVariant(variant, s)
				if err != nil {
					fmt.Fprintln(out, "FAILED")
					return err
				}
				if len(violations) == 0 {
					fmt.Fprintln(out, "OK")
					continue
				}
				fmt.Fprintln(out, "FAILED")
				for _, v := range violations {
					fmt.Fprintf(out, "  %s\n", v)
				}
				failures += len(violations)
			}

			if failures > 0 {
				return fmt.Errorf("%d violation(s) found", failures)
			}
			fmt.Fprintln(out, "\nStack is valid!")
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Check every variant")
	cmd.Flags().StringVar(&template, "template", "", "Check a synthesized template file (.json, .yaml or .yml)")
	cmd.MarkFlagsMutuallyExclusive("all", "template")
	return cmd
}

// validateTemplate parses a synthesized template and verifies it as variant,
// or as the variant it records when variant is empty.
func validateTemplate(out io.Writer, path, variant string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read template: %w", err)
	}
	format := synth.FormatJSON
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".yaml" || ext == ".yml" {
		format = synth.FormatYAML
	}
	cfg, err := synth.Parse(data, format)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if variant == "" {
		variant = cfg.Variant
	}

	fmt.Fprintf(out, "Checking %s (%s)... ", path, variant)
	if _, err := engine.BuildDAG(cfg.Resources); err != nil {
		fmt.Fprintln(out, "FAILED")
		return fmt.Errorf("invalid dependency graph: %w", err)
	}
	violations := topology.Verify(variant, cfg)
	if len(violations) > 0 {
		fmt.Fprintln(out, "FAILED")
		for _, v := range violations {
			fmt.Fprintf(out, "  %s\n", v)
		}
		return fmt.Errorf("%d violation(s) found", len(violations))
	}
	fmt.Fprintln(out, "OK")
	fmt.Fprintln(out, "\nTemplate is valid!")
	return nil
}

// validateVariant builds variant and reports its structural violations.
func validateVariant(variant string, s topology.Settings) ([]topology.Violation, error) {
	s.Variant = variant
	cfg, err := topology.Build(variant, s)
	if err != nil {
		return nil, err
	}
	if _, err := engine.BuildDAG(cfg.Resources); err != nil {
		return nil, fmt.Errorf("invalid dependency graph: %w", err)
	}
	return topology.Verify(variant, cfg), nil
}
