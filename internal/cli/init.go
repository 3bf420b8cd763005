package cli

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/picklr-io/splunk-stack/internal/topology"
	"github.com/spf13/cobra"
)

func newInitCmd(opts *options) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a settings module with the default settings",
		Long: `Creates the settings module (stack.pkl unless --settings says otherwise)
holding every setting at its default value, ready to edit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.settingsPath
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("failed to stat %s: %w", path, err)
			}

			s := topology.DefaultSettings()
			if opts.variant != "" {
				s.Variant = opts.variant
			}
			if err := os.WriteFile(path, []byte(renderSettingsModule(s)), 0o644); err != nil {
				return fmt.Errorf("failed to create %s: %w", path, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created %s\n", path)
			fmt.Fprintln(out, "\nNext steps:")
			fmt.Fprintf(out, "  1. Edit %s to describe your stack\n", path)
			fmt.Fprintln(out, "  2. Run 'splunkstack validate' to check it")
			fmt.Fprintln(out, "  3. Run 'splunkstack plan' to see what will be created")
			fmt.Fprintln(out, "  4. Run 'splunkstack apply' to create it")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing settings module")
	return cmd
}

// renderSettingsModule writes s as a Pkl module. Empty optional settings are
// left as comments.
func renderSettingsModule(s topology.Settings) string {
	var b strings.Builder
	b.WriteString("// splunkstack settings. Omitted properties keep their defaults and any\n")
	b.WriteString("// property can be overridden with -D key=value.\n\n")

	fmt.Fprintf(&b, "stackName = %q\n", s.StackName)
	fmt.Fprintf(&b, "region = %q\n", s.Region)
	fmt.Fprintf(&b, "variant = %q // %s\n", s.Variant, strings.Join(topology.Variants, " | "))
	b.WriteString("\n// network\n")
	fmt.Fprintf(&b, "vpcCidr = %q\n", s.VpcCidr)
	fmt.Fprintf(&b, "maxAzs = %d\n", s.MaxAzs)
	b.WriteString("\n// instance\n")
	fmt.Fprintf(&b, "instanceType = %q\n", s.InstanceType)
	fmt.Fprintf(&b, "imageNamePattern = %q\n", s.ImageNamePattern)
	if len(s.ImageOwners) == 0 {
		b.WriteString("// imageOwners = new Listing { \"123456789012\" }\n")
	} else {
		b.WriteString("imageOwners = new Listing {\n")
		for _, owner := range s.ImageOwners {
			fmt.Fprintf(&b, "  %q\n", owner)
		}
		b.WriteString("}\n")
	}
	b.WriteString("\n// ports\n")
	fmt.Fprintf(&b, "appPort = %d\n", s.AppPort)
	fmt.Fprintf(&b, "collectorPort = %d\n", s.CollectorPort)
	fmt.Fprintf(&b, "managementPort = %d\n", s.ManagementPort)
	b.WriteString("\n// dns, required by the tls variant\n")
	if s.DomainName == "" {
		b.WriteString("// domainName = \"example.com\"\n")
	} else {
		fmt.Fprintf(&b, "domainName = %q\n", s.DomainName)
	}
	fmt.Fprintf(&b, "subdomain = %q\n", s.Subdomain)

	b.WriteString("\ntags = new Mapping {\n")
	keys := make([]string, 0, len(s.Tags))
	for k := range s.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "  [%q] = %q\n", k, s.Tags[k])
	}
	b.WriteString("}\n")
	return b.String()
}
