// Package cli implements the splunkstack command line.
package cli

import (
	"context"

	"github.com/picklr-io/splunk-stack/internal/logging"
	"github.com/spf13/cobra"
)

// options are the flags shared by every command.
type options struct {
	settingsPath string
	statePath    string
	lockTable    string
	profile      string
	variant      string
	properties   map[string]string
	logLevel     string
	logFormat    string
	noColor      bool
}

// NewRootCommand builds the command tree. Each call returns an independent
// tree so commands can be run repeatedly in-process.
func NewRootCommand() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "splunkstack",
		Short: "Deploy Splunk on AWS from a Pkl settings module",
		Long: `splunkstack declares a Splunk server on AWS in one of three variants and
deploys it:

  minimal        a single instance in a private subnet
  load-balanced  the instance behind an internet-facing application load balancer
  tls            HTTPS on a validated certificate with an alias record for the balancer

Settings are read from a Pkl module (stack.pkl by default) and can be
overridden with -D key=value.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logging.Init(opts.logLevel, opts.logFormat)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.settingsPath, "settings", defaultSettingsPath, "Pkl settings module")
	flags.StringVar(&opts.statePath, "state", "", "State location: a file path or s3://bucket/key (default "+defaultStatePath+")")
	flags.StringVar(&opts.lockTable, "lock-table", "", "DynamoDB table used to lock s3 state")
	flags.StringVar(&opts.profile, "profile", "", "AWS shared config profile")
	flags.StringVar(&opts.variant, "variant", "", "Topology variant: minimal, load-balanced or tls (default from settings)")
	flags.StringToStringVarP(&opts.properties, "prop", "D", nil, "Override a setting (format: key=value)")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "Log level: debug, info, warn or error")
	flags.StringVar(&opts.logFormat, "log-format", "text", "Log format: text or json")
	flags.BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(
		newInitCmd(opts),
		newFmtCmd(opts),
		newSynthCmd(opts),
		newValidateCmd(opts),
		newGraphCmd(opts),
		newPlanCmd(opts),
		newApplyCmd(opts),
		newDestroyCmd(opts),
		newOutputCmd(opts),
		newShowCmd(opts),
		newStateCmd(opts),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the root command
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}
