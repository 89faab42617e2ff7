package cli

import (
	"fmt"
	"slices"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/roach88/moka/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	NoColor    bool
	ConfigPath string

	// Config is the file configuration with flag overrides applied. It is
	// resolved before any subcommand runs.
	Config config.Config

	flags config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the moka CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "moka",
		Short: "moka - verify and instrument smart-contract class files",
		Long: `Verify a module of JVM class files against the smart-contract rules
and rewrite it with gas metering and caller bookkeeping.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if opts.NoColor {
				color.NoColor = true
			}
			return opts.resolveConfig(cmd.Flags())
		},
	}

	pf := cmd.PersistentFlags()
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	pf.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	pf.BoolVar(&opts.NoColor, "no-color", false, "disable colour in text output")
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "configuration file (default ./"+config.FileName+" when present)")

	pf.IntVar(&opts.flags.VerificationVersion, "verification-version", 0, "verification version")
	pf.BoolVar(&opts.flags.DuringInitialization, "during-initialization", false, "verify base classes installed at node initialisation")
	pf.BoolVar(&opts.flags.AllowSelfCharged, "allow-self-charged", false, "permit @SelfCharged methods")
	pf.IntVar(&opts.flags.CostVersion, "cost-version", 0, "gas cost model version")
	pf.StringVar(&opts.flags.Whitelist, "whitelist", "", "CUE whitelist table replacing the built-in one")
	pf.IntVarP(&opts.flags.Concurrency, "concurrency", "j", 0, "classes per run and runs per batch processed at once")
	pf.StringVar(&opts.flags.CachePath, "cache", "", "SQLite result cache")
	pf.IntVar(&opts.flags.CacheSize, "cache-size", 0, "results kept in memory")
	pf.StringVar(&opts.flags.MetricsPath, "metrics", "", "write metrics in text exposition format to this file")

	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewInstrumentCommand(opts))
	cmd.AddCommand(NewBatchCommand(opts))
	cmd.AddCommand(NewWhitelistCommand(opts))
	cmd.AddCommand(NewCostCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))
	cmd.AddCommand(NewCacheCommand(opts))

	return cmd
}

// resolveConfig loads the configuration file and lays every flag the user
// set on top of it.
func (o *RootOptions) resolveConfig(fs *pflag.FlagSet) error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "load configuration", err)
	}
	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	set("verification-version", func() { cfg.VerificationVersion = o.flags.VerificationVersion })
	set("during-initialization", func() { cfg.DuringInitialization = o.flags.DuringInitialization })
	set("allow-self-charged", func() { cfg.AllowSelfCharged = o.flags.AllowSelfCharged })
	set("cost-version", func() { cfg.CostVersion = o.flags.CostVersion })
	set("whitelist", func() { cfg.Whitelist = o.flags.Whitelist })
	set("concurrency", func() { cfg.Concurrency = o.flags.Concurrency })
	set("cache", func() { cfg.CachePath = o.flags.CachePath })
	set("cache-size", func() { cfg.CacheSize = o.flags.CacheSize })
	set("metrics", func() { cfg.MetricsPath = o.flags.MetricsPath })
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	o.Config = cfg
	return nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
