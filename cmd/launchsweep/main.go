package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/launchsweep/launchsweep/internal/cmd"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	opts := &cmd.SweepOptions{}

	rootCmd := &cobra.Command{
		Use:     "launchsweep <ledger.csv>",
		Short:   "launchsweep - model launch validation sweeps",
		Long:    "launchsweep walks a CSV ledger of model identifiers, synthesizes a launch command for each, runs it, and records which models actually come up serving.",
		Args:    cobra.ExactArgs(1),
		Version: Version,
		// Silence Cobra's default error/usage printing so we control output
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(c *cobra.Command, args []string) error {
			opts.LedgerPath = args[0]
			return cmd.RunSweep(*opts)
		},
	}

	rootCmd.SetVersionTemplate("launchsweep version {{.Version}}\n")

	rootCmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "Show the live dashboard while sweeping")
	rootCmd.Flags().IntVarP(&opts.MaxRetries, "max-retries", "r", 0, "Attempt budget per subject (default: from config)")
	rootCmd.Flags().IntVarP(&opts.TimeoutSec, "timeout", "t", 0, "Per-attempt timeout in seconds (default: from config)")
	rootCmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Synthesize commands without executing or recording anything")

	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newLogsCmd())

	// Custom help for root command only (subcommands use default Cobra help)
	defaultHelp := rootCmd.HelpFunc()
	rootCmd.SetHelpFunc(func(c *cobra.Command, args []string) {
		if c != rootCmd {
			defaultHelp(c, args)
			return
		}
		fmt.Print(`launchsweep - model launch validation sweeps

Usage:
  launchsweep [options] <ledger.csv>
  launchsweep <command> [arguments]

Commands:
  status <ledger.csv>        Show per-subject verdicts for a ledger
  logs <subject>             Print the subject's most recent attempt log

Options:
  --watch, -w                Show the live dashboard while sweeping
  --max-retries N, -r N      Attempt budget per subject (default: from config)
  --timeout N, -t N          Per-attempt timeout in seconds (default: from config)
  --dry-run                  Synthesize commands without executing anything
  -h, --help                 Show this help message
  -v, --version              Show version number

Examples:
  launchsweep models.csv     Sweep every pending model in models.csv
  launchsweep -w models.csv  Sweep with the live dashboard
  launchsweep --dry-run models.csv
                             Preview the commands that would run
  launchsweep status models.csv
                             Show verdicts without sweeping
  launchsweep logs org/model-7b
                             Show why org/model-7b failed
`)
	})

	return rootCmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <ledger.csv>",
		Short: "Show per-subject verdicts for a ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return cmd.RunStatus(os.Stdout, args[0])
		},
	}
}

func newLogsCmd() *cobra.Command {
	var tail int
	logsCmd := &cobra.Command{
		Use:   "logs <subject>",
		Short: "Print the subject's most recent attempt log",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return cmd.RunLogs(os.Stdout, args[0], tail)
		},
	}
	logsCmd.Flags().IntVarP(&tail, "tail", "n", 0, "Only print the last N lines")
	return logsCmd
}
