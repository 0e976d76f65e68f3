package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// Build-time variables set via -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flags.
var (
	configPath string
	verbose    bool
	quiet      bool
	noColor    bool
	jsonOutput bool
	logJSON    bool
)

var rootCmd = &cobra.Command{
	Use:   "proposal-verify",
	Short: "Verify governance proposal WASM hashes by rebuilding from source",
	Long: `proposal-verify checks that the WASM artifact hash a governance proposal
claims matches what its source actually builds to. It reads the proposal from
the ledger, finds the commit it names, asks a model for a build plan, rebuilds
in a pinned container image and compares digests.

Every failure to verify is reported as inconclusive, never as a match.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  usageArgs(cobra.NoArgs),
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "proposal-verify %s\n", version)
		fmt.Fprintf(out, "  commit:  %s\n", commit)
		fmt.Fprintf(out, "  built:   %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "proposal-verify.yaml", "path to config file")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "detailed output and debug logs")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "minimal output (verdicts and errors only)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print reports as JSON")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "write logs as JSON")

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &ExitError{Code: ExitUsage, Err: err}
	})
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	return exitCode(rootCmd, err)
}

func exitCode(cmd *cobra.Command, err error) int {
	if err == nil {
		return ExitMatch
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			errorf(cmd, "%s", exitErr.Err)
		}
		return exitErr.Code
	}
	errorf(cmd, "%s", err)
	if isUsageError(err) {
		return ExitUsage
	}
	return ExitInternal
}
