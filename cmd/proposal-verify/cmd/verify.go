package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bianoble/proposal-verify/internal/pipeline"
	"github.com/bianoble/proposal-verify/internal/state"
)

var verifyResume bool

var verifyCmd = &cobra.Command{
	Use:   "verify <proposal-id>",
	Short: "Rebuild a proposal's WASM and check its hash",
	Long: `Fetches the proposal, extracts the commit and expected hash it declares,
infers a build plan, rebuilds the artifact in the configured container image
and compares digests.

Exit codes:
  0   match: the rebuilt artifact has the expected hash
  1   mismatch: the rebuilt artifact has a different hash
  2   inconclusive: verification could not be completed
  64  usage error
  70  internal error

Use --resume to continue an interrupted run from its saved proposal and plan.`,
	Args: usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		if !state.ValidID(id) {
			return usageError(fmt.Errorf("invalid proposal id %q", id))
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := requireAPIKey(cfg); err != nil {
			return err
		}
		logger := newLogger(cmd)
		defer func() { _ = logger.Sync() }()

		ctx, stop := signalContext(cmd)
		defer stop()

		v, err := pipeline.New(ctx, pipeline.Setup{Config: cfg, Logger: logger, Version: version})
		if err != nil {
			return err
		}
		defer v.Close()

		rep, err := v.Verify(ctx, id, pipeline.Options{Resume: verifyResume})
		if rep != nil {
			if pubErr := newSink(cmd).Publish(context.WithoutCancel(ctx), rep); pubErr != nil {
				return &ExitError{Code: ExitInternal, Err: fmt.Errorf("writing report: %w", pubErr)}
			}
		}
		if err != nil {
			return &ExitError{Code: ExitInternal, Err: err}
		}

		if code := outcomeCode(rep.Verdict.Outcome); code != ExitMatch {
			return &ExitError{Code: code}
		}
		return nil
	},
}

// signalContext derives a context cancelled on interrupt or SIGTERM, so a
// run in flight tears down its container and records a cancelled verdict.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
}

func init() {
	verifyCmd.Flags().BoolVar(&verifyResume, "resume", false, "continue an unfinished run instead of starting over")
	rootCmd.AddCommand(verifyCmd)
}
