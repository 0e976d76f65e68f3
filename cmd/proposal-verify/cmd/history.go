package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bianoble/proposal-verify/internal/extract"
	"github.com/bianoble/proposal-verify/internal/index"
	"github.com/bianoble/proposal-verify/internal/verdict"
)

var (
	historyLimit   int
	historyOutcome string
)

var historyCmd = &cobra.Command{
	Use:   "history [proposal-id]",
	Short: "List finished verification runs, newest first",
	Long: `Lists runs recorded in the run index. Unlike 'status', which shows only the
latest run per proposal, history keeps every finished run.`,
	Args: usageArgs(cobra.MaximumNArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch verdict.Outcome(historyOutcome) {
		case "", verdict.Match, verdict.Mismatch, verdict.Inconclusive:
		default:
			return usageError(fmt.Errorf("unknown outcome %q (want match, mismatch or inconclusive)", historyOutcome))
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		idx, err := openIndex(cfg)
		if err != nil {
			return err
		}
		defer idx.Close()

		filter := index.Filter{Outcome: historyOutcome, Limit: historyLimit}
		if len(args) == 1 {
			filter.ProposalID = args[0]
		}
		runs, err := idx.List(commandContext(cmd), filter)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			info(cmd, "No runs recorded.")
			return nil
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%-20s %-24s %-13s %-28s %-8s %s\n", "FINISHED", "PROPOSAL", "VERDICT", "REASON", "COMMIT", "DURATION")
		for _, r := range runs {
			reason := r.Reason
			if reason == "" {
				reason = "-"
			}
			commit := extract.CommitReference(r.Commit).Short()
			if commit == "" {
				commit = "-"
			}
			fmt.Fprintf(out, "%-20s %-24s %-13s %-28s %-8s %s\n",
				r.FinishedAt.Format("2006-01-02 15:04:05"), r.ProposalID, r.Outcome, reason, commit,
				r.FinishedAt.Sub(r.StartedAt).Round(time.Second))
			detail(cmd, "run: %s", r.RunID)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum runs to list (0 for all)")
	historyCmd.Flags().StringVar(&historyOutcome, "outcome", "", "only list runs with this verdict")
	rootCmd.AddCommand(historyCmd)
}
