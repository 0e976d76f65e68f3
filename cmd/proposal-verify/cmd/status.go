package cmd

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/bianoble/proposal-verify/internal/cache"
	"github.com/bianoble/proposal-verify/internal/report"
	"github.com/bianoble/proposal-verify/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status [proposal-id...]",
	Short: "Show the persisted state of verification runs",
	Long: `Shows, for all or named proposals, the stage each run reached and the
verdict it recorded. Runs without a verdict were interrupted and can be
continued with 'verify --resume'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store := newStore(cfg)
		artifacts, err := cache.New(cacheDir(cfg))
		if err != nil {
			return err
		}

		known, err := store.IDs()
		if err != nil {
			return err
		}
		ids := args
		if len(ids) == 0 {
			ids = known
		}
		if len(ids) == 0 {
			info(cmd, "No runs recorded.")
			return nil
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%-24s %-9s %-13s %-28s %s\n", "PROPOSAL", "STAGE", "VERDICT", "REASON", "UPDATED")
		for _, id := range ids {
			if !slices.Contains(known, id) {
				fmt.Fprintf(out, "%-24s %-9s %-13s %-28s %s\n", id, "-", "-", "-", "never run")
				continue
			}
			run, err := store.LoadRun(id)
			if err != nil {
				errorf(cmd, "%s: %s", id, err)
				continue
			}

			outcome, reason := "-", "-"
			rec, err := store.LoadVerdict(id)
			switch {
			case err == nil:
				outcome = string(rec.Outcome)
				if rec.Reason != "" {
					reason = string(rec.Reason)
				}
			case errors.Is(err, state.ErrNoRun):
				outcome = "unfinished"
			default:
				errorf(cmd, "%s: %s", id, err)
			}

			fmt.Fprintf(out, "%-24s %-9s %-13s %-28s %s\n", id, run.Stage, outcome, reason, run.UpdatedAt.Format(time.RFC3339))
			detail(cmd, "run:      %s", run.RunID)
			if rec != nil {
				if rec.Commit != "" {
					detail(cmd, "commit:   %s", rec.Commit)
				}
				if rec.Image != "" {
					detail(cmd, "image:    %s", report.Trust{Image: rec.Image, ImageDigest: rec.ImageDigest}.ImageRef())
				}
				detail(cmd, "expected: %s", rec.ExpectedHash)
				if rec.ProducedHash != nil {
					cached := "not cached"
					if artifacts.Has(cache.Key(rec.Algorithm, *rec.ProducedHash)) {
						cached = "cached"
					}
					detail(cmd, "produced: %s (%s)", *rec.ProducedHash, cached)
				}
				if rec.Detail != "" {
					detail(cmd, "detail:   %s", rec.Detail)
				}
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
