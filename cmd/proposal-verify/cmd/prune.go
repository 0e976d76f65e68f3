package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bianoble/proposal-verify/internal/build"
	"github.com/bianoble/proposal-verify/internal/cache"
)

var (
	pruneDryRun    bool
	pruneOlderThan time.Duration
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove old cached artifacts, index rows and stale build workspaces",
	Long: `Removes cached artifacts stored, and index rows for runs finished, more than
--older-than ago, along with build workspaces left behind by processes that did
not exit cleanly. Persisted run records are kept.

Use --dry-run to see what would be removed without acting.`,
	Args: usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		if pruneOlderThan < 0 {
			return usageError(fmt.Errorf("--older-than must not be negative"))
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cutoff := time.Now().Add(-pruneOlderThan)
		if pruneDryRun {
			info(cmd, "Dry run, nothing removed.")
		}

		c, err := cache.New(cacheDir(cfg))
		if err != nil {
			return err
		}
		if pruneDryRun {
			entries, err := c.Entries()
			if err != nil {
				return err
			}
			var n int
			var size int64
			for _, e := range entries {
				if e.Provenance.StoredAt.IsZero() || e.Provenance.StoredAt.Before(cutoff) {
					n++
					size += e.Size
					detail(cmd, "artifact %s", e.Key)
				}
			}
			info(cmd, "Cache: %d artifact(s), %s", n, humanSize(size))
		} else {
			n, freed, err := c.Prune(cutoff)
			if err != nil {
				return err
			}
			info(cmd, "Cache: removed %d artifact(s), freed %s", n, humanSize(freed))
		}

		if !pruneDryRun {
			idx, err := openIndex(cfg)
			if err != nil {
				return err
			}
			rows, err := idx.Prune(commandContext(cmd), cutoff)
			idx.Close()
			if err != nil {
				return err
			}
			info(cmd, "Index: removed %d run(s)", rows)
		}

		stale, err := build.StaleWorkspaces(cfg.Build.WorkDir, cutoff)
		if err != nil {
			return err
		}
		var failed int
		for _, dir := range stale {
			detail(cmd, "workspace %s", dir)
			if pruneDryRun {
				continue
			}
			if err := os.RemoveAll(dir); err != nil {
				errorf(cmd, "%s", err)
				failed++
			}
		}
		info(cmd, "Workspaces: %d stale", len(stale))
		if failed > 0 {
			return fmt.Errorf("%d workspace(s) could not be removed", failed)
		}
		return nil
	},
}

func init() {
	pruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "show what would be removed without acting")
	pruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 30*24*time.Hour, "only remove entries older than this")
	rootCmd.AddCommand(pruneCmd)
}
