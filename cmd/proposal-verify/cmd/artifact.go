package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bianoble/proposal-verify/internal/cache"
	"github.com/bianoble/proposal-verify/internal/state"
)

var artifactOutput string

var artifactCmd = &cobra.Command{
	Use:   "artifact <proposal-id>",
	Short: "Export the artifact reproduced by a proposal's latest run",
	Long: `Copies the artifact built by the latest finished run of a proposal out of the
artifact cache. Only runs that reached a match or mismatch produced one.

The cached bytes are re-hashed before they are written.`,
	Args: usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		if !state.ValidID(id) {
			return usageError(fmt.Errorf("invalid proposal id %q", id))
		}
		if artifactOutput == "" {
			return usageError(errors.New("--output is required (use - for stdout)"))
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		rec, err := newStore(cfg).LoadVerdict(id)
		if err != nil {
			return err
		}
		if rec.ProducedHash == nil {
			return fmt.Errorf("proposal %s: latest run was %s and produced no artifact", id, rec.Outcome)
		}

		c, err := cache.New(cacheDir(cfg))
		if err != nil {
			return err
		}
		key := cache.Key(rec.Algorithm, *rec.ProducedHash)
		data, ok, err := c.Get(key)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("artifact %s is no longer cached, run 'verify %s' again", key, id)
		}

		if artifactOutput == "-" {
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		if err := os.WriteFile(artifactOutput, data, 0644); err != nil {
			return fmt.Errorf("writing artifact: %w", err)
		}
		info(cmd, "Wrote %s (%s, %s)", artifactOutput, key, humanSize(int64(len(data))))
		return nil
	},
}

func init() {
	artifactCmd.Flags().StringVarP(&artifactOutput, "output", "o", "", "file to write the artifact to, or - for stdout")
	rootCmd.AddCommand(artifactCmd)
}
