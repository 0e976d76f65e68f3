package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bianoble/proposal-verify/internal/pipeline"
	"github.com/bianoble/proposal-verify/internal/state"
	"github.com/bianoble/proposal-verify/internal/verdict"
)

var (
	scanResume      bool
	scanConcurrency int
	scanFromFile    string
)

var scanCmd = &cobra.Command{
	Use:   "scan [proposal-id...]",
	Short: "Verify several proposals concurrently",
	Long: `Verifies each listed proposal independently, running up to --concurrency
pipelines at once (default: pipeline.concurrency from the config). Reports are
printed as runs finish.

Ids may also be read from a file with --from, one per line; blank lines and
lines starting with '#' are ignored.

The exit code is the most severe outcome: internal error, then mismatch, then
inconclusive, then match.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := append([]string(nil), args...)
		if scanFromFile != "" {
			more, err := readIDs(scanFromFile)
			if err != nil {
				return usageError(err)
			}
			ids = append(ids, more...)
		}
		if len(ids) == 0 {
			return usageError(fmt.Errorf("no proposal ids given"))
		}
		for _, id := range ids {
			if !state.ValidID(id) {
				return usageError(fmt.Errorf("invalid proposal id %q", id))
			}
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

		concurrency := scanConcurrency
		if concurrency <= 0 {
			concurrency = cfg.Pipeline.Concurrency
		}
		scanner := &pipeline.Scanner{Verifier: v, Concurrency: concurrency, Sink: newSink(cmd)}
		results := scanner.VerifyAll(ctx, ids, pipeline.Options{Resume: scanResume})

		code, counts := summarize(results)
		for _, r := range results {
			if r.Err != nil {
				errorf(cmd, "%s: %s", r.ProposalID, r.Err)
			}
		}
		info(cmd, "\nScanned %d proposal(s): %d match, %d mismatch, %d inconclusive, %d error(s).",
			len(results), counts[verdict.Match], counts[verdict.Mismatch], counts[verdict.Inconclusive], counts[""])

		if code != ExitMatch {
			return &ExitError{Code: code}
		}
		return nil
	},
}

// summarize folds scan results into the most severe exit code and a count
// per outcome. Runs that failed to persist count under the empty outcome.
func summarize(results []pipeline.ScanResult) (int, map[verdict.Outcome]int) {
	counts := make(map[verdict.Outcome]int)
	code := ExitMatch
	for _, r := range results {
		c := ExitInternal
		switch {
		case r.Err != nil || r.Report == nil:
			counts[""]++
		default:
			c = outcomeCode(r.Report.Verdict.Outcome)
			counts[r.Report.Verdict.Outcome]++
		}
		if severity(c) > severity(code) {
			code = c
		}
	}
	return code, counts
}

func readIDs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading ids: %w", err)
	}
	defer f.Close()

	var ids []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading ids: %w", err)
	}
	return ids, nil
}

func init() {
	scanCmd.Flags().BoolVar(&scanResume, "resume", false, "continue unfinished runs instead of starting over")
	scanCmd.Flags().IntVar(&scanConcurrency, "concurrency", 0, "maximum concurrent runs (0 uses the config value)")
	scanCmd.Flags().StringVar(&scanFromFile, "from", "", "file listing proposal ids, one per line")
	rootCmd.AddCommand(scanCmd)
}
