package pipeline

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bianoble/proposal-verify/internal/report"
)

// ScanResult is the outcome for one proposal of a scan.
type ScanResult struct {
	ProposalID string
	Report     *report.Report
	Err        error
}

// Scanner verifies several proposals with bounded concurrency. Runs are
// independent: one run's failure never cancels another.
type Scanner struct {
	Verifier    *Verifier
	Concurrency int
	// Sink, when set, receives each report as soon as its run finishes.
	Sink report.Sink
}

// VerifyAll verifies every distinct id and returns results in input order.
func (s *Scanner) VerifyAll(ctx context.Context, ids []string, opts Options) []ScanResult {
	ids = dedupe(ids)
	results := make([]ScanResult, len(ids))

	limit := s.Concurrency
	if limit < 1 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)

	for i, id := range ids {
		results[i].ProposalID = id
		g.Go(func() error {
			rep, err := s.Verifier.Verify(ctx, id, opts)
			results[i].Report = rep
			results[i].Err = err
			if rep != nil && s.Sink != nil {
				if pubErr := s.Sink.Publish(context.WithoutCancel(ctx), rep); pubErr != nil {
					s.Verifier.logger().Warn("publishing report", zap.String("proposal", id), zap.Error(pubErr))
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// dedupe drops repeated ids, keeping first occurrences in order. Two runs
// of one proposal would share a run directory.
func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
