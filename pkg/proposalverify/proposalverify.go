// Package proposalverify provides the public Go library API for
// proposal-verify.
//
// proposal-verify rebuilds the WASM artifact a governance proposal installs
// and checks it against the hash recorded on chain. Anything short of a
// completed comparison is reported as inconclusive, never as a match.
//
// # Basic Usage
//
//	client, err := proposalverify.New(ctx, proposalverify.Options{
//	    ConfigPath: "proposal-verify.yaml",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	rep, err := client.Verify(ctx, "42", proposalverify.VerifyOptions{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if rep.Verdict.Outcome != proposalverify.Match {
//	    log.Printf("proposal 42: %s %s", rep.Verdict.Outcome, rep.Verdict.Reason)
//	}
package proposalverify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/bianoble/proposal-verify/internal/config"
	"github.com/bianoble/proposal-verify/internal/logging"
	"github.com/bianoble/proposal-verify/internal/pipeline"
	"github.com/bianoble/proposal-verify/internal/state"
)

// Options configures a proposal-verify client.
type Options struct {
	// ConfigPath is the path to the project config file. Default: "proposal-verify.yaml".
	ConfigPath string

	// NoInherit loads only ConfigPath, skipping system and user layers.
	NoInherit bool

	// Logger receives diagnostics. If nil, warnings and errors go to stderr.
	Logger *zap.Logger

	// Provider overrides the configured inference provider.
	Provider Provider

	// Version is recorded in the trust statement of every report.
	Version string
}

// VerifyOptions configures a single verification.
type VerifyOptions struct {
	// Resume continues an unfinished run from its saved proposal and plan.
	Resume bool
}

// Client is the main entry point for the proposal-verify library.
type Client struct {
	cfg      *config.Config
	verifier *pipeline.Verifier
	store    *state.Store
}

// New loads the configuration and wires a verification pipeline. Close
// releases the run index.
func New(ctx context.Context, opts Options) (*Client, error) {
	if opts.ConfigPath == "" {
		opts.ConfigPath = config.DefaultFileName
	}

	var cfg *config.Config
	var err error
	if opts.NoInherit {
		cfg, err = config.Load(opts.ConfigPath)
	} else {
		var hr *config.HierarchicalResult
		hr, err = config.LoadHierarchical(config.DiscoverOptions{ProjectPath: opts.ConfigPath})
		if hr != nil {
			cfg = hr.Config
		}
	}
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", opts.ConfigPath, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger, err = logging.New(logging.Options{Quiet: true})
		if err != nil {
			return nil, err
		}
	}

	v, err := pipeline.New(ctx, pipeline.Setup{
		Config:   cfg,
		Logger:   logger,
		Version:  opts.Version,
		Provider: opts.Provider,
	})
	if err != nil {
		return nil, err
	}
	return &Client{cfg: cfg, verifier: v, store: &state.Store{Dir: cfg.State.Dir}}, nil
}

// Close releases resources held by the client.
func (c *Client) Close() error {
	return c.verifier.Close()
}

// Verify runs one verification. The report is returned whenever the run
// started, even alongside an error persisting its records.
func (c *Client) Verify(ctx context.Context, proposalID string, opts VerifyOptions) (*Report, error) {
	return c.verifier.Verify(ctx, proposalID, pipeline.Options{Resume: opts.Resume})
}

// Scan verifies several proposals with the configured concurrency.
// Results keep the order of first appearance in ids.
func (c *Client) Scan(ctx context.Context, ids []string, opts VerifyOptions) []ScanResult {
	s := &pipeline.Scanner{Verifier: c.verifier, Concurrency: c.cfg.Pipeline.Concurrency}
	return s.VerifyAll(ctx, ids, pipeline.Options{Resume: opts.Resume})
}

// Status returns the verdict persisted by the latest run for a proposal.
func (c *Client) Status(proposalID string) (*VerdictRecord, error) {
	return c.store.LoadVerdict(proposalID)
}

// History lists finished runs from the run index, newest first.
func (c *Client) History(ctx context.Context, f HistoryFilter) ([]Run, error) {
	return c.verifier.Index.List(ctx, f)
}

// Latest returns the most recent finished run for a proposal, or nil.
func (c *Client) Latest(ctx context.Context, proposalID string) (*Run, error) {
	return c.verifier.Index.Latest(ctx, proposalID)
}

// Inference returns the raw model response recorded by the latest run for a
// proposal, whether or not it parsed into a plan.
func (c *Client) Inference(proposalID string) (string, error) {
	return c.store.LoadInference(proposalID)
}
