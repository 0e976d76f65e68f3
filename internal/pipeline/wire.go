package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/bianoble/proposal-verify/internal/build"
	"github.com/bianoble/proposal-verify/internal/cache"
	"github.com/bianoble/proposal-verify/internal/config"
	"github.com/bianoble/proposal-verify/internal/index"
	"github.com/bianoble/proposal-verify/internal/plan"
	"github.com/bianoble/proposal-verify/internal/proposal"
	"github.com/bianoble/proposal-verify/internal/report"
	"github.com/bianoble/proposal-verify/internal/state"
)

// IndexFile is the run history database inside the state directory.
const IndexFile = "index.sqlite"

// Setup carries what New needs besides the configuration.
type Setup struct {
	Config  *config.Config
	Logger  *zap.Logger
	Version string

	// Provider overrides the configured inference provider. Tests use it.
	Provider plan.Provider
	// HTTPClient overrides the client used for the governance API.
	HTTPClient proposal.HTTPClient
}

// New builds a Verifier from configuration. Close releases the run index.
func New(ctx context.Context, s Setup) (*Verifier, error) {
	cfg := s.Config
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	source, err := NewProposalSource(cfg, s.HTTPClient, logger)
	if err != nil {
		return nil, err
	}

	provider := s.Provider
	if provider == nil {
		provider, err = plan.NewProvider(ctx, plan.ProviderOptions{
			Provider:  cfg.Inference.Provider,
			Model:     cfg.Inference.Model,
			APIKey:    cfg.APIKey(),
			BaseURL:   cfg.Inference.BaseURL,
			MaxTokens: cfg.Inference.MaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("configuring inference: %w", err)
		}
	}
	limited := plan.NewLimited(provider, cfg.Inference.MaxConcurrent)

	runtime := &build.DockerRuntime{Binary: cfg.Build.Runtime}
	executor := &build.Executor{
		Git:                &build.GitFetcher{},
		Runtime:            runtime,
		RepoURL:            cfg.Repository.URL,
		Image:              cfg.Build.Image,
		Network:            cfg.Build.Network,
		WorkRoot:           cfg.Build.WorkDir,
		Timeout:            cfg.Build.Timeout,
		ArtifactExtensions: cfg.Build.ArtifactExtensions,
		SearchDepth:        cfg.Build.SearchDepth,
		MaxCandidates:      cfg.Build.MaxCandidates,
		Logger:             logger.Named("build"),
	}

	cacheDir := cfg.State.CacheDir
	if cacheDir == "" {
		cacheDir = cache.DefaultDir()
	}
	artifacts, err := cache.New(cacheDir)
	if err != nil {
		return nil, err
	}

	idx, err := index.Open(filepath.Join(cfg.State.Dir, IndexFile))
	if err != nil {
		return nil, fmt.Errorf("opening run index: %w", err)
	}

	return &Verifier{
		Proposals: source,
		Planner: &plan.Inferrer{
			Provider: limited,
			Timeout:  cfg.Inference.Timeout,
			Logger:   logger.Named("plan"),
		},
		Builder: executor,
		Images:  runtime,
		Store:   &state.Store{Dir: cfg.State.Dir},
		Cache:   artifacts,
		Index:   idx,
		Trust:   TrustFor(ctx, cfg, provider.Name(), s.Version),
		Timeout: cfg.Pipeline.Timeout,
		Logger:  logger,
	}, nil
}

// Close releases resources held by the Verifier.
func (v *Verifier) Close() error {
	return v.Index.Close()
}

// NewProposalSource builds the configured proposal source, with transport
// failures retried.
func NewProposalSource(cfg *config.Config, client proposal.HTTPClient, logger *zap.Logger) (proposal.Source, error) {
	var src proposal.Source
	switch cfg.Proposals.Source {
	case "file":
		src = &proposal.FileSource{Dir: cfg.Proposals.Dir}
	case "http", "":
		if client == nil {
			client = &http.Client{}
		}
		src = &proposal.HTTPSource{
			Endpoint: cfg.Proposals.Endpoint,
			Client:   client,
			Timeout:  cfg.Proposals.Timeout,
		}
	default:
		return nil, fmt.Errorf("unknown proposal source %q", cfg.Proposals.Source)
	}
	return &proposal.Retrying{
		Source:   src,
		Attempts: cfg.Proposals.Retries + 1,
		Backoff:  time.Second,
		Logger:   logger.Named("proposal"),
	}, nil
}

// TrustFor assembles the static trust statement for a configuration.
func TrustFor(ctx context.Context, cfg *config.Config, inference, version string) report.Trust {
	t := report.Trust{
		Repository: cfg.Repository.URL,
		Image:      cfg.Build.Image,
		Runtime:    cfg.Build.Runtime,
		Network:    cfg.Build.Network,
		Inference:  inference,
		Host:       report.CollectHost(ctx),
	}
	if version != "" {
		t.Tool = "proposal-verify " + version
	}
	return t
}
