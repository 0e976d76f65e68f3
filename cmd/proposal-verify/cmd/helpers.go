package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bianoble/proposal-verify/internal/cache"
	"github.com/bianoble/proposal-verify/internal/config"
	"github.com/bianoble/proposal-verify/internal/index"
	"github.com/bianoble/proposal-verify/internal/logging"
	"github.com/bianoble/proposal-verify/internal/pipeline"
	"github.com/bianoble/proposal-verify/internal/report"
	"github.com/bianoble/proposal-verify/internal/state"
)

// loadConfigHierarchical reads every config layer and merges them.
func loadConfigHierarchical() (*config.HierarchicalResult, error) {
	return config.LoadHierarchical(config.DiscoverOptions{ProjectPath: configPath})
}

// loadConfig reads and validates the merged configuration. Failures are
// usage errors: the run never started.
func loadConfig() (*config.Config, error) {
	hr, err := loadConfigHierarchical()
	if err != nil {
		return nil, usageError(fmt.Errorf("loading config %s: %w", configPath, err))
	}
	return hr.Config, nil
}

// requireAPIKey fails early, as a usage error, when the inference key is
// missing from the environment.
func requireAPIKey(cfg *config.Config) error {
	if err := cfg.CheckAPIKey(); err != nil {
		return usageError(err)
	}
	return nil
}

// commandContext returns the command's context, or Background when the
// command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// newLogger builds the diagnostics logger on the command's error stream.
func newLogger(cmd *cobra.Command) *zap.Logger {
	return logging.NewWriter(cmd.ErrOrStderr(), logging.Options{
		Verbose: verbose,
		Quiet:   quiet,
		JSON:    logJSON,
	})
}

// newSink returns the report sink for the command's output stream.
func newSink(cmd *cobra.Command) *report.WriterSink {
	format := report.FormatText
	if jsonOutput {
		format = report.FormatJSON
	}
	return report.NewWriterSink(cmd.OutOrStdout(), format, noColor)
}

func newStore(cfg *config.Config) *state.Store {
	return &state.Store{Dir: cfg.State.Dir}
}

func cacheDir(cfg *config.Config) string {
	if cfg != nil && cfg.State.CacheDir != "" {
		return cfg.State.CacheDir
	}
	return cache.DefaultDir()
}

func indexPath(cfg *config.Config) string {
	return filepath.Join(cfg.State.Dir, pipeline.IndexFile)
}

func openIndex(cfg *config.Config) (*index.Index, error) {
	idx, err := index.Open(indexPath(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening run index: %w", err)
	}
	return idx, nil
}

// info prints a line unless quiet mode is active.
func info(cmd *cobra.Command, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(cmd.OutOrStdout(), format+"\n", args...)
	}
}

// detail prints a line only in verbose mode.
func detail(cmd *cobra.Command, format string, args ...any) {
	if verbose {
		fmt.Fprintf(cmd.OutOrStdout(), "  "+format+"\n", args...)
	}
}

// errorf prints an error message to the error stream.
func errorf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.ErrOrStderr(), "error: "+format+"\n", args...)
}

func humanSize(bytes int64) string {
	if bytes == 0 {
		return "0 B"
	}
	units := []string{"B", "KB", "MB", "GB"}
	size := float64(bytes)
	i := 0
	for size >= 1024 && i < len(units)-1 {
		size /= 1024
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%d B", bytes)
	}
	return fmt.Sprintf("%.1f %s", size, units[i])
}
