package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and validates a single proposal-verify.yaml configuration file.
// Relative paths in it are taken from the file's directory.
func Load(path string) (*Config, error) {
	cfg, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if abs, err := filepath.Abs(path); err == nil {
		dir = filepath.Dir(abs)
	}
	resolvePaths(cfg, dir)
	if cfg.Inference.APIKeyEnv != "" {
		cfg.apiKeyOrigin = path
	}

	cfg.ApplyDefaults()
	if errs := Validate(cfg); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	return cfg, nil
}

func decodeFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return &cfg, nil
}

// HierarchicalResult holds the merged configuration and the layers that built it.
type HierarchicalResult struct {
	Config *Config
	Layers []ConfigLayerInfo
}

// LoadHierarchical loads every discovered layer (system, user, project),
// resolves each file's relative paths against that file's directory, merges
// them lowest precedence first, then applies defaults and validates the
// result. Missing inherited layers are skipped; a missing project layer is
// an error.
func LoadHierarchical(opts DiscoverOptions) (*HierarchicalResult, error) {
	layers := DiscoverPaths(opts)
	if EnvNoInherit() {
		layers = layers[len(layers)-1:]
	}

	var configs []*Config
	for i := range layers {
		cfg, err := decodeFile(layers[i].Path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) && layers[i].Level != LevelProject {
				continue
			}
			layers[i].Err = err
			return &HierarchicalResult{Layers: layers}, err
		}
		layers[i].Loaded = true
		layers[i].Resolved = resolvePaths(cfg, layers[i].Dir)
		layers[i].APIKeyEnv = cfg.Inference.APIKeyEnv
		configs = append(configs, cfg)
	}

	merged, err := MergeAll(configs)
	if err != nil {
		return &HierarchicalResult{Layers: layers}, err
	}
	for i := len(layers) - 1; i >= 0; i-- {
		if layers[i].APIKeyEnv != "" {
			merged.apiKeyOrigin = layers[i].Path
			break
		}
	}

	merged.ApplyDefaults()
	if errs := Validate(merged); len(errs) > 0 {
		return &HierarchicalResult{Layers: layers}, &ValidationError{Errors: errs}
	}

	return &HierarchicalResult{Config: merged, Layers: layers}, nil
}

// ValidationError holds multiple validation failures.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Validate checks a Config for semantic correctness.
// Returns a list of validation error messages (empty if valid).
func Validate(cfg *Config) []string {
	var errs []string

	if cfg.Version != 1 {
		errs = append(errs, fmt.Sprintf("unsupported version %d, only version 1 is supported", cfg.Version))
	}

	switch cfg.Proposals.Source {
	case "http":
		if cfg.Proposals.Endpoint == "" {
			errs = append(errs, "proposals: source 'http' requires 'endpoint', add 'endpoint: https://...'")
		}
	case "file":
		if cfg.Proposals.Dir == "" {
			errs = append(errs, "proposals: source 'file' requires 'dir'")
		}
	case "":
		errs = append(errs, "proposals: 'source' is required, must be one of: http, file")
	default:
		errs = append(errs, fmt.Sprintf("proposals: unknown source '%s', must be one of: http, file", cfg.Proposals.Source))
	}
	if cfg.Proposals.Retries < 0 {
		errs = append(errs, "proposals: 'retries' must not be negative")
	}

	if cfg.Repository.URL == "" {
		errs = append(errs, "repository: 'url' is required")
	}

	if cfg.Build.Image == "" {
		errs = append(errs, "build: 'image' is required, the build environment must be pinned")
	} else if !strings.Contains(cfg.Build.Image, ":") && !strings.Contains(cfg.Build.Image, "@") {
		errs = append(errs, fmt.Sprintf("build: image '%s' has no tag or digest, pin it as name:tag or name@sha256:...", cfg.Build.Image))
	}
	for i, ext := range cfg.Build.ArtifactExtensions {
		if !strings.HasPrefix(ext, ".") {
			errs = append(errs, fmt.Sprintf("build: artifact_extensions[%d] '%s' must start with '.'", i, ext))
		}
	}
	if cfg.Build.SearchDepth < 0 {
		errs = append(errs, "build: 'search_depth' must not be negative")
	}

	switch cfg.Inference.Provider {
	case "anthropic", "openai", "gemini":
		if cfg.Inference.Model == "" {
			errs = append(errs, fmt.Sprintf("inference: provider '%s' requires 'model'", cfg.Inference.Provider))
		}
	case "":
		errs = append(errs, "inference: 'provider' is required, must be one of: anthropic, openai, gemini")
	default:
		errs = append(errs, fmt.Sprintf("inference: unknown provider '%s', must be one of: anthropic, openai, gemini", cfg.Inference.Provider))
	}

	if cfg.State.Dir == "" {
		errs = append(errs, "state: 'dir' is required")
	}

	if cfg.Pipeline.Concurrency < 0 {
		errs = append(errs, "pipeline: 'concurrency' must not be negative")
	}

	return errs
}
