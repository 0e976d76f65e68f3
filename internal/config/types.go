package config

import "time"

// Config represents the proposal-verify.yaml configuration file.
type Config struct {
	Version    int              `yaml:"version"`
	Proposals  ProposalsConfig  `yaml:"proposals"`
	Repository RepositoryConfig `yaml:"repository"`
	Build      BuildConfig      `yaml:"build"`
	Inference  InferenceConfig  `yaml:"inference"`
	State      StateConfig      `yaml:"state"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`

	apiKeyOrigin string // file that set inference.api_key_env
}

// ProposalsConfig locates the on-chain governance data source.
type ProposalsConfig struct {
	// Source is "http" (governance API) or "file" (local record documents).
	Source   string        `yaml:"source"`
	Endpoint string        `yaml:"endpoint,omitempty"`
	Dir      string        `yaml:"dir,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
	Retries  int           `yaml:"retries,omitempty"`
}

// RepositoryConfig names the canonical upstream repository builds are fetched from.
type RepositoryConfig struct {
	URL string `yaml:"url"`
}

// BuildConfig pins the build environment.
type BuildConfig struct {
	Image              string        `yaml:"image"`
	Runtime            string        `yaml:"runtime,omitempty"` // container CLI binary, default "docker"
	WorkDir            string        `yaml:"work_dir,omitempty"`
	Timeout            time.Duration `yaml:"timeout,omitempty"`
	ArtifactExtensions []string      `yaml:"artifact_extensions,omitempty"`
	SearchDepth        int           `yaml:"search_depth,omitempty"`
	MaxCandidates      int           `yaml:"max_candidates,omitempty"`
	Network            string        `yaml:"network,omitempty"`
}

// InferenceConfig selects the model used to propose build plans.
type InferenceConfig struct {
	Provider  string        `yaml:"provider"` // "anthropic", "openai", "gemini"
	Model     string        `yaml:"model"`
	APIKeyEnv string        `yaml:"api_key_env,omitempty"`
	BaseURL   string        `yaml:"base_url,omitempty"`
	Timeout   time.Duration `yaml:"timeout,omitempty"`
	MaxTokens int           `yaml:"max_tokens,omitempty"`
	// MaxConcurrent caps in-flight inference calls across concurrent runs.
	MaxConcurrent int `yaml:"max_concurrent,omitempty"`
}

// StateConfig controls where stage records, the run index and the artifact cache live.
type StateConfig struct {
	Dir      string `yaml:"dir"`
	CacheDir string `yaml:"cache_dir,omitempty"`
}

// PipelineConfig bounds whole runs.
type PipelineConfig struct {
	Timeout     time.Duration `yaml:"timeout,omitempty"`
	Concurrency int           `yaml:"concurrency,omitempty"`
}

// Defaults applied after loading when a field is left unset.
const (
	DefaultRuntime       = "docker"
	DefaultSearchDepth   = 8
	DefaultMaxCandidates = 20
	DefaultConcurrency   = 1
	DefaultRetries       = 2
)

var (
	DefaultArtifactExtensions = []string{".wasm", ".wasm.gz"}

	DefaultProposalTimeout  = 30 * time.Second
	DefaultBuildTimeout     = 2 * time.Hour
	DefaultInferenceTimeout = 2 * time.Minute
	DefaultPipelineTimeout  = 3 * time.Hour
)

// ApplyDefaults fills zero-valued optional fields.
func (c *Config) ApplyDefaults() {
	if c.Proposals.Source == "" {
		c.Proposals.Source = "http"
	}
	if c.Proposals.Timeout == 0 {
		c.Proposals.Timeout = DefaultProposalTimeout
	}
	if c.Proposals.Retries == 0 {
		c.Proposals.Retries = DefaultRetries
	}
	if c.Build.Runtime == "" {
		c.Build.Runtime = DefaultRuntime
	}
	if c.Build.Timeout == 0 {
		c.Build.Timeout = DefaultBuildTimeout
	}
	if len(c.Build.ArtifactExtensions) == 0 {
		c.Build.ArtifactExtensions = append([]string(nil), DefaultArtifactExtensions...)
	}
	if c.Build.SearchDepth == 0 {
		c.Build.SearchDepth = DefaultSearchDepth
	}
	if c.Build.MaxCandidates == 0 {
		c.Build.MaxCandidates = DefaultMaxCandidates
	}
	if c.Inference.Timeout == 0 {
		c.Inference.Timeout = DefaultInferenceTimeout
	}
	if c.Inference.MaxTokens == 0 {
		c.Inference.MaxTokens = 2048
	}
	if c.Inference.MaxConcurrent == 0 {
		c.Inference.MaxConcurrent = 1
	}
	if c.Inference.APIKeyEnv == "" {
		c.Inference.APIKeyEnv = defaultAPIKeyEnv(c.Inference.Provider)
	}
	if c.Pipeline.Timeout == 0 {
		c.Pipeline.Timeout = DefaultPipelineTimeout
	}
	if c.Pipeline.Concurrency == 0 {
		c.Pipeline.Concurrency = DefaultConcurrency
	}
}

func defaultAPIKeyEnv(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "gemini":
		return "GEMINI_API_KEY"
	}
	return ""
}
