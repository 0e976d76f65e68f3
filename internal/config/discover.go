package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	configFileName = "proposal-verify.yaml"
	configDirName  = "proposal-verify"
)

// DefaultFileName is the project-level config file name.
const DefaultFileName = configFileName

// Environment variables read while locating and loading config.
const (
	EnvNoInheritVar  = "PROPOSAL_VERIFY_NO_INHERIT"
	EnvConfigHomeVar = "PROPOSAL_VERIFY_CONFIG_HOME" // replaces the user config directory
)

// ConfigLevel is the precedence level of a configuration file.
type ConfigLevel string

const (
	LevelSystem  ConfigLevel = "system"
	LevelUser    ConfigLevel = "user"
	LevelProject ConfigLevel = "project"
)

// ConfigLayerInfo describes one config file in the chain and what loading
// it contributed.
type ConfigLayerInfo struct {
	Err    error // non-nil if the file exists but failed to load
	Path   string
	Level  ConfigLevel
	Loaded bool

	// Dir is the absolute directory relative paths in this file resolve
	// against.
	Dir string
	// Resolved lists the path keys this file set relative to Dir.
	Resolved []string
	// APIKeyEnv is the credential variable this file selects, if it names one.
	APIKeyEnv string
}

// APIKeySet reports whether the variable this layer selects is present.
func (l ConfigLayerInfo) APIKeySet() bool {
	return l.APIKeyEnv != "" && strings.TrimSpace(os.Getenv(l.APIKeyEnv)) != ""
}

// DiscoverOptions controls how config paths are discovered.
type DiscoverOptions struct {
	// ProjectPath is the project-level config path (required).
	ProjectPath string

	// SystemConfigPath and UserConfigPath override the OS defaults. Point
	// one at a nonexistent file to skip that level.
	SystemConfigPath string
	UserConfigPath   string
}

// DiscoverPaths returns the config files to check, lowest precedence
// (system) first. A file reachable from two levels is kept only at the
// lower one.
func DiscoverPaths(opts DiscoverOptions) []ConfigLayerInfo {
	var layers []ConfigLayerInfo
	seen := make(map[string]bool)

	add := func(level ConfigLevel, path string) {
		if path == "" {
			return
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = filepath.Clean(path)
		}
		if seen[abs] {
			return
		}
		seen[abs] = true
		layers = append(layers, ConfigLayerInfo{Path: path, Level: level, Dir: filepath.Dir(abs)})
	}

	add(LevelSystem, firstNonEmpty(opts.SystemConfigPath, defaultSystemConfigPath()))
	add(LevelUser, firstNonEmpty(opts.UserConfigPath, defaultUserConfigPath()))
	add(LevelProject, opts.ProjectPath)
	return layers
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func defaultSystemConfigPath() string {
	if runtime.GOOS == "windows" {
		pd := os.Getenv("ProgramData")
		if pd == "" {
			pd = `C:\ProgramData`
		}
		return filepath.Join(pd, configDirName, configFileName)
	}
	return filepath.Join("/etc", configDirName, configFileName)
}

func defaultUserConfigPath() string {
	if home := strings.TrimSpace(os.Getenv(EnvConfigHomeVar)); home != "" {
		return filepath.Join(home, configFileName)
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, configDirName, configFileName)
}

// pathSetting is a config key holding a filesystem path.
type pathSetting struct {
	key   string
	value *string
}

func (c *Config) pathSettings() []pathSetting {
	return []pathSetting{
		{"proposals.dir", &c.Proposals.Dir},
		{"build.work_dir", &c.Build.WorkDir},
		{"state.dir", &c.State.Dir},
		{"state.cache_dir", &c.State.CacheDir},
	}
}

// resolvePaths makes the path settings of one file absolute: "~/" is taken
// from the home directory and anything else relative from dir. It returns
// the keys it rewrote.
func resolvePaths(c *Config, dir string) []string {
	var resolved []string
	for _, s := range c.pathSettings() {
		v := *s.value
		switch {
		case v == "":
			continue
		case v == "~" || strings.HasPrefix(v, "~/"):
			home, err := os.UserHomeDir()
			if err != nil {
				continue
			}
			*s.value = filepath.Join(home, strings.TrimPrefix(v, "~"))
		case filepath.IsAbs(v):
			continue
		default:
			*s.value = filepath.Join(dir, v)
		}
		resolved = append(resolved, s.key)
	}
	return resolved
}

// EnvNoInherit reports whether PROPOSAL_VERIFY_NO_INHERIT is "1" or "true".
// Only the project layer is loaded in that case.
func EnvNoInherit() bool {
	return envBoolTrue(EnvNoInheritVar)
}

// APIKey returns the inference credential from the environment variable
// named by the config. Keys are never read from config files.
func (c *Config) APIKey() string {
	if c.Inference.APIKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(c.Inference.APIKeyEnv))
}

// CredentialError reports an inference key missing from the environment.
type CredentialError struct {
	Provider string
	Env      string
	Origin   string // config file that chose Env, empty for the provider default
}

func (e *CredentialError) Error() string {
	if e.Env == "" {
		return fmt.Sprintf("inference: provider '%s' has no API key variable, set 'api_key_env'", e.Provider)
	}
	msg := fmt.Sprintf("inference: API key for provider '%s' not set, export %s", e.Provider, e.Env)
	if e.Origin != "" {
		msg += fmt.Sprintf(" (api_key_env from %s)", e.Origin)
	}
	return msg
}

// CheckAPIKey returns a *CredentialError when the inference key is absent.
func (c *Config) CheckAPIKey() error {
	if c.APIKey() != "" {
		return nil
	}
	return &CredentialError{Provider: c.Inference.Provider, Env: c.Inference.APIKeyEnv, Origin: c.apiKeyOrigin}
}

func envBoolTrue(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true"
}
