package config

import "fmt"

// Merge combines two configs where overlay takes precedence over base.
//   - version: must agree if both declare it (non-zero); fatal error on mismatch
//   - scalar fields: a non-zero overlay value replaces the base value
//   - artifact_extensions: a non-empty overlay list replaces the base list
func Merge(base, overlay *Config) (*Config, error) {
	if base == nil {
		return overlay, nil
	}
	if overlay == nil {
		return base, nil
	}

	result := *base

	if err := mergeVersion(base.Version, overlay.Version, &result.Version); err != nil {
		return nil, err
	}

	o := overlay.Proposals
	mergeString(&result.Proposals.Source, o.Source)
	mergeString(&result.Proposals.Endpoint, o.Endpoint)
	mergeString(&result.Proposals.Dir, o.Dir)
	if o.Timeout != 0 {
		result.Proposals.Timeout = o.Timeout
	}
	if o.Retries != 0 {
		result.Proposals.Retries = o.Retries
	}

	mergeString(&result.Repository.URL, overlay.Repository.URL)

	b := overlay.Build
	mergeString(&result.Build.Image, b.Image)
	mergeString(&result.Build.Runtime, b.Runtime)
	mergeString(&result.Build.WorkDir, b.WorkDir)
	mergeString(&result.Build.Network, b.Network)
	if b.Timeout != 0 {
		result.Build.Timeout = b.Timeout
	}
	if len(b.ArtifactExtensions) > 0 {
		result.Build.ArtifactExtensions = append([]string(nil), b.ArtifactExtensions...)
	}
	if b.SearchDepth != 0 {
		result.Build.SearchDepth = b.SearchDepth
	}
	if b.MaxCandidates != 0 {
		result.Build.MaxCandidates = b.MaxCandidates
	}

	in := overlay.Inference
	if in.Provider != "" && in.Provider != result.Inference.Provider {
		// A different provider invalidates the inherited model and credentials.
		result.Inference = InferenceConfig{}
	}
	mergeString(&result.Inference.Provider, in.Provider)
	mergeString(&result.Inference.Model, in.Model)
	mergeString(&result.Inference.APIKeyEnv, in.APIKeyEnv)
	mergeString(&result.Inference.BaseURL, in.BaseURL)
	if in.Timeout != 0 {
		result.Inference.Timeout = in.Timeout
	}
	if in.MaxTokens != 0 {
		result.Inference.MaxTokens = in.MaxTokens
	}
	if in.MaxConcurrent != 0 {
		result.Inference.MaxConcurrent = in.MaxConcurrent
	}

	mergeString(&result.State.Dir, overlay.State.Dir)
	mergeString(&result.State.CacheDir, overlay.State.CacheDir)

	if overlay.Pipeline.Timeout != 0 {
		result.Pipeline.Timeout = overlay.Pipeline.Timeout
	}
	if overlay.Pipeline.Concurrency != 0 {
		result.Pipeline.Concurrency = overlay.Pipeline.Concurrency
	}

	return &result, nil
}

// MergeAll merges multiple configs in order (lowest precedence first).
// Returns an error if any version mismatch is found.
func MergeAll(configs []*Config) (*Config, error) {
	if len(configs) == 0 {
		return nil, fmt.Errorf("no configs to merge")
	}

	result := configs[0]
	for i := 1; i < len(configs); i++ {
		var err error
		result, err = Merge(result, configs[i])
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

func mergeVersion(base, overlay int, out *int) error {
	switch {
	case base == 0 && overlay == 0:
		*out = 0 // neither declares; validation will catch this
	case base == 0:
		*out = overlay
	case overlay == 0:
		*out = base
	case base == overlay:
		*out = base
	default:
		return fmt.Errorf("config version mismatch: one layer declares version %d, another declares version %d", base, overlay)
	}
	return nil
}

func mergeString(dst *string, overlay string) {
	if overlay != "" {
		*dst = overlay
	}
}
