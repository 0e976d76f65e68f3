package config

import (
	"strings"
	"testing"
	"time"
)

func TestMergeScalarsOverlayWins(t *testing.T) {
	base := &Config{
		Version:    1,
		Repository: RepositoryConfig{URL: "https://base/repo.git"},
		Build:      BuildConfig{Image: "builder:1.0", Timeout: time.Hour},
	}
	overlay := &Config{
		Build: BuildConfig{Image: "builder:2.0"},
	}

	merged, err := Merge(base, overlay)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if merged.Build.Image != "builder:2.0" {
		t.Errorf("image = %q, want overlay value", merged.Build.Image)
	}
	if merged.Build.Timeout != time.Hour {
		t.Errorf("timeout = %v, want base value", merged.Build.Timeout)
	}
	if merged.Repository.URL != "https://base/repo.git" {
		t.Errorf("repository = %q, want base value", merged.Repository.URL)
	}
	if merged.Version != 1 {
		t.Errorf("version = %d, want 1", merged.Version)
	}
}

func TestMergeDoesNotMutateBase(t *testing.T) {
	base := &Config{Version: 1, Build: BuildConfig{Image: "builder:1.0"}}
	overlay := &Config{Build: BuildConfig{Image: "builder:2.0"}}

	if _, err := Merge(base, overlay); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if base.Build.Image != "builder:1.0" {
		t.Errorf("base mutated: image = %q", base.Build.Image)
	}
}

func TestMergeProviderSwitchDropsInheritedModel(t *testing.T) {
	base := &Config{Inference: InferenceConfig{Provider: "anthropic", Model: "claude-sonnet-4-5", APIKeyEnv: "MY_KEY"}}
	overlay := &Config{Inference: InferenceConfig{Provider: "openai"}}

	merged, err := Merge(base, overlay)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if merged.Inference.Model != "" || merged.Inference.APIKeyEnv != "" {
		t.Errorf("expected inherited model and key env to be dropped, got %+v", merged.Inference)
	}
}

func TestMergeArtifactExtensionsReplace(t *testing.T) {
	base := &Config{Build: BuildConfig{ArtifactExtensions: []string{".wasm"}}}
	overlay := &Config{Build: BuildConfig{ArtifactExtensions: []string{".wasm.gz"}}}

	merged, err := Merge(base, overlay)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(merged.Build.ArtifactExtensions) != 1 || merged.Build.ArtifactExtensions[0] != ".wasm.gz" {
		t.Errorf("extensions = %v", merged.Build.ArtifactExtensions)
	}
}

func TestMergeVersionMismatch(t *testing.T) {
	_, err := Merge(&Config{Version: 1}, &Config{Version: 2})
	if err == nil {
		t.Fatal("expected version mismatch error")
	}
	if !strings.Contains(err.Error(), "version mismatch") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestMergeNil(t *testing.T) {
	cfg := &Config{Version: 1}
	if got, _ := Merge(nil, cfg); got != cfg {
		t.Error("Merge(nil, cfg) should return overlay")
	}
	if got, _ := Merge(cfg, nil); got != cfg {
		t.Error("Merge(cfg, nil) should return base")
	}
}

func TestMergeAllEmpty(t *testing.T) {
	if _, err := MergeAll(nil); err == nil {
		t.Fatal("expected error for empty config list")
	}
}
