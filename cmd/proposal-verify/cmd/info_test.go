package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInfoReportsLayerPathsAndKey(t *testing.T) {
	t.Setenv("PROPOSAL_VERIFY_NO_INHERIT", "1")
	t.Setenv("PV_CMD_KEY", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "proposal-verify.yaml")
	cfg := `version: 1
proposals:
  source: file
  dir: proposals
repository:
  url: https://example.com/chain.git
build:
  image: builder:1
inference:
  provider: openai
  model: test-model
  api_key_env: PV_CMD_KEY
state:
  dir: ./state
  cache_dir: ./cache
`
	if err := os.WriteFile(path, []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}
	old := configPath
	configPath = path
	t.Cleanup(func() { configPath = old })

	var stdout bytes.Buffer
	infoCmd.SetOut(&stdout)
	if err := infoCmd.RunE(infoCmd, nil); err != nil {
		t.Fatalf("info: %v", err)
	}

	out := stdout.String()
	for _, want := range []string{
		"paths from " + dir + ": proposals.dir, state.dir, state.cache_dir",
		"api_key_env: PV_CMD_KEY (unset)",
		"state dir:     " + filepath.Join(dir, "state"),
		"cache dir:     " + filepath.Join(dir, "cache"),
	} {
		if !strings.Contains(out, want) {
			t.Errorf("info output missing %q:\n%s", want, out)
		}
	}
}
