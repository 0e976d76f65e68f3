package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var initForce bool

// initTemplate is the default proposal-verify.yaml scaffold.
const initTemplate = `# proposal-verify configuration
version: 1

proposals:
  # Governance API serving proposal records as JSON.
  source: http
  endpoint: https://governance.example.org/api/proposals
  timeout: 30s
  retries: 2
  # Or read saved records from disk (<dir>/<id>.json):
  # source: file
  # dir: ./proposals

repository:
  # Canonical upstream repository. Builds only ever fetch from here.
  url: https://github.com/your-org/your-chain.git

build:
  # Pin the build environment by tag or, better, by digest.
  image: rust:1.79-bookworm
  runtime: docker
  timeout: 2h
  # network: none
  # artifact_extensions: [.wasm, .wasm.gz]

inference:
  provider: anthropic          # anthropic, openai or gemini
  model: claude-sonnet-4-5
  # The key is read from this environment variable, never from this file.
  api_key_env: ANTHROPIC_API_KEY
  timeout: 2m

state:
  dir: .proposal-verify
  # cache_dir: ~/.cache/proposal-verify

pipeline:
  timeout: 3h
  concurrency: 1
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a starter proposal-verify.yaml configuration",
	Long: `Creates a proposal-verify.yaml file in the current directory with a commented
template covering the proposal source, upstream repository, pinned build
image, inference provider and state directory.

Use --force to overwrite an existing configuration file.`,
	Args: usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		outPath := configPath
		if !filepath.IsAbs(outPath) {
			abs, err := filepath.Abs(outPath)
			if err != nil {
				return fmt.Errorf("resolving path: %w", err)
			}
			outPath = abs
		}

		if !initForce {
			if _, err := os.Stat(outPath); err == nil {
				return usageError(fmt.Errorf("%s already exists (use --force to overwrite)", outPath))
			}
		}

		if err := os.WriteFile(outPath, []byte(initTemplate), 0644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		info(cmd, "Created %s", outPath)
		info(cmd, "")
		info(cmd, "Next steps:")
		info(cmd, "  1. Point proposals and repository at your chain")
		info(cmd, "  2. Export the API key named by inference.api_key_env")
		info(cmd, "  3. Run 'proposal-verify verify <proposal-id>'")
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite existing config file")
	rootCmd.AddCommand(initCmd)
}
