package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bianoble/proposal-verify/internal/cache"
	"github.com/bianoble/proposal-verify/internal/config"
	"github.com/bianoble/proposal-verify/internal/pipeline"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the effective configuration and trust parameters",
	Long: `Displays the proposal-verify version, the config chain, where run state, the
run index and the artifact cache live, and the parameters every verdict
depends on: upstream repository, build image, inference provider and host.`,
	Args: usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		hr, loadErr := loadConfigHierarchical() // reported below, info still prints what it can
		var cfg *config.Config
		if hr != nil {
			cfg = hr.Config
		}

		fmt.Fprintf(out, "proposal-verify %s\n", version)
		if hr != nil && len(hr.Layers) > 0 {
			fmt.Fprintln(out, "  config chain:")
			for _, layer := range hr.Layers {
				status := "not found"
				switch {
				case layer.Err != nil:
					status = "error"
				case layer.Loaded:
					status = "loaded"
				}
				fmt.Fprintf(out, "    %-10s %s (%s)\n", string(layer.Level)+":", layer.Path, status)
				if len(layer.Resolved) > 0 {
					fmt.Fprintf(out, "               paths from %s: %s\n", layer.Dir, strings.Join(layer.Resolved, ", "))
				}
				if layer.APIKeyEnv != "" {
					keyState := "unset"
					if layer.APIKeySet() {
						keyState = "set"
					}
					fmt.Fprintf(out, "               api_key_env: %s (%s)\n", layer.APIKeyEnv, keyState)
				}
			}
		} else {
			fmt.Fprintf(out, "  config:        %s\n", configPath)
		}
		if loadErr != nil {
			fmt.Fprintf(out, "  config error:  %s\n", loadErr)
		}

		if c, err := cache.New(cacheDir(cfg)); err == nil {
			size, _ := c.Size()
			fmt.Fprintf(out, "  cache dir:     %s\n", c.Path())
			fmt.Fprintf(out, "  cache size:    %s\n", humanSize(size))
		} else {
			fmt.Fprintf(out, "  cache dir:     %s (%s)\n", cacheDir(cfg), err)
		}
		if cfg == nil {
			return nil
		}
		fmt.Fprintf(out, "  state dir:     %s\n", cfg.State.Dir)
		fmt.Fprintf(out, "  run index:     %s\n", indexPath(cfg))

		trust := pipeline.TrustFor(commandContext(cmd), cfg, cfg.Inference.Provider+"/"+cfg.Inference.Model, version)
		fmt.Fprintln(out, "\nTrust parameters:")
		fmt.Fprintf(out, "  %-14s %s\n", "proposals:", proposalSource(cfg))
		fmt.Fprintf(out, "  %-14s %s\n", "repository:", trust.Repository)
		fmt.Fprintf(out, "  %-14s %s\n", "image:", trust.Image)
		fmt.Fprintf(out, "  %-14s %s\n", "runtime:", trust.Runtime)
		if trust.Network != "" {
			fmt.Fprintf(out, "  %-14s %s\n", "network:", trust.Network)
		}
		fmt.Fprintf(out, "  %-14s %s\n", "inference:", trust.Inference)
		keyState := "unset"
		if cfg.APIKey() != "" {
			keyState = "set"
		}
		fmt.Fprintf(out, "  %-14s %s (%s)\n", "api key:", cfg.Inference.APIKeyEnv, keyState)
		if h := trust.Host; h != nil {
			fmt.Fprintf(out, "  %-14s %s %s/%s, %d cpu(s)\n", "host:", h.Platform, h.OS, h.Arch, h.CPUs)
		}
		return nil
	},
}

func proposalSource(cfg *config.Config) string {
	if cfg.Proposals.Source == "file" {
		return "file " + cfg.Proposals.Dir
	}
	return cfg.Proposals.Source + " " + cfg.Proposals.Endpoint
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
