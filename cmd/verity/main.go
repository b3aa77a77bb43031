// Package main is the entry point for the verity binary.
// It provides a CLI for checking bundles, running one-shot validations, and
// serving the operational admin surface.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/verityengine/verity/pkg/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for verity.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "verity",
		Short: "Contract validation engine",
		Long: `Verity validates structured payloads against named contracts, runs
multi-step validation pipelines, and dispatches payloads to contracts through
conditional rule sets.

Bundles (contracts, pipelines, dispatchers) are declared in YAML; see the
check subcommand to verify one without serving.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("bundle", "b", "verity.yaml", "Path to the validation bundle")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "Log format (json, text)")

	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newServeCmd())
	return rootCmd
}

// settingsFromFlags folds persistent flags and environment overrides into the
// operational settings.
func settingsFromFlags(cmd *cobra.Command) config.Settings {
	settings := config.DefaultSettings()
	if v, err := cmd.Flags().GetString("bundle"); err == nil && v != "" {
		settings.BundlePath = v
	}
	if v, err := cmd.Flags().GetString("log-level"); err == nil && v != "" {
		settings.LogLevel = v
	}
	if v, err := cmd.Flags().GetString("log-format"); err == nil && v != "" {
		settings.LogFormat = v
	}
	config.ApplyEnvOverrides(&settings)
	return settings
}
