package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/verityengine/verity/pkg/config"
	"github.com/verityengine/verity/pkg/engine"
	"github.com/verityengine/verity/pkg/logging"
)

// newCheckCmd verifies a bundle: every contract compiles, every pipeline and
// dispatcher reference resolves, every expression parses.
func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify a validation bundle without serving",
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings := settingsFromFlags(cmd)
			logger := logging.New(logging.Config{Level: settings.LogLevel, Format: settings.LogFormat}, cmd.ErrOrStderr())

			bundle, err := config.Load(settings.BundlePath)
			if err != nil {
				return err
			}

			eng := engine.New(engine.Config{Logger: logger})
			dispatchers, err := eng.ApplyBundle(cmd.Context(), bundle)
			if err != nil {
				return err
			}

			for _, info := range eng.Store().List(cmd.Context()) {
				fmt.Fprintf(cmd.OutOrStdout(), "contract %s v%d hash=%s complexity=%d deps=%v\n",
					info.Name, info.Version, info.Hash[:12], info.Complexity, info.Dependencies)
			}
			for _, name := range eng.Pipelines().Names() {
				fmt.Fprintf(cmd.OutOrStdout(), "pipeline %s\n", name)
			}
			for name := range dispatchers {
				fmt.Fprintf(cmd.OutOrStdout(), "dispatcher %s\n", name)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "bundle OK")
			return nil
		},
	}
}
