package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/verityengine/verity/pkg/config"
	"github.com/verityengine/verity/pkg/domain"
	"github.com/verityengine/verity/pkg/engine"
	"github.com/verityengine/verity/pkg/logging"
)

// newRunCmd performs a one-shot validation: a payload against a contract, a
// pipeline, or a dispatcher from the bundle. Exit status 1 means the payload
// failed validation; other errors are configuration problems.
func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Validate a payload once and print the result",
		RunE:  runOnce,
	}
	cmd.Flags().String("contract", "", "Contract name to validate against")
	cmd.Flags().String("pipeline", "", "Pipeline name to execute")
	cmd.Flags().String("dispatcher", "", "Dispatcher name to resolve through")
	cmd.Flags().String("data", "", "Path to the JSON payload (- for stdin)")
	cmd.Flags().String("context", "", "Path to a JSON context object")
	cmd.Flags().Duration("timeout", 30*time.Second, "Per-call deadline")
	return cmd
}

func runOnce(cmd *cobra.Command, _ []string) error {
	settings := settingsFromFlags(cmd)
	logger := logging.New(logging.Config{Level: settings.LogLevel, Format: settings.LogFormat}, cmd.ErrOrStderr())

	contractName, _ := cmd.Flags().GetString("contract")
	pipelineName, _ := cmd.Flags().GetString("pipeline")
	dispatcherName, _ := cmd.Flags().GetString("dispatcher")
	dataPath, _ := cmd.Flags().GetString("data")
	contextPath, _ := cmd.Flags().GetString("context")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	targets := 0
	for _, t := range []string{contractName, pipelineName, dispatcherName} {
		if t != "" {
			targets++
		}
	}
	if targets != 1 {
		return fmt.Errorf("exactly one of --contract, --pipeline, --dispatcher is required")
	}

	data, err := readJSON(dataPath)
	if err != nil {
		return fmt.Errorf("payload: %w", err)
	}
	var vctx domain.Context
	if contextPath != "" {
		raw, err := readJSON(contextPath)
		if err != nil {
			return fmt.Errorf("context: %w", err)
		}
		m, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("context must be a JSON object")
		}
		vctx = m
	}

	bundle, err := config.Load(settings.BundlePath)
	if err != nil {
		return err
	}
	eng := engine.New(engine.Config{Logger: logger})
	dispatchers, err := eng.ApplyBundle(cmd.Context(), bundle)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	var result domain.ExecutionResult
	switch {
	case contractName != "":
		result, err = eng.Validate(ctx, contractName, data, engine.ValidateOptions{})
	case pipelineName != "":
		result, err = eng.Execute(ctx, pipelineName, data, vctx)
	default:
		d, ok := dispatchers[dispatcherName]
		if !ok {
			return fmt.Errorf("unknown dispatcher %q", dispatcherName)
		}
		result, err = d.Validate(ctx, data, vctx, engine.ValidateOptions{})
	}
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		return err
	}
	if !result.Success {
		cmd.SilenceErrors = true
		return fmt.Errorf("validation failed with %d violation(s)", len(result.Violations))
	}
	return nil
}

func readJSON(path string) (any, error) {
	if path == "" {
		return nil, fmt.Errorf("--data is required")
	}
	var raw []byte
	var err error
	if path == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		// #nosec G304 -- path comes from the operator's own flags
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, err
	}
	return value, nil
}
