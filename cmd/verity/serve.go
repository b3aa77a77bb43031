package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/verityengine/verity/pkg/config"
	"github.com/verityengine/verity/pkg/engine"
	"github.com/verityengine/verity/pkg/logging"
	"github.com/verityengine/verity/pkg/telemetry"
)

// newServeCmd runs the operational surface: Prometheus metrics, health, and
// cache statistics, with bundle hot reload.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the admin surface with bundle hot reload",
		RunE:  serve,
	}
	cmd.Flags().String("listen", "", "Listen address (overrides VERITY_LISTEN_ADDR)")
	cmd.Flags().String("otlp-endpoint", "", "OTLP gRPC endpoint for trace export")
	cmd.Flags().String("environment", "", "Deployment environment tag on exported traces")
	return cmd
}

func serve(cmd *cobra.Command, _ []string) error {
	settings := settingsFromFlags(cmd)
	if v, _ := cmd.Flags().GetString("listen"); v != "" {
		settings.ListenAddr = v
	}
	if v, _ := cmd.Flags().GetString("otlp-endpoint"); v != "" {
		settings.OTLPEndpoint = v
	}
	if v, _ := cmd.Flags().GetString("environment"); v != "" {
		settings.Environment = v
	}

	logger := logging.Setup(logging.Config{Level: settings.LogLevel, Format: settings.LogFormat})
	logger.Info("starting verity", "bundle", settings.BundlePath, "listen", settings.ListenAddr)

	shutdownTracing, err := telemetry.SetupProvider(cmd.Context(), telemetry.Config{
		ServiceName:  "verity",
		Endpoint:     settings.OTLPEndpoint,
		Environment:  settings.Environment,
		ResourceTags: settings.ResourceTags,
		Insecure:     true,
	})
	if err != nil {
		return err
	}

	eng := engine.New(engine.Config{
		Logger:           logger,
		CompiledCapacity: settings.CompiledCapacity,
		ResultCapacity:   settings.ResultCapacity,
		DefaultResultTTL: settings.DefaultResultTTL,
	})

	provider, err := config.NewFileProvider(settings.BundlePath, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := provider.Close(); err != nil {
			logger.Error("failed to close bundle provider", "error", err)
		}
	}()

	go applyBundles(provider, eng, logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", eng.Metrics().Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/statistics", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(eng.Statistics())
	})

	server := &http.Server{
		Addr:              settings.ListenAddr,
		Handler:           otelhttp.NewHandler(mux, "verity.admin"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return err
	}
	if err := shutdownTracing(ctx); err != nil {
		logger.Error("trace shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// applyBundles applies each (re)loaded bundle to the engine. Apply failures
// are logged; registrations that went through before the failure stand, the
// rest keep their previous definitions.
func applyBundles(provider *config.FileProvider, eng *engine.Engine, logger *slog.Logger) {
	for bundle := range provider.Subscribe() {
		if _, err := eng.ApplyBundle(context.Background(), bundle); err != nil {
			logger.Error("bundle apply failed, keeping previous registrations", "error", err)
			continue
		}
		logger.Info("bundle applied",
			"contracts", len(bundle.Contracts),
			"pipelines", len(bundle.Pipelines),
			"dispatchers", len(bundle.Dispatchers),
		)
	}
}
