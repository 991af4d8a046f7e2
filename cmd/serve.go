package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/denysvitali/deployment-downloader/pkg/config"
	"github.com/denysvitali/deployment-downloader/pkg/server"
	"github.com/denysvitali/deployment-downloader/pkg/telemetry"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a local directory through the deployment file API",
	Long: `Start an HTTP server that exposes a local directory with the same tree and
file endpoints as the hosted deployments API, so downloads can be run offline.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Server-specific flags
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	serveCmd.Flags().String("root-dir", ".", "Directory to serve")
	serveCmd.Flags().String("deployment-id", "local", "Deployment id the files are served under")
	serveCmd.Flags().String("bearer-token", "", "Bearer token clients must send (empty disables auth)")
	serveCmd.Flags().Bool("enable-telemetry", false, "Enable OpenTelemetry tracing")
	serveCmd.Flags().String("otel-endpoint", "", "OpenTelemetry endpoint (if empty, uses auto-export)")

	// Bind flags to viper
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("server.root_dir", serveCmd.Flags().Lookup("root-dir"))
	_ = viper.BindPFlag("server.deployment_id", serveCmd.Flags().Lookup("deployment-id"))
	_ = viper.BindPFlag("server.bearer_token", serveCmd.Flags().Lookup("bearer-token"))
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := GetLogger()
	logger.Info("Starting local deployment API")

	// telemetry flags are shared with download, so bind them here
	_ = viper.BindPFlag("telemetry.enabled", cmd.Flags().Lookup("enable-telemetry"))
	_ = viper.BindPFlag("telemetry.endpoint", cmd.Flags().Lookup("otel-endpoint"))

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize telemetry if enabled
	if cfg.Telemetry.Enabled {
		logger.Info("Initializing OpenTelemetry")
		cleanup, err := telemetry.Initialize(cfg.Telemetry, logger)
		if err != nil {
			logger.Warnf("Failed to initialize telemetry: %v", err)
		} else {
			defer cleanup()
		}
	}

	// Create and start server
	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	// Wait for interrupt signal
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case sig := <-interrupt:
		logger.Infof("Received signal %v, shutting down...", sig)

		// Graceful shutdown with timeout
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Errorf("Server shutdown error: %v", err)
			return err
		}

		logger.Info("Server stopped gracefully")
		return nil
	}
}
