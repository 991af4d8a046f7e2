package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/denysvitali/deployment-downloader/pkg/config"
	"github.com/denysvitali/deployment-downloader/pkg/downloader"
	"github.com/denysvitali/deployment-downloader/pkg/telemetry"
)

// downloadCmd represents the download command
var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download a deployment's files to a local directory",
	Long: `Fetch the deployment's file tree, clear the output directory and download
every file that is not excluded, a bounded number at a time.`,
	RunE: runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)

	// Download-specific flags
	downloadCmd.Flags().StringP("deployment-id", "d", "", "Deployment to download (env DEPLOYMENT_ID)")
	downloadCmd.Flags().String("token", "", "Bearer token for the API (env BEARER_TOKEN)")
	downloadCmd.Flags().String("base-url", config.DefaultBaseURL, "Deployments API base URL")
	downloadCmd.Flags().StringP("output-dir", "o", config.DefaultOutputDir, "Directory the deployment is written to; cleared first")
	downloadCmd.Flags().IntP("concurrency", "c", 10, "Maximum number of concurrent file downloads")
	downloadCmd.Flags().Int("timeout", 30000, "Per-attempt request timeout in milliseconds")
	downloadCmd.Flags().Int("retries", 3, "Total attempts per request")
	downloadCmd.Flags().Int("retry-backoff", 1000, "Backoff unit in milliseconds, multiplied by the attempt number")
	downloadCmd.Flags().Float64("rps", 0, "Maximum API requests per second (0 disables the limit)")
	downloadCmd.Flags().StringSlice("exclude-ext", []string{".log", ".tmp"}, "File extensions to skip")
	downloadCmd.Flags().StringSlice("exclude-dir", []string{"node_modules", ".git", ".next/cache"}, "Directory patterns to skip")
	downloadCmd.Flags().Bool("enable-telemetry", false, "Enable OpenTelemetry tracing")
	downloadCmd.Flags().String("otel-endpoint", "", "OpenTelemetry endpoint (if empty, uses auto-export)")

	// Bind flags to viper
	_ = viper.BindPFlag("api.deployment_id", downloadCmd.Flags().Lookup("deployment-id"))
	_ = viper.BindPFlag("api.bearer_token", downloadCmd.Flags().Lookup("token"))
	_ = viper.BindPFlag("api.base_url", downloadCmd.Flags().Lookup("base-url"))
	_ = viper.BindPFlag("api.request_timeout", downloadCmd.Flags().Lookup("timeout"))
	_ = viper.BindPFlag("api.max_retries", downloadCmd.Flags().Lookup("retries"))
	_ = viper.BindPFlag("api.retry_backoff", downloadCmd.Flags().Lookup("retry-backoff"))
	_ = viper.BindPFlag("api.requests_per_second", downloadCmd.Flags().Lookup("rps"))
	_ = viper.BindPFlag("download.output_dir", downloadCmd.Flags().Lookup("output-dir"))
	_ = viper.BindPFlag("download.max_concurrent_downloads", downloadCmd.Flags().Lookup("concurrency"))
	_ = viper.BindPFlag("download.exclude_extensions", downloadCmd.Flags().Lookup("exclude-ext"))
	_ = viper.BindPFlag("download.exclude_directories", downloadCmd.Flags().Lookup("exclude-dir"))
}

func runDownload(cmd *cobra.Command, args []string) error {
	logger := GetLogger()

	// telemetry flags are shared with serve, so bind them here
	_ = viper.BindPFlag("telemetry.enabled", cmd.Flags().Lookup("enable-telemetry"))
	_ = viper.BindPFlag("telemetry.endpoint", cmd.Flags().Lookup("otel-endpoint"))

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		var verr *config.ConfigValidationError
		if errors.As(err, &verr) && len(verr.Missing) > 0 {
			logger.Error("Set the missing values in the environment or a .env file")
		}
		return err
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := downloader.New(cfg, logger).Run(ctx)
	if report != nil {
		fmt.Fprint(cmd.OutOrStdout(), report.String())
	}
	if err != nil {
		return err
	}

	if report.Complete() {
		logger.Info("Download completed successfully")
	} else {
		logger.Warnf("Download completed with %d errors", len(report.Errors))
	}
	return nil
}
