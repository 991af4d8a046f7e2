// Package downloader reconstructs a deployment's file tree on local disk.
package downloader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/denysvitali/deployment-downloader/internal/models"
	"github.com/denysvitali/deployment-downloader/pkg/client"
	"github.com/denysvitali/deployment-downloader/pkg/config"
	"github.com/denysvitali/deployment-downloader/pkg/filter"
	"github.com/denysvitali/deployment-downloader/pkg/limiter"
	"github.com/denysvitali/deployment-downloader/pkg/stats"
	"github.com/denysvitali/deployment-downloader/pkg/telemetry"
)

// Source is the remote side of a download
type Source interface {
	FetchTree(ctx context.Context, deploymentID string) ([]models.TreeNode, error)
	FetchFile(ctx context.Context, deploymentID, uid string) (*models.FileContent, error)
}

// Downloader runs a full deployment download
type Downloader struct {
	config *config.Config
	logger *logrus.Logger
	log    *logrus.Entry
	source Source
	filter *filter.Policy
	stats  *stats.Collector
	tracer trace.Tracer
	runID  string

	mkdirAll  func(path string, perm os.FileMode) error
	writeFile func(name string, data []byte, perm os.FileMode) error
}

// Option customizes a Downloader
type Option func(*Downloader)

// WithSource replaces the API client the files are fetched from
func WithSource(source Source) Option {
	return func(d *Downloader) {
		d.source = source
	}
}

// New creates a new downloader
func New(cfg *config.Config, logger *logrus.Logger, opts ...Option) *Downloader {
	runID := uuid.NewString()
	d := &Downloader{
		config:    cfg,
		logger:    logger,
		log:       logger.WithField("run_id", runID),
		filter:    filter.New(cfg.Download.ExcludeExtensions, cfg.Download.ExcludeDirectories),
		stats:     stats.New(),
		tracer:    otel.Tracer(telemetry.ServiceName),
		runID:     runID,
		mkdirAll:  os.MkdirAll,
		writeFile: os.WriteFile,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.source == nil {
		d.source = client.New(cfg.API, logger)
	}
	return d
}

// RunID returns the identifier attached to every log line of this downloader
func (d *Downloader) RunID() string {
	return d.runID
}

// Run clears the output directory, fetches the deployment tree and downloads
// every file that is not excluded. Per-file failures are part of the returned
// report; an error is returned only when the run could not proceed.
func (d *Downloader) Run(ctx context.Context) (*stats.Report, error) {
	ctx, span := d.tracer.Start(ctx, "download_deployment")
	defer span.End()

	deploymentID := d.config.API.DeploymentID
	outputDir := d.config.Download.OutputDir
	span.SetAttributes(
		attribute.String("deployment.id", deploymentID),
		attribute.String("output.dir", outputDir),
		attribute.String("run.id", d.runID),
	)

	d.stats = stats.New()
	d.printBanner()

	if err := d.clearOutputDir(outputDir); err != nil {
		span.RecordError(err)
		return nil, err
	}

	if err := d.ensureDirectory(outputDir); err != nil {
		span.RecordError(err)
		return nil, err
	}
	d.logDiskUsage(outputDir)

	d.log.Info("Fetching file tree")
	nodes, err := d.source.FetchTree(ctx, deploymentID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to fetch file tree: %w", err)
	}

	counts := CountFiles(nodes, d.filter)
	d.stats.SetTotals(counts.Files, counts.Directories)
	d.log.WithFields(logrus.Fields{
		"files":       counts.Files,
		"directories": counts.Directories,
	}).Info("File tree fetched")

	queue := d.Materialize(nodes, outputDir, "")
	tasks := make([]limiter.Task, 0, len(queue))
	for _, task := range queue {
		tasks = append(tasks, d.newTask(task))
	}

	runErr := limiter.Run(ctx, d.config.Download.MaxConcurrentDownloads, tasks)

	report := d.stats.Finalize()
	span.SetAttributes(
		attribute.Int("files.total", report.TotalFiles),
		attribute.Int("files.downloaded", report.DownloadedFiles),
		attribute.Int("files.failed", report.FailedFiles),
	)

	if d.config.Telemetry.Enabled {
		telemetry.ReportJSON(ctx, d.logger, "download_report", report)
	}

	if runErr != nil {
		span.RecordError(runErr)
		return report, fmt.Errorf("download interrupted: %w", runErr)
	}
	return report, nil
}

func (d *Downloader) printBanner() {
	d.log.WithFields(logrus.Fields{
		"deployment":  d.config.API.DeploymentID,
		"output_dir":  d.config.Download.OutputDir,
		"concurrency": d.config.Download.MaxConcurrentDownloads,
	}).Info("Starting deployment download")
}

// clearOutputDir removes a previous download. A missing directory is fine;
// other removal failures are logged and the run continues.
func (d *Downloader) clearOutputDir(path string) error {
	if err := refuseDangerousPath(path); err != nil {
		return err
	}

	if err := os.RemoveAll(path); err != nil {
		d.log.Warnf("Failed to clear output directory %s: %v", path, err)
		return nil
	}
	d.log.WithField("path", path).Info("Output directory cleared")
	return nil
}

// refuseDangerousPath rejects output directories whose removal would wipe
// the filesystem root, the home directory or the working directory
func refuseDangerousPath(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve output directory %s: %w", path, err)
	}
	abs = filepath.Clean(abs)

	protected := []string{filepath.VolumeName(abs) + string(filepath.Separator)}
	if home, err := os.UserHomeDir(); err == nil {
		protected = append(protected, filepath.Clean(home))
	}
	if wd, err := os.Getwd(); err == nil {
		protected = append(protected, filepath.Clean(wd))
	}

	for _, p := range protected {
		if abs == p {
			return fmt.Errorf("refusing to clear output directory %s", abs)
		}
	}
	return nil
}
