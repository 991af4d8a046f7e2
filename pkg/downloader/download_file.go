package downloader

import (
	"context"
	"encoding/base64"
	"errors"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/denysvitali/deployment-downloader/internal/models"
	"github.com/denysvitali/deployment-downloader/pkg/limiter"
)

// downloadFile fetches, decodes and writes a single file. Every failure is
// returned in the result; nothing here aborts the run.
func (d *Downloader) downloadFile(ctx context.Context, task models.DownloadTask) models.DownloadResult {
	ctx, span := d.tracer.Start(ctx, "download_file")
	defer span.End()

	span.SetAttributes(
		attribute.String("file.uid", task.SourceUID),
		attribute.String("file.path", task.RelativePath),
	)

	fail := func(err error) models.DownloadResult {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return models.DownloadResult{Task: task, Status: models.DownloadStatusFailed, Err: err}
	}

	content, err := d.source.FetchFile(ctx, d.config.API.DeploymentID, task.SourceUID)
	if err != nil {
		return fail(err)
	}

	if !content.HasData() {
		return fail(ErrMissingFileData)
	}

	decoded, err := base64.StdEncoding.DecodeString(content.Data)
	if err != nil {
		return fail(&DecodeOrWriteError{Op: "decode", Path: task.DestinationPath, Err: err})
	}

	if err := d.mkdirAll(filepath.Dir(task.DestinationPath), 0755); err != nil {
		return fail(&DecodeOrWriteError{Op: "mkdir", Path: task.DestinationPath, Err: err})
	}

	if err := d.writeFile(task.DestinationPath, decoded, 0644); err != nil {
		return fail(&DecodeOrWriteError{Op: "write", Path: task.DestinationPath, Err: err})
	}

	span.SetAttributes(attribute.Int("file.bytes", len(decoded)))
	return models.DownloadResult{
		Task:   task,
		Status: models.DownloadStatusDownloaded,
		Bytes:  int64(len(decoded)),
	}
}

// newTask wraps a DownloadTask for the limiter and folds its result into the stats
func (d *Downloader) newTask(task models.DownloadTask) limiter.Task {
	return func(ctx context.Context) {
		result := d.downloadFile(ctx, task)
		progress := d.stats.Record(result)
		d.logResult(result, progress)
	}
}

func (d *Downloader) logResult(result models.DownloadResult, progress float64) {
	entry := d.log.WithFields(logrus.Fields{
		"file": result.Task.DestinationPath,
		"uid":  result.Task.SourceUID,
	})

	if result.Succeeded() {
		entry.Infof("[%.1f%%] %s (%s)", progress, result.Task.DestinationPath, humanize.Bytes(uint64(result.Bytes)))
		return
	}

	if errors.Is(result.Err, ErrMissingFileData) {
		entry.Warn("No data returned for file")
		return
	}
	entry.WithError(result.Err).Error("Failed to download file")
}
