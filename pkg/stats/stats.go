// Package stats accumulates download counters and renders the end-of-run report.
package stats

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/denysvitali/deployment-downloader/internal/models"
)

const separatorWidth = 50

// Collector accumulates run-wide counters. It is safe for concurrent use.
type Collector struct {
	mu               sync.Mutex
	startTime        time.Time
	totalFiles       int
	totalDirectories int
	downloadedFiles  int
	failedFiles      int
	bytesWritten     int64
	errors           []models.ErrorRecord
	now              func() time.Time
}

// New creates a collector whose clock starts now
func New() *Collector {
	return newWithClock(time.Now)
}

func newWithClock(now func() time.Time) *Collector {
	return &Collector{
		startTime: now(),
		now:       now,
	}
}

// SetTotals stores the pre-counted number of files and directories
func (c *Collector) SetTotals(files, directories int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalFiles = files
	c.totalDirectories = directories
}

// Record folds a task result into the counters and returns the progress
// percentage after it (0 when no files are expected).
func (c *Collector) Record(result models.DownloadResult) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if result.Succeeded() {
		c.downloadedFiles++
		c.bytesWritten += result.Bytes
	} else {
		c.failedFiles++
		msg := "unknown error"
		if result.Err != nil {
			msg = result.Err.Error()
		}
		c.errors = append(c.errors, models.ErrorRecord{File: result.Task.DestinationPath, Error: msg})
	}
	return c.progressLocked()
}

// RecordError appends an error that is not tied to a single file download,
// such as a directory that could not be created.
func (c *Collector) RecordError(path string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, models.ErrorRecord{File: path, Error: err.Error()})
}

// Progress returns the share of expected files downloaded so far
func (c *Collector) Progress() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progressLocked()
}

func (c *Collector) progressLocked() float64 {
	if c.totalFiles == 0 {
		return 0
	}
	return float64(c.downloadedFiles) / float64(c.totalFiles) * 100
}

// Finalize takes an immutable snapshot of the counters
func (c *Collector) Finalize() *Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	errs := make([]models.ErrorRecord, len(c.errors))
	copy(errs, c.errors)

	return &Report{
		StartTime:        c.startTime,
		Duration:         c.now().Sub(c.startTime),
		TotalFiles:       c.totalFiles,
		TotalDirectories: c.totalDirectories,
		DownloadedFiles:  c.downloadedFiles,
		FailedFiles:      c.failedFiles,
		BytesWritten:     c.bytesWritten,
		Errors:           errs,
	}
}

// Report is the final state of a run
type Report struct {
	StartTime        time.Time            `json:"start_time"`
	Duration         time.Duration        `json:"duration"`
	TotalFiles       int                  `json:"total_files"`
	TotalDirectories int                  `json:"total_directories"`
	DownloadedFiles  int                  `json:"downloaded_files"`
	FailedFiles      int                  `json:"failed_files"`
	BytesWritten     int64                `json:"bytes_written"`
	Errors           []models.ErrorRecord `json:"errors,omitempty"`
}

// SuccessRate returns the percentage of files downloaded. ok is false when
// no files were expected and the rate is undefined.
func (r *Report) SuccessRate() (rate float64, ok bool) {
	if r.TotalFiles == 0 {
		return 0, false
	}
	return float64(r.DownloadedFiles) / float64(r.TotalFiles) * 100, true
}

// FormatSuccessRate renders the success rate, or "N/A" when it is undefined
func (r *Report) FormatSuccessRate() string {
	rate, ok := r.SuccessRate()
	if !ok {
		return "N/A"
	}
	return fmt.Sprintf("%.1f%%", rate)
}

// Complete reports whether every expected file was downloaded without errors
func (r *Report) Complete() bool {
	return r.FailedFiles == 0 && len(r.Errors) == 0
}

// String renders the human-readable summary
func (r *Report) String() string {
	sep := strings.Repeat("=", separatorWidth)

	var b strings.Builder
	fmt.Fprintln(&b, sep)
	fmt.Fprintln(&b, "DOWNLOAD STATISTICS")
	fmt.Fprintln(&b, sep)
	fmt.Fprintf(&b, "Total time:          %.2f seconds\n", r.Duration.Seconds())
	fmt.Fprintf(&b, "Directories created: %d\n", r.TotalDirectories)
	fmt.Fprintf(&b, "Total files:         %d\n", r.TotalFiles)
	fmt.Fprintf(&b, "Downloaded files:    %d\n", r.DownloadedFiles)
	fmt.Fprintf(&b, "Failed files:        %d\n", r.FailedFiles)
	fmt.Fprintf(&b, "Bytes written:       %s\n", humanize.Bytes(uint64(r.BytesWritten)))
	fmt.Fprintf(&b, "Success rate:        %s\n", r.FormatSuccessRate())

	if len(r.Errors) > 0 {
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, "ERRORS:")
		for _, e := range r.Errors {
			fmt.Fprintf(&b, "   %s: %s\n", e.File, e.Error)
		}
	}

	fmt.Fprint(&b, sep)
	return b.String()
}
