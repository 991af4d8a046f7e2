package models

// DownloadTask is a deferred file download created while walking a tree
type DownloadTask struct {
	SourceUID       string `json:"source_uid"`
	DestinationPath string `json:"destination_path"`
	RelativePath    string `json:"relative_path"`
}

// DownloadStatus is the outcome of a single download task
type DownloadStatus string

const (
	DownloadStatusDownloaded DownloadStatus = "downloaded"
	DownloadStatusFailed     DownloadStatus = "failed"
)

// DownloadResult is returned by every executed DownloadTask
type DownloadResult struct {
	Task   DownloadTask   `json:"task"`
	Status DownloadStatus `json:"status"`
	Bytes  int64          `json:"bytes"`
	Err    error          `json:"-"`
}

// Succeeded reports whether the file was written
func (r DownloadResult) Succeeded() bool {
	return r.Status == DownloadStatusDownloaded
}

// ErrorRecord pairs a file with the error that prevented its download
type ErrorRecord struct {
	File  string `json:"file"`
	Error string `json:"error"`
}
