package models

// FileInfo represents basic information about a file on local disk
type FileInfo struct {
	Path      string `json:"path"`
	Size      int64  `json:"size"`
	SizeHuman string `json:"size_formatted"`
}

// Analysis is the summary of a downloaded directory tree
type Analysis struct {
	Root             string         `json:"root"`
	TotalFiles       int            `json:"total_files"`
	TotalDirectories int            `json:"total_directories"`
	TotalSize        int64          `json:"total_size"`
	FilesByExtension map[string]int `json:"files_by_extension"`
	LargestFiles     []FileInfo     `json:"largest_files"`
}
