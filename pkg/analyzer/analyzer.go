// Package analyzer summarizes a downloaded deployment on local disk.
package analyzer

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/denysvitali/deployment-downloader/internal/models"
)

const (
	// AnalysisFileName is written into the analyzed directory and skipped by the walk
	AnalysisFileName = "analysis.json"
	noExtension      = "(none)"
	largestFilesMax  = 10
)

// Analyzer walks a directory tree and collects statistics
type Analyzer struct {
	logger *logrus.Logger
}

// New creates a new analyzer
func New(logger *logrus.Logger) *Analyzer {
	return &Analyzer{logger: logger}
}

// Analyze walks root and returns counts, sizes and the largest files.
// Entries that cannot be read are logged and skipped.
func (a *Analyzer) Analyze(root string) (*models.Analysis, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	analysis := &models.Analysis{
		Root:             root,
		FilesByExtension: make(map[string]int),
	}
	var files []models.FileInfo

	err = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			a.logger.Warnf("Error analyzing %s: %v", path, err)
			if entry != nil && entry.IsDir() && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if path == root {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}

		if entry.IsDir() {
			analysis.TotalDirectories++
			return nil
		}
		if !entry.Type().IsRegular() || rel == AnalysisFileName {
			return nil
		}

		fi, err := entry.Info()
		if err != nil {
			a.logger.Warnf("Error reading %s: %v", path, err)
			return nil
		}

		analysis.TotalFiles++
		analysis.TotalSize += fi.Size()
		analysis.FilesByExtension[extensionOf(entry.Name())]++
		files = append(files, models.FileInfo{
			Path:      filepath.ToSlash(rel),
			Size:      fi.Size(),
			SizeHuman: humanize.Bytes(uint64(fi.Size())),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(files, func(i, j int) bool {
		if files[i].Size != files[j].Size {
			return files[i].Size > files[j].Size
		}
		return files[i].Path < files[j].Path
	})
	if len(files) > largestFilesMax {
		files = files[:largestFilesMax]
	}
	analysis.LargestFiles = files

	return analysis, nil
}

// Save writes the analysis as indented JSON into dir
func Save(analysis *models.Analysis, dir string) (string, error) {
	data, err := json.MarshalIndent(analysis, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, AnalysisFileName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}

// Render formats the analysis for the terminal
func Render(analysis *models.Analysis) string {
	sep := strings.Repeat("=", 50)

	var b strings.Builder
	fmt.Fprintln(&b, "DOWNLOADED FILES ANALYSIS")
	fmt.Fprintln(&b, sep)
	fmt.Fprintf(&b, "Total directories: %d\n", analysis.TotalDirectories)
	fmt.Fprintf(&b, "Total files:       %d\n", analysis.TotalFiles)
	fmt.Fprintf(&b, "Total size:        %s\n", humanize.Bytes(uint64(analysis.TotalSize)))

	type extCount struct {
		ext   string
		count int
	}
	exts := make([]extCount, 0, len(analysis.FilesByExtension))
	for ext, count := range analysis.FilesByExtension {
		exts = append(exts, extCount{ext, count})
	}
	sort.Slice(exts, func(i, j int) bool {
		if exts[i].count != exts[j].count {
			return exts[i].count > exts[j].count
		}
		return exts[i].ext < exts[j].ext
	})

	fmt.Fprintln(&b)
	fmt.Fprintln(&b, "FILES BY EXTENSION:")
	for _, e := range exts {
		fmt.Fprintf(&b, "   %s: %d files\n", e.ext, e.count)
	}

	fmt.Fprintln(&b)
	fmt.Fprintln(&b, "LARGEST FILES:")
	for i, f := range analysis.LargestFiles {
		fmt.Fprintf(&b, "   %d. %s (%s)\n", i+1, f.Path, f.SizeHuman)
	}
	return b.String()
}

func extensionOf(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return noExtension
	}
	return ext
}
