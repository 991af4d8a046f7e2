package downloader

import (
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/denysvitali/deployment-downloader/internal/models"
	"github.com/denysvitali/deployment-downloader/pkg/filter"
)

// Counts is the result of the pre-pass over a tree
type Counts struct {
	Files       int
	Directories int
}

// CountFiles walks the tree with the same exclusion and refusal rules as
// Materialize and counts the files that will be queued and the directories
// that will be created.
func CountFiles(nodes []models.TreeNode, policy *filter.Policy) Counts {
	return countFiles(nodes, "", policy, newSeenPaths())
}

func countFiles(nodes []models.TreeNode, basePath string, policy *filter.Policy, seen *seenPaths) Counts {
	var counts Counts
	for _, node := range nodes {
		relPath := filepath.Join(basePath, node.Name)
		switch {
		case node.IsDirectory():
			if policy.ShouldExcludeDirectory(node.Name) || !isSafeName(node.Name) {
				continue
			}
			if seen.addDirectory(relPath) {
				counts.Directories++
			}
			child := countFiles(node.Children, relPath, policy, seen)
			counts.Files += child.Files
			counts.Directories += child.Directories
		case node.IsFile():
			if policy.ShouldExcludeFile(relPath) || !isSafeName(node.Name) {
				continue
			}
			if seen.addFile(relPath) {
				counts.Files++
			}
		}
	}
	return counts
}

// seenPaths tracks destinations already claimed during one walk.
// Directories with the same name merge; a second file with the same
// destination is refused.
type seenPaths struct {
	files       map[string]struct{}
	directories map[string]struct{}
}

func newSeenPaths() *seenPaths {
	return &seenPaths{
		files:       make(map[string]struct{}),
		directories: make(map[string]struct{}),
	}
}

func (s *seenPaths) addFile(relPath string) bool {
	if _, ok := s.files[relPath]; ok {
		return false
	}
	s.files[relPath] = struct{}{}
	return true
}

func (s *seenPaths) addDirectory(relPath string) bool {
	if _, ok := s.directories[relPath]; ok {
		return false
	}
	s.directories[relPath] = struct{}{}
	return true
}

// Materialize creates the directories of the tree under destinationRoot and
// returns one DownloadTask per file that is not excluded, in document order.
// Directories are created before this returns, so no task can run ahead of
// its parent directory. A directory that cannot be created is recorded and
// its subtree is skipped. Unsafe names and duplicate file destinations are
// refused and listed in the error log; they are never counted.
func (d *Downloader) Materialize(nodes []models.TreeNode, destinationRoot, basePath string) []models.DownloadTask {
	var tasks []models.DownloadTask
	d.materialize(nodes, destinationRoot, basePath, newSeenPaths(), &tasks)
	return tasks
}

func (d *Downloader) materialize(nodes []models.TreeNode, destinationRoot, basePath string, seen *seenPaths, tasks *[]models.DownloadTask) {
	for _, node := range nodes {
		relPath := filepath.Join(basePath, node.Name)
		itemPath := filepath.Join(destinationRoot, relPath)

		switch {
		case node.IsDirectory():
			if d.filter.ShouldExcludeDirectory(node.Name) {
				d.log.WithField("path", itemPath).Info("Skipping excluded directory")
				continue
			}

			if !isSafeName(node.Name) {
				d.stats.RecordError(itemPath, ErrUnsafePath)
				d.log.WithField("path", itemPath).Error(ErrUnsafePath.Error())
				continue
			}

			seen.addDirectory(relPath)
			if err := d.ensureDirectory(itemPath); err != nil {
				d.stats.RecordError(itemPath, err)
				d.log.WithError(err).Error("Skipping directory subtree")
				d.failSubtree(node.Children, relPath, destinationRoot, seen, err)
				continue
			}

			d.materialize(node.Children, destinationRoot, relPath, seen, tasks)

		case node.IsFile():
			if d.filter.ShouldExcludeFile(itemPath) {
				d.log.WithField("path", itemPath).Info("Skipping excluded file")
				continue
			}

			if !isSafeName(node.Name) {
				d.stats.RecordError(itemPath, ErrUnsafePath)
				d.log.WithField("path", itemPath).Error(ErrUnsafePath.Error())
				continue
			}

			if !seen.addFile(relPath) {
				d.stats.RecordError(itemPath, ErrDuplicatePath)
				d.log.WithFields(logrus.Fields{
					"path": itemPath,
					"uid":  node.UID,
				}).Error(ErrDuplicatePath.Error())
				continue
			}

			*tasks = append(*tasks, models.DownloadTask{
				SourceUID:       node.UID,
				DestinationPath: itemPath,
				RelativePath:    filepath.ToSlash(relPath),
			})

		default:
			d.log.WithFields(logrus.Fields{
				"name": node.Name,
				"type": node.Type,
			}).Debug("Ignoring tree entry")
		}
	}
}

// failSubtree records every file the pre-pass counted below a directory that
// could not be created as failed, so the totals still add up.
func (d *Downloader) failSubtree(nodes []models.TreeNode, basePath, destinationRoot string, seen *seenPaths, cause error) {
	for _, node := range nodes {
		relPath := filepath.Join(basePath, node.Name)
		switch {
		case node.IsDirectory():
			if d.filter.ShouldExcludeDirectory(node.Name) || !isSafeName(node.Name) {
				continue
			}
			seen.addDirectory(relPath)
			d.failSubtree(node.Children, relPath, destinationRoot, seen, cause)
		case node.IsFile():
			if d.filter.ShouldExcludeFile(relPath) || !isSafeName(node.Name) || !seen.addFile(relPath) {
				continue
			}
			d.stats.Record(models.DownloadResult{
				Task: models.DownloadTask{
					SourceUID:       node.UID,
					DestinationPath: filepath.Join(destinationRoot, relPath),
					RelativePath:    filepath.ToSlash(relPath),
				},
				Status: models.DownloadStatusFailed,
				Err:    cause,
			})
		}
	}
}

// ensureDirectory creates path and its parents. An existing directory is not an error.
func (d *Downloader) ensureDirectory(path string) error {
	if err := d.mkdirAll(path, 0755); err != nil {
		return &DirectoryCreationError{Path: path, Err: err}
	}
	return nil
}

// isSafeName rejects names that would leave their parent directory
func isSafeName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}
