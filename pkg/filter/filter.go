// Package filter decides which deployment entries are skipped during a download.
package filter

import (
	"path/filepath"
	"strings"
)

// Policy holds the exclusion rules for files and directories
type Policy struct {
	extensions  map[string]struct{}
	directories []string
}

// New creates a policy from extension and directory-name exclusion lists.
// Extensions are matched case-insensitively and should include the leading dot.
func New(extensions, directories []string) *Policy {
	p := &Policy{
		extensions:  make(map[string]struct{}, len(extensions)),
		directories: make([]string, 0, len(directories)),
	}
	for _, ext := range extensions {
		p.extensions[strings.ToLower(ext)] = struct{}{}
	}
	for _, dir := range directories {
		if dir != "" {
			p.directories = append(p.directories, dir)
		}
	}
	return p
}

// ShouldExcludeFile reports whether the lower-cased extension of path is excluded
func (p *Policy) ShouldExcludeFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return false
	}
	_, ok := p.extensions[ext]
	return ok
}

// ShouldExcludeDirectory reports whether name contains any excluded token.
// The match is a plain substring test on the bare directory name, so
// "node_modules" also excludes "node_modules_backup".
func (p *Policy) ShouldExcludeDirectory(name string) bool {
	for _, token := range p.directories {
		if strings.Contains(name, token) {
			return true
		}
	}
	return false
}
