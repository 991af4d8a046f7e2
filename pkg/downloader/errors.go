package downloader

import (
	"errors"
	"fmt"
)

// ErrMissingFileData is recorded when the API answers without file content
var ErrMissingFileData = errors.New("no data returned for file")

// ErrUnsafePath is recorded for entries whose name would escape the output directory
var ErrUnsafePath = errors.New("entry name escapes the output directory")

// ErrDuplicatePath is recorded for a file whose destination another entry already claimed
var ErrDuplicatePath = errors.New("duplicate destination path")

// DecodeOrWriteError wraps a failure to decode or persist a downloaded file
type DecodeOrWriteError struct {
	Op   string
	Path string
	Err  error
}

func (e *DecodeOrWriteError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *DecodeOrWriteError) Unwrap() error {
	return e.Err
}

// DirectoryCreationError is returned when a directory of the tree cannot be created.
// The directory's subtree is not processed.
type DirectoryCreationError struct {
	Path string
	Err  error
}

func (e *DirectoryCreationError) Error() string {
	return fmt.Sprintf("failed to create directory %s: %v", e.Path, e.Err)
}

func (e *DirectoryCreationError) Unwrap() error {
	return e.Err
}
