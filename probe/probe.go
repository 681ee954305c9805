// Package probe reads system-level file attributes from the real
// filesystem (spec.md §4.B).
package probe

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/mwantia/filemeta/record"
)

// Options controls probing behavior.
type Options struct {
	// FollowSymlinks probes the symlink target instead of the link itself.
	FollowSymlinks bool
}

// FileAccessError wraps a stat failure with the offending path.
type FileAccessError struct {
	Path string
	Err  error
}

func (e *FileAccessError) Error() string {
	return "probe: cannot access " + e.Path + ": " + e.Err.Error()
}

func (e *FileAccessError) Unwrap() error { return e.Err }

// Probe reads the six-field system sub-map for an existing file at the
// given canonical path.
func Probe(path string, opts Options) (record.System, error) {
	var (
		info os.FileInfo
		err  error
	)

	if opts.FollowSymlinks {
		info, err = os.Stat(path)
	} else {
		info, err = os.Lstat(path)
	}

	if err != nil {
		return record.System{}, &FileAccessError{Path: path, Err: err}
	}

	created, modified, accessed := timestamps(info)

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))

	return record.System{
		Path:      path,
		Filename:  filepath.Base(path),
		Extension: ext,
		Size:      info.Size(),
		Created:   created,
		Modified:  modified,
		Accessed:  accessed,
	}, nil
}
