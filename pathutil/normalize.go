// Package pathutil canonicalizes filesystem paths into the primary key
// form used across every filemeta component (spec.md §4.A).
package pathutil

import (
	"os"
	"path/filepath"
	"strings"
)

// InvalidPathError is returned for empty input or input containing a NUL
// byte; wrapped by callers into the library's own sentinel where a
// filemeta.Err* value is expected.
type InvalidPathError struct {
	Path string
}

func (e *InvalidPathError) Error() string {
	return "pathutil: invalid path: " + e.Path
}

// Options controls canonicalization behavior.
type Options struct {
	// CaseInsensitive folds the result to lowercase, for filesystems
	// configured as case-insensitive.
	CaseInsensitive bool
	// ResolveSymlinks follows symlinks via filepath.EvalSymlinks. Off by
	// default, matching spec.md §4.A rule (ii): segments are collapsed
	// lexically without following symlinks unless configured to do so.
	ResolveSymlinks bool
	// WorkingDir overrides the process working directory used to resolve
	// relative paths. Empty means os.Getwd() at call time.
	WorkingDir string
}

// Normalize canonicalizes path per spec.md §4.A: absolute, redundant
// separators and "." / ".." segments collapsed, optionally symlink
// resolved and case-folded.
func Normalize(path string, opts Options) (string, error) {
	if path == "" {
		return "", &InvalidPathError{Path: path}
	}

	if strings.ContainsAny(path, "\x00") {
		return "", &InvalidPathError{Path: path}
	}

	abs := path
	if !filepath.IsAbs(abs) {
		base := opts.WorkingDir
		if base == "" {
			var err error
			base, err = os.Getwd()
			if err != nil {
				return "", err
			}
		}
		abs = filepath.Join(base, abs)
	}

	abs = filepath.Clean(abs)

	if opts.ResolveSymlinks {
		// A path that doesn't exist yet can't be symlink-resolved; fall
		// back to the lexical form rather than failing normalization.
		if resolved, err := filepath.EvalSymlinks(abs); err == nil {
			abs = resolved
		}
	}

	if opts.CaseInsensitive {
		abs = strings.ToLower(abs)
	}

	return filepath.ToSlash(abs), nil
}
