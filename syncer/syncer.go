// Package syncer reconciles the index registry against the real
// filesystem (spec.md §4.I). It only plans the reconciliation — added,
// updated, and removed path classification — leaving the actual
// probing, plugin dispatch, and storage writes to the caller, which
// applies the plan under the same transaction discipline as any other
// mutating Manager operation.
//
// Grounded on FileMetaLib/manager.py's _do_sync for the added/updated/
// removed classification, reimplemented with filepath.WalkDir instead
// of a flat registered-path rescan so that new files are actually
// discovered (the original never walks the filesystem for additions).
package syncer

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mwantia/filemeta/index"
)

// IncludeFunc decides whether a filesystem path encountered during a
// walk should be considered for indexing. A nil IncludeFunc includes
// every regular file.
type IncludeFunc func(path string, d fs.DirEntry) bool

// Diff classifies the differences between the registry and the
// filesystem found during a single Plan call.
type Diff struct {
	Added   []string
	Updated []string
	Removed []string
}

// Stats summarizes a Diff by count, matching the {added, updated,
// removed} shape spec.md §4.H's sync() operation returns.
func (d Diff) Stats() (added, updated, removed int) {
	return len(d.Added), len(d.Updated), len(d.Removed)
}

// Reconciler plans filesystem reconciliation passes against a registry.
type Reconciler struct {
	registry *index.Registry
	include  IncludeFunc
}

// New builds a Reconciler bound to reg. include may be nil to accept
// every regular file encountered during a walk.
func New(reg *index.Registry, include IncludeFunc) *Reconciler {
	return &Reconciler{registry: reg, include: include}
}

// Plan walks roots (defaulting to the distinct parent directories of
// every currently indexed path, when roots is empty) and classifies
// differences from the registry. ctx is polled between records for
// cooperative cancellation, per spec.md §5's "cooperative cancellation
// flag polled between records."
func (r *Reconciler) Plan(ctx context.Context, roots []string) (Diff, error) {
	indexed := r.registry.GetAllPaths()

	if len(roots) == 0 {
		roots = defaultRoots(indexed)
	}

	var diff Diff

	for _, path := range indexed {
		if err := ctx.Err(); err != nil {
			return diff, err
		}

		info, err := os.Lstat(path)
		if err != nil {
			diff.Removed = append(diff.Removed, path)
			continue
		}

		rec := r.registry.Get(path)
		if rec == nil {
			continue
		}

		if modifiedTime(info) != rec.System.Modified {
			diff.Updated = append(diff.Updated, path)
		}
	}

	seen := make(map[string]struct{}, len(indexed))
	for _, p := range indexed {
		seen[p] = struct{}{}
	}

	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}

			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}

			if d.IsDir() {
				return nil
			}

			if _, already := seen[path]; already {
				return nil
			}

			if r.include != nil && !r.include(path, d) {
				return nil
			}

			seen[path] = struct{}{}
			diff.Added = append(diff.Added, path)
			return nil
		})
		if err != nil {
			return diff, err
		}
	}

	return diff, nil
}

func defaultRoots(indexed []string) []string {
	seen := make(map[string]struct{})
	var roots []string

	for _, path := range indexed {
		dir := filepath.Dir(path)
		if _, ok := seen[dir]; ok {
			continue
		}
		seen[dir] = struct{}{}
		roots = append(roots, dir)
	}

	return roots
}

// modifiedTime mirrors probe's floatSeconds construction exactly so a
// freshly probed record's system.modified always compares equal to an
// unchanged file's Lstat result.
func modifiedTime(info os.FileInfo) float64 {
	return float64(info.ModTime().Unix()) + float64(info.ModTime().Nanosecond())/1e9
}
