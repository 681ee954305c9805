package filemeta

import (
	"context"

	"github.com/mwantia/filemeta/event"
	"github.com/mwantia/filemeta/probe"
	"github.com/mwantia/filemeta/record"
)

// Sync reconciles the index against the filesystem (spec.md §4.I): files
// that vanished are removed, files whose modified timestamp changed are
// re-probed and re-run through plugins (preserving user metadata), and
// files found on disk but not yet indexed are added. roots defaults to
// WithSyncRoots's configured value, and further to the distinct parent
// directories of every currently indexed path, when empty. Runs under
// the same transaction discipline as any other mutating operation and
// emits sync_complete on commit.
func (m *Manager) Sync(ctx context.Context, roots ...string) (event.SyncStats, error) {
	if len(roots) == 0 {
		roots = m.cfg.syncRoots
	}

	var stats event.SyncStats

	err := m.runTransaction(ctx, func(tx *Transaction) error {
		diff, err := m.reconciler.Plan(ctx, roots)
		if err != nil {
			return wrapf(ErrStorage, "sync plan: %v", err)
		}

		for _, path := range diff.Removed {
			if err := tx.remove(path); err != nil {
				return err
			}
			tx.queue(event.Event{Kind: event.FileRemoved, Path: path})
			stats.Removed++
		}

		for _, path := range diff.Updated {
			if err := m.reprobe(ctx, tx, path); err != nil {
				return err
			}
			stats.Updated++
		}

		for _, path := range diff.Added {
			sys, perr := probe.Probe(path, probe.Options{})
			if perr != nil {
				// Vanished between the walk and the probe; the next
				// sync pass will simply not see it either way.
				continue
			}

			rec := record.New(sys, nil)

			out, warnings, derr := m.dispatcher.Dispatch(ctx, path)
			if derr != nil {
				return wrapf(ErrPlugin, "%s: %v", path, derr)
			}
			m.warnPlugins(warnings)
			rec.Plugin = out

			if err := tx.save(path, rec); err != nil {
				return err
			}
			tx.queue(event.Event{Kind: event.FileAdded, Path: path, Record: rec})
			stats.Added++
		}

		tx.queue(event.Event{Kind: event.SyncComplete, SyncStats: stats})
		return nil
	})

	return stats, err
}

// reprobe re-runs the probe and plugin pipeline for an already-indexed
// path whose modified timestamp changed, preserving its user fields.
func (m *Manager) reprobe(ctx context.Context, tx *Transaction, path string) error {
	existing := tx.Get(path)

	sys, perr := probe.Probe(path, probe.Options{})
	if perr != nil {
		return wrapf(ErrFileAccess, "%s: %v", path, perr)
	}

	var old *record.Record
	var user map[string]any
	if existing != nil {
		old = existing.Clone()
		user = existing.User
	}

	rec := record.New(sys, user)

	out, warnings, derr := m.dispatcher.Dispatch(ctx, path)
	if derr != nil {
		return wrapf(ErrPlugin, "%s: %v", path, derr)
	}
	m.warnPlugins(warnings)
	rec.Plugin = out

	if err := tx.save(path, rec); err != nil {
		return err
	}

	tx.queue(event.Event{Kind: event.MetadataChanged, Path: path, Old: old, New: rec})
	return nil
}
