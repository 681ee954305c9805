// Package memstore is the in-memory storage.Backend (spec.md §4.C).
package memstore

import (
	"context"
	"sync"

	"github.com/tidwall/btree"

	"github.com/mwantia/filemeta/index"
	"github.com/mwantia/filemeta/record"
	"github.com/mwantia/filemeta/storage"
)

// Backend is an in-memory storage.Backend guarded by a single read-write
// lock, grounded on mwantia-vfs/mount/backend/memory's use of
// tidwall/btree.Map as an ordered key index alongside a plain map for
// the data itself.
type Backend struct {
	mu   sync.RWMutex
	keys *btree.Map[string, struct{}]
	data map[string]*record.Record
}

// New returns an empty in-memory backend.
func New() *Backend {
	return &Backend{
		keys: btree.NewMap[string, struct{}](0),
		data: make(map[string]*record.Record),
	}
}

func (b *Backend) Save(_ context.Context, path string, rec *record.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data[path] = rec.Clone()
	b.keys.Set(path, struct{}{})
	return nil
}

func (b *Backend) Get(_ context.Context, path string) (*record.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rec, ok := b.data[path]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return rec.Clone(), nil
}

func (b *Backend) Delete(_ context.Context, path string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.data[path]; !ok {
		return false, nil
	}

	delete(b.data, path)
	b.keys.Delete(path)
	return true, nil
}

func (b *Backend) Query(_ context.Context, criteria storage.Criteria) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []string
	b.keys.Scan(func(path string, _ struct{}) bool {
		if criteria.Field == "" {
			out = append(out, path)
			return true
		}

		rec := b.data[path]
		if v, ok := index.FieldValue(rec, criteria.Field); ok {
			if index.Normalize(v) == index.Normalize(criteria.Value) {
				out = append(out, path)
			} else if list, isList := v.([]any); isList {
				for _, item := range list {
					if index.Normalize(item) == index.Normalize(criteria.Value) {
						out = append(out, path)
						break
					}
				}
			}
		}
		return true
	})

	return out, nil
}

func (b *Backend) Bulk(ctx context.Context, ops []storage.Op) ([]storage.OpResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	results := make([]storage.OpResult, len(ops))
	for i, op := range ops {
		switch op.Kind {
		case storage.OpSave:
			b.data[op.Path] = op.Record.Clone()
			b.keys.Set(op.Path, struct{}{})
		case storage.OpDelete:
			delete(b.data, op.Path)
			b.keys.Delete(op.Path)
		}
		results[i] = storage.OpResult{Path: op.Path}
	}

	return results, nil
}

func (b *Backend) IterAll(_ context.Context) (func(yield func(storage.Entry) bool), error) {
	b.mu.RLock()
	paths := make([]string, 0, b.keys.Len())
	b.keys.Scan(func(path string, _ struct{}) bool {
		paths = append(paths, path)
		return true
	})
	b.mu.RUnlock()

	return func(yield func(storage.Entry) bool) {
		b.mu.RLock()
		defer b.mu.RUnlock()

		for _, path := range paths {
			rec, ok := b.data[path]
			if !ok {
				continue
			}
			if !yield(storage.Entry{Path: path, Record: rec.Clone()}) {
				return
			}
		}
	}, nil
}

type snapshot struct {
	storage.SnapshotSeal
	data map[string]*record.Record
}

func (b *Backend) Snapshot(_ context.Context) (storage.Snapshot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data := make(map[string]*record.Record, len(b.data))
	for k, v := range b.data {
		data[k] = v.Clone()
	}

	return snapshot{data: data}, nil
}

func (b *Backend) Restore(_ context.Context, snap storage.Snapshot) error {
	s, ok := snap.(snapshot)
	if !ok {
		return storage.ErrInvalidSnapshot
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = make(map[string]*record.Record, len(s.data))
	b.keys = btree.NewMap[string, struct{}](0)
	for k, v := range s.data {
		b.data[k] = v.Clone()
		b.keys.Set(k, struct{}{})
	}

	return nil
}

func (b *Backend) Flush(context.Context) error { return nil }
func (b *Backend) Close() error                { return nil }
