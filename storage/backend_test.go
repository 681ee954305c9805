package storage_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/mwantia/filemeta/record"
	"github.com/mwantia/filemeta/storage"
	"github.com/mwantia/filemeta/storage/jsonstore"
	"github.com/mwantia/filemeta/storage/memstore"
	"github.com/mwantia/filemeta/storage/sqlstore"
)

// TestBackendFactory creates a new backend instance for testing.
type TestBackendFactory func(t *testing.T) (storage.Backend, error)

// GetTestBackendFactories returns every backend that can run without an
// external service, exercised by the shared contract tests below.
// consulstore and s3store are covered by their own package tests, which
// skip when no local server is reachable.
func GetTestBackendFactories() map[string]TestBackendFactory {
	return map[string]TestBackendFactory{
		"memory": func(t *testing.T) (storage.Backend, error) {
			return memstore.New(), nil
		},
		"json": func(t *testing.T) (storage.Backend, error) {
			return jsonstore.Open(filepath.Join(t.TempDir(), "records.json"))
		},
		"sqlite": func(t *testing.T) (storage.Backend, error) {
			return sqlstore.Open(":memory:")
		},
	}
}

func TestAllBackends_SaveGetDelete(t *testing.T) {
	for name, factory := range GetTestBackendFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b, err := factory(t)
			if err != nil {
				t.Fatalf("backend init failed: %v", err)
			}
			defer b.Close()

			rec := record.New(record.System{Path: "/a", Filename: "a", Size: 42}, map[string]any{"owner": "alice"})
			if err := b.Save(ctx, "/a", rec); err != nil {
				t.Fatalf("save: %v", err)
			}

			got, err := b.Get(ctx, "/a")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.User["owner"] != "alice" || got.System.Size != 42 {
				t.Fatalf("got %+v", got)
			}

			ok, err := b.Delete(ctx, "/a")
			if err != nil || !ok {
				t.Fatalf("delete: ok=%v err=%v", ok, err)
			}

			if _, err := b.Get(ctx, "/a"); err != storage.ErrNotFound {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestAllBackends_SaveIsIdempotent(t *testing.T) {
	for name, factory := range GetTestBackendFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b, err := factory(t)
			if err != nil {
				t.Fatalf("backend init failed: %v", err)
			}
			defer b.Close()

			rec := record.New(record.System{Path: "/a", Size: 1}, map[string]any{"v": 1})
			if err := b.Save(ctx, "/a", rec); err != nil {
				t.Fatalf("save: %v", err)
			}
			if err := b.Save(ctx, "/a", rec); err != nil {
				t.Fatalf("repeated save: %v", err)
			}

			got, err := b.Get(ctx, "/a")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.System.Size != 1 {
				t.Fatalf("got %+v", got)
			}
		})
	}
}

func TestAllBackends_DeleteMissingReportsFalse(t *testing.T) {
	for name, factory := range GetTestBackendFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b, err := factory(t)
			if err != nil {
				t.Fatalf("backend init failed: %v", err)
			}
			defer b.Close()

			ok, err := b.Delete(ctx, "/missing")
			if err != nil {
				t.Fatalf("delete: %v", err)
			}
			if ok {
				t.Fatal("expected Delete on a missing path to report false")
			}
		})
	}
}

func TestAllBackends_BulkAndIterAll(t *testing.T) {
	for name, factory := range GetTestBackendFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b, err := factory(t)
			if err != nil {
				t.Fatalf("backend init failed: %v", err)
			}
			defer b.Close()

			ops := []storage.Op{
				{Kind: storage.OpSave, Path: "/a", Record: record.New(record.System{Path: "/a"}, nil)},
				{Kind: storage.OpSave, Path: "/b", Record: record.New(record.System{Path: "/b"}, nil)},
				{Kind: storage.OpSave, Path: "/c", Record: record.New(record.System{Path: "/c"}, nil)},
			}
			if _, err := b.Bulk(ctx, ops); err != nil {
				t.Fatalf("bulk: %v", err)
			}

			it, err := b.IterAll(ctx)
			if err != nil {
				t.Fatalf("iterall: %v", err)
			}

			seen := map[string]bool{}
			it(func(e storage.Entry) bool {
				seen[e.Path] = true
				return true
			})

			for _, p := range []string{"/a", "/b", "/c"} {
				if !seen[p] {
					t.Fatalf("missing %s in %v", p, seen)
				}
			}
		})
	}
}

func TestAllBackends_SnapshotRestoreRollsBackChanges(t *testing.T) {
	for name, factory := range GetTestBackendFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b, err := factory(t)
			if err != nil {
				t.Fatalf("backend init failed: %v", err)
			}
			defer b.Close()

			b.Save(ctx, "/a", record.New(record.System{Path: "/a"}, nil))

			snap, err := b.Snapshot(ctx)
			if err != nil {
				t.Fatalf("snapshot: %v", err)
			}

			b.Save(ctx, "/b", record.New(record.System{Path: "/b"}, nil))
			b.Delete(ctx, "/a")

			if err := b.Restore(ctx, snap); err != nil {
				t.Fatalf("restore: %v", err)
			}

			if _, err := b.Get(ctx, "/a"); err != nil {
				t.Fatal("expected /a restored")
			}
			if _, err := b.Get(ctx, "/b"); err != storage.ErrNotFound {
				t.Fatal("expected /b to be gone after restore")
			}
		})
	}
}
