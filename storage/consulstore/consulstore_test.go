package consulstore

import (
	"context"
	"testing"

	"github.com/mwantia/filemeta/record"
	"github.com/mwantia/filemeta/storage"
)

// newTestBackend opens a backend against a local Consul agent, skipping
// the test when none is reachable (there is no Consul KV client library
// that can run against an in-process fake).
func newTestBackend(t *testing.T) *Backend {
	t.Helper()

	b, err := Open(Config{Prefix: "filemeta-test"})
	if err != nil {
		t.Skipf("consul unreachable: %v", err)
	}

	if _, err := b.Query(context.Background(), storage.Criteria{}); err != nil {
		t.Skipf("consul agent not reachable: %v", err)
	}

	return b
}

func TestSaveGetDelete(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	rec := record.New(record.System{Path: "/a", Filename: "a"}, map[string]any{"owner": "alice"})
	if err := b.Save(ctx, "/a", rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	defer b.Delete(ctx, "/a")

	got, err := b.Get(ctx, "/a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.User["owner"] != "alice" {
		t.Fatalf("got %v", got.User)
	}

	ok, err := b.Delete(ctx, "/a")
	if err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
	if _, err := b.Get(ctx, "/a"); err != storage.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSnapshotRestore(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	b.Save(ctx, "/a", record.New(record.System{Path: "/a"}, nil))
	defer b.Delete(ctx, "/a")

	snap, err := b.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	b.Save(ctx, "/b", record.New(record.System{Path: "/b"}, nil))
	defer b.Delete(ctx, "/b")

	if err := b.Restore(ctx, snap); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if _, err := b.Get(ctx, "/b"); err != storage.ErrNotFound {
		t.Fatal("expected /b to be rolled back")
	}
}
