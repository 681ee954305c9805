package sqlstore

import (
	"context"
	"testing"

	"github.com/mwantia/filemeta/record"
	"github.com/mwantia/filemeta/storage"
)

func TestSaveGetDelete(t *testing.T) {
	ctx := context.Background()
	b, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer b.Close()

	rec := record.New(record.System{Path: "/a", Filename: "a", Size: 100}, map[string]any{"owner": "alice"})
	if err := b.Save(ctx, "/a", rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := b.Get(ctx, "/a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.User["owner"] != "alice" || got.System.Size != 100 {
		t.Fatalf("got %+v", got)
	}

	ok, err := b.Delete(ctx, "/a")
	if err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
	if _, err := b.Get(ctx, "/a"); err != storage.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveUpsertsOnConflict(t *testing.T) {
	ctx := context.Background()
	b, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer b.Close()

	b.Save(ctx, "/a", record.New(record.System{Path: "/a", Size: 1}, nil))
	b.Save(ctx, "/a", record.New(record.System{Path: "/a", Size: 2}, nil))

	got, err := b.Get(ctx, "/a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.System.Size != 2 {
		t.Fatalf("expected upsert to replace, got size=%d", got.System.Size)
	}
}

func TestQueryPushesDownJSONExtract(t *testing.T) {
	ctx := context.Background()
	b, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer b.Close()

	b.Save(ctx, "/a", record.New(record.System{Path: "/a"}, map[string]any{"owner": "alice"}))
	b.Save(ctx, "/b", record.New(record.System{Path: "/b"}, nil))

	got, err := b.Query(ctx, storage.Criteria{Field: "user.owner"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0] != "/a" {
		t.Fatalf("got %v", got)
	}
}

func TestBulkRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	b, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer b.Close()

	ops := []storage.Op{
		{Kind: storage.OpSave, Path: "/a", Record: record.New(record.System{Path: "/a"}, nil)},
		{Kind: storage.OpSave, Path: "/b", Record: record.New(record.System{Path: "/b"}, nil)},
	}
	if _, err := b.Bulk(ctx, ops); err != nil {
		t.Fatalf("bulk: %v", err)
	}

	if _, err := b.Get(ctx, "/a"); err != nil {
		t.Fatal("expected /a saved")
	}
	if _, err := b.Get(ctx, "/b"); err != nil {
		t.Fatal("expected /b saved")
	}

	failing := []storage.Op{
		{Kind: storage.OpSave, Path: "/c", Record: record.New(record.System{Path: "/c"}, nil)},
		{Kind: storage.OpSave, Path: "/d", Record: record.New(record.System{Path: "/d"}, map[string]any{"bad": make(chan int)})},
	}
	if _, err := b.Bulk(ctx, failing); err == nil {
		t.Fatal("expected bulk with an unencodable record to fail")
	}
	if _, err := b.Get(ctx, "/c"); err != storage.ErrNotFound {
		t.Fatal("expected /c to be rolled back with the failed bulk")
	}
}

func TestSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	b, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer b.Close()

	b.Save(ctx, "/a", record.New(record.System{Path: "/a"}, nil))
	snap, err := b.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	b.Save(ctx, "/b", record.New(record.System{Path: "/b"}, nil))
	if err := b.Restore(ctx, snap); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if _, err := b.Get(ctx, "/b"); err != storage.ErrNotFound {
		t.Fatal("expected /b to be rolled back")
	}
	if _, err := b.Get(ctx, "/a"); err != nil {
		t.Fatal("expected /a to survive restore")
	}
}

func TestIterAll(t *testing.T) {
	ctx := context.Background()
	b, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer b.Close()

	b.Save(ctx, "/a", record.New(record.System{Path: "/a"}, nil))
	b.Save(ctx, "/b", record.New(record.System{Path: "/b"}, nil))

	it, err := b.IterAll(ctx)
	if err != nil {
		t.Fatalf("iterall: %v", err)
	}

	seen := map[string]bool{}
	it(func(e storage.Entry) bool {
		seen[e.Path] = true
		return true
	})

	if !seen["/a"] || !seen["/b"] {
		t.Fatalf("got %v", seen)
	}
}
