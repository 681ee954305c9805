package s3store

import (
	"context"
	"testing"

	"github.com/mwantia/filemeta/record"
	"github.com/mwantia/filemeta/storage"
)

// newTestBackend opens a backend against a local S3-compatible endpoint
// (e.g. MinIO on :9000), skipping when none is reachable.
func newTestBackend(t *testing.T) *Backend {
	t.Helper()

	ctx := context.Background()
	b, err := Open(ctx, Config{
		Endpoint:        "127.0.0.1:9000",
		AccessKeyID:     "minioadmin",
		SecretAccessKey: "minioadmin",
		Bucket:          "filemeta-test",
		Prefix:          "records",
	})
	if err != nil {
		t.Skipf("s3 endpoint unreachable: %v", err)
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

func TestQueryListsUnderPrefix(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	b.Save(ctx, "/a", record.New(record.System{Path: "/a"}, nil))
	defer b.Delete(ctx, "/a")

	got, err := b.Query(ctx, storage.Criteria{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	found := false
	for _, p := range got {
		if p == "/a" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected /a in %v", got)
	}
}
