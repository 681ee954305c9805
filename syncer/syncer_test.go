package syncer

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mwantia/filemeta/index"
	"github.com/mwantia/filemeta/probe"
	"github.com/mwantia/filemeta/record"
)

func indexFile(t *testing.T, reg *index.Registry, path string) {
	t.Helper()

	sys, err := probe.Probe(path, probe.Options{})
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	reg.Add(path, record.New(sys, nil))
}

func TestPlanClassifiesUnchangedFileAsNoop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	reg := index.New()
	indexFile(t, reg, path)

	r := New(reg, nil)
	diff, err := r.Plan(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}

	added, updated, removed := diff.Stats()
	if added != 0 || updated != 0 || removed != 0 {
		t.Fatalf("got added=%d updated=%d removed=%d", added, updated, removed)
	}
}

func TestPlanDiscoversNewFiles(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "a.txt")
	os.WriteFile(existing, []byte("a"), 0o644)

	reg := index.New()
	indexFile(t, reg, existing)

	newFile := filepath.Join(dir, "b.txt")
	os.WriteFile(newFile, []byte("b"), 0o644)

	r := New(reg, nil)
	diff, err := r.Plan(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}

	if len(diff.Added) != 1 || diff.Added[0] != newFile {
		t.Fatalf("got added=%v, want [%s]", diff.Added, newFile)
	}
}

func TestPlanClassifiesRemovedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	os.WriteFile(path, []byte("a"), 0o644)

	reg := index.New()
	indexFile(t, reg, path)

	os.Remove(path)

	r := New(reg, nil)
	diff, err := r.Plan(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}

	if len(diff.Removed) != 1 || diff.Removed[0] != path {
		t.Fatalf("got removed=%v, want [%s]", diff.Removed, path)
	}
}

func TestPlanClassifiesModifiedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	os.WriteFile(path, []byte("a"), 0o644)

	reg := index.New()
	indexFile(t, reg, path)

	time.Sleep(10 * time.Millisecond)
	os.WriteFile(path, []byte("changed"), 0o644)

	r := New(reg, nil)
	diff, err := r.Plan(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}

	if len(diff.Updated) != 1 || diff.Updated[0] != path {
		t.Fatalf("got updated=%v, want [%s]", diff.Updated, path)
	}
}

func TestPlanUsesDefaultRootsFromIndexedPaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	os.WriteFile(path, []byte("a"), 0o644)

	reg := index.New()
	indexFile(t, reg, path)

	newFile := filepath.Join(dir, "b.txt")
	os.WriteFile(newFile, []byte("b"), 0o644)

	r := New(reg, nil)
	diff, err := r.Plan(context.Background(), nil)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}

	if len(diff.Added) != 1 || diff.Added[0] != newFile {
		t.Fatalf("got added=%v, want [%s]", diff.Added, newFile)
	}
}

func TestPlanHonorsInclusionFilter(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "keep.txt"), []byte("a"), 0o644)
	os.WriteFile(filepath.Join(dir, "skip.log"), []byte("b"), 0o644)

	reg := index.New()
	r := New(reg, func(path string, d fs.DirEntry) bool {
		return filepath.Ext(path) == ".txt"
	})

	diff, err := r.Plan(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}

	if len(diff.Added) != 1 || filepath.Base(diff.Added[0]) != "keep.txt" {
		t.Fatalf("got added=%v", diff.Added)
	}
}

func TestPlanRespectsCancellation(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644)

	reg := index.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := New(reg, nil)
	if _, err := r.Plan(ctx, []string{dir}); err == nil {
		t.Fatal("expected cancellation error")
	}
}
