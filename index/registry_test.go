package index

import (
	"testing"

	"github.com/mwantia/filemeta/record"
)

func rec(owner string, size int64, tags []any) *record.Record {
	user := map[string]any{"owner": owner}
	if tags != nil {
		user["tags"] = tags
	}
	return record.New(record.System{Path: owner, Size: size}, user)
}

func TestAddGetRemove(t *testing.T) {
	r := New()
	r.Add("/a", rec("alice", 1, nil))

	if !r.Exists("/a") {
		t.Fatal("expected /a to exist")
	}
	if got := r.Get("/a").User["owner"]; got != "alice" {
		t.Fatalf("got %v", got)
	}
	if !r.Remove("/a") {
		t.Fatal("expected Remove to report true")
	}
	if r.Exists("/a") {
		t.Fatal("expected /a to be gone")
	}
	if r.Remove("/a") {
		t.Fatal("expected second Remove to report false")
	}
}

func TestGetAllPathsPreservesInsertionOrder(t *testing.T) {
	r := New()
	r.Add("/c", rec("c", 1, nil))
	r.Add("/a", rec("a", 1, nil))
	r.Add("/b", rec("b", 1, nil))

	got := r.GetAllPaths()
	want := []string{"/c", "/a", "/b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestUpdatePreservesPosition(t *testing.T) {
	r := New()
	r.Add("/a", rec("alice", 1, nil))
	r.Add("/b", rec("bob", 1, nil))
	r.Update("/a", rec("alice2", 5, nil))

	got := r.GetAllPaths()
	if got[0] != "/a" || got[1] != "/b" {
		t.Fatalf("got %v, expected /a to keep its position", got)
	}
	if r.Get("/a").User["owner"] != "alice2" {
		t.Fatal("update did not replace the record value")
	}
}

func TestFindByFieldUndeclaredIndex(t *testing.T) {
	r := New()
	r.Add("/a", rec("alice", 1, nil))

	_, declared := r.FindByField("user.owner", "alice")
	if declared {
		t.Fatal("expected user.owner to be undeclared")
	}
}

func TestFindByFieldDeclaredIndex(t *testing.T) {
	r := New("user.owner")
	r.Add("/a", rec("alice", 1, nil))
	r.Add("/b", rec("bob", 1, nil))
	r.Add("/c", rec("alice", 1, nil))

	set, declared := r.FindByField("user.owner", "alice")
	if !declared {
		t.Fatal("expected user.owner to be declared")
	}
	if len(set) != 2 {
		t.Fatalf("got %v", set)
	}
	if _, ok := set["/a"]; !ok {
		t.Fatal("expected /a in result")
	}
	if _, ok := set["/c"]; !ok {
		t.Fatal("expected /c in result")
	}
}

func TestUpdateMovesIndexBucket(t *testing.T) {
	r := New("user.owner")
	r.Add("/a", rec("alice", 1, nil))
	r.Update("/a", rec("bob", 1, nil))

	if set, _ := r.FindByField("user.owner", "alice"); len(set) != 0 {
		t.Fatalf("expected alice bucket empty, got %v", set)
	}
	if set, _ := r.FindByField("user.owner", "bob"); len(set) != 1 {
		t.Fatalf("expected bob bucket to contain /a, got %v", set)
	}
}

func TestCreateIndexBackfills(t *testing.T) {
	r := New()
	r.Add("/a", rec("alice", 1, nil))
	r.Add("/b", rec("bob", 1, nil))

	r.CreateIndex("user.owner")

	set, declared := r.FindByField("user.owner", "alice")
	if !declared || len(set) != 1 {
		t.Fatalf("expected backfilled index to find /a, got declared=%v set=%v", declared, set)
	}
}

func TestListFieldIndexesEachElement(t *testing.T) {
	r := New("user.tags")
	r.Add("/a", rec("alice", 1, []any{"draft", "beta"}))
	r.MarkListField("user.tags")

	if !r.IsListField("user.tags") {
		t.Fatal("expected user.tags to be marked as a list field")
	}

	set, declared := r.FindByField("user.tags", "beta")
	if !declared || len(set) != 1 {
		t.Fatalf("expected /a indexed under beta, got declared=%v set=%v", declared, set)
	}
}

func TestSnapshotRestoreRoundTrips(t *testing.T) {
	r := New("user.owner")
	r.Add("/a", rec("alice", 1, nil))
	r.Add("/b", rec("bob", 1, nil))
	r.MarkListField("user.tags")

	snap := r.Snapshot()

	r.Add("/c", rec("carol", 1, nil))
	r.Remove("/a")
	r.CreateIndex("user.tags")

	r.Restore(snap)

	if r.Exists("/c") {
		t.Fatal("expected /c to be gone after restore")
	}
	if !r.Exists("/a") {
		t.Fatal("expected /a to be back after restore")
	}
	if !r.IsListField("user.tags") {
		t.Fatal("expected listFields to survive restore")
	}
	if r.HasIndex("user.tags") {
		t.Fatal("expected the post-snapshot CreateIndex to be rolled back")
	}

	got := r.GetAllPaths()
	if len(got) != 2 || got[0] != "/a" || got[1] != "/b" {
		t.Fatalf("got %v, want [/a /b]", got)
	}
}

func TestFieldsReturnsDeclaredIndexes(t *testing.T) {
	r := New("user.owner")
	r.CreateIndex("user.tags")

	fields := r.Fields()
	if len(fields) != 2 {
		t.Fatalf("got %v", fields)
	}

	seen := map[string]bool{}
	for _, f := range fields {
		seen[f] = true
	}
	if !seen["user.owner"] || !seen["user.tags"] {
		t.Fatalf("got %v, want user.owner and user.tags", fields)
	}
}
