// Package storage defines the durable backend contract every persistence
// implementation satisfies (spec.md §4.C), plus five concrete backends.
package storage

import (
	"context"

	"github.com/mwantia/filemeta/record"
)

// Op is one operation within a Bulk call.
type Op struct {
	Kind   OpKind
	Path   string
	Record *record.Record
}

// OpKind identifies the kind of a bulk operation.
type OpKind int

const (
	OpSave OpKind = iota
	OpDelete
)

// OpResult reports the outcome of one Op within a Bulk call.
type OpResult struct {
	Path string
	Err  error
}

// Criteria is a backend-level pushdown hint. Backends perform whatever
// filtering they can cheaply support and return a superset of matching
// paths; the query engine always re-applies the full predicate.
type Criteria struct {
	// Field is a dotted field name a backend may be able to push down
	// (e.g. a SQL WHERE clause, a Consul key prefix). Empty means "no
	// pushdown hint available, return every path."
	Field string
	Value any
}

// Entry pairs a path with its record, yielded by IterAll.
type Entry struct {
	Path   string
	Record *record.Record
}

// Snapshot is an opaque, backend-specific point-in-time capture used by
// the manager's transaction machinery to roll back a failed commit.
type Snapshot interface {
	// backendSnapshot is unexported so only this package's backends can
	// implement Snapshot, keeping Restore's type assertion safe.
	backendSnapshot()
}

// SnapshotSeal is embedded by backend-specific snapshot types so they can
// satisfy the unexported Snapshot.backendSnapshot method from outside this
// package.
type SnapshotSeal struct{}

func (SnapshotSeal) backendSnapshot() {}

// Backend is the durable persistence contract every storage
// implementation satisfies (spec.md §4.C). Save and Delete are
// individually atomic; Bulk is atomic as a group. Durability is
// best-effort; callers invoke Flush at transaction commit.
type Backend interface {
	Save(ctx context.Context, path string, rec *record.Record) error
	Get(ctx context.Context, path string) (*record.Record, error)
	Delete(ctx context.Context, path string) (bool, error)
	Query(ctx context.Context, criteria Criteria) ([]string, error)
	Bulk(ctx context.Context, ops []Op) ([]OpResult, error)
	IterAll(ctx context.Context) (func(yield func(Entry) bool), error)

	Snapshot(ctx context.Context) (Snapshot, error)
	Restore(ctx context.Context, snap Snapshot) error

	// Flush forces any buffered writes to durable storage. Called at
	// transaction commit.
	Flush(ctx context.Context) error

	// Close releases any resources the backend holds (file handles,
	// network clients).
	Close() error
}

// ErrNotFound is returned by Get for a path with no stored record.
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "storage: record not found" }

// ErrInvalidSnapshot is returned by Restore when handed a Snapshot value
// produced by a different backend implementation.
var ErrInvalidSnapshot = errInvalidSnapshot{}

type errInvalidSnapshot struct{}

func (errInvalidSnapshot) Error() string { return "storage: snapshot does not belong to this backend" }
