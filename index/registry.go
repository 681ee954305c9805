// Package index implements the primary path->record map and the
// secondary field->value->paths inverted indexes that back the query
// engine's planner (spec.md §4.E).
package index

import (
	"container/list"
	"sync"

	"github.com/mwantia/filemeta/record"
)

// Registry is the in-memory index. It is safe for concurrent use: readers
// (Get, GetAllPaths, FindByField) take the shared lock, writers (Add,
// Update, Remove, CreateIndex) take the exclusive lock, per spec.md §5.
type Registry struct {
	mu sync.RWMutex

	primary map[string]*record.Record
	order   *list.List
	elems   map[string]*list.Element

	// declared dotted field names eligible for secondary indexing.
	fields map[string]struct{}
	// field -> normalized value -> set of paths.
	secondary map[string]map[any]map[string]struct{}
	// fields the caller has declared always hold a list value. The query
	// planner only trusts the index for $contains on these fields, since
	// $contains on a plain string (substring match) cannot be answered
	// from an exact-value bucket without risking false negatives.
	listFields map[string]struct{}
}

// New builds an empty registry with the given dotted fields pre-declared
// as secondary indexes.
func New(fields ...string) *Registry {
	r := &Registry{
		primary:   make(map[string]*record.Record),
		order:     list.New(),
		elems:     make(map[string]*list.Element),
		fields:     make(map[string]struct{}),
		secondary:  make(map[string]map[any]map[string]struct{}),
		listFields: make(map[string]struct{}),
	}

	for _, f := range fields {
		r.fields[f] = struct{}{}
		r.secondary[f] = make(map[any]map[string]struct{})
	}

	return r
}

// Add inserts a new record at the end of insertion order and indexes it.
func (r *Registry) Add(path string, rec *record.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.primary[path] = rec
	if _, exists := r.elems[path]; !exists {
		r.elems[path] = r.order.PushBack(path)
	}

	r.indexRecord(path, rec)
}

// Update replaces the record at path, removing it from every secondary
// bucket its old value populated before re-indexing under the new value.
// Insertion order (and hence search() determinism) is preserved: the
// path keeps its original position.
func (r *Registry) Update(path string, rec *record.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, exists := r.primary[path]; exists {
		r.unindexRecord(path, old)
	} else if _, tracked := r.elems[path]; !tracked {
		r.elems[path] = r.order.PushBack(path)
	}

	r.primary[path] = rec
	r.indexRecord(path, rec)
}

// Remove deletes the record at path from the primary index and every
// secondary bucket it participates in. Returns whether a record existed.
func (r *Registry) Remove(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.primary[path]
	if !exists {
		return false
	}

	r.unindexRecord(path, rec)
	delete(r.primary, path)

	if elem, ok := r.elems[path]; ok {
		r.order.Remove(elem)
		delete(r.elems, path)
	}

	return true
}

// Get returns the record at path, or nil if absent.
func (r *Registry) Get(path string) *record.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.primary[path]
}

// Exists reports whether path is currently indexed.
func (r *Registry) Exists(path string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.primary[path]
	return ok
}

// GetAllPaths returns every indexed path in primary insertion order.
func (r *Registry) GetAllPaths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	paths := make([]string, 0, r.order.Len())
	for e := r.order.Front(); e != nil; e = e.Next() {
		paths = append(paths, e.Value.(string))
	}

	return paths
}

// Len returns the number of indexed records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.primary)
}

// FindByField returns the set of paths whose record carries value at the
// given dotted field, using the secondary index if one is declared for
// that field. Returns (nil, false) when the field has no declared index,
// letting the query planner fall back to a manual scan.
func (r *Registry) FindByField(field string, value any) (map[string]struct{}, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bucket, declared := r.secondary[field]
	if !declared {
		return nil, false
	}

	matches, ok := bucket[normalize(value)]
	if !ok {
		return map[string]struct{}{}, true
	}

	out := make(map[string]struct{}, len(matches))
	for p := range matches {
		out[p] = struct{}{}
	}

	return out, true
}

// MarkListField declares that field always holds a list value, letting
// the query planner trust the secondary index for $contains lookups on
// it (see FieldValue/leafValues: list elements are indexed individually,
// but a plain string's substring matches are not, so $contains on a
// non-list field can never safely use the index).
func (r *Registry) MarkListField(field string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.listFields[field] = struct{}{}
}

// IsListField reports whether field was declared via MarkListField.
func (r *Registry) IsListField(field string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.listFields[field]
	return ok
}

// Fields returns every dotted field name currently declared as a
// secondary index, in no particular order.
func (r *Registry) Fields() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.fields))
	for f := range r.fields {
		out = append(out, f)
	}

	return out
}

// HasIndex reports whether field is a declared secondary index.
func (r *Registry) HasIndex(field string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.fields[field]
	return ok
}

// CreateIndex declares field as a secondary index and performs a full
// pass over existing records to populate it (spec.md §4.E).
func (r *Registry) CreateIndex(field string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.fields[field]; exists {
		return
	}

	r.fields[field] = struct{}{}
	bucket := make(map[any]map[string]struct{})
	r.secondary[field] = bucket

	for path, rec := range r.primary {
		indexField(bucket, path, rec, field)
	}
}

// Snapshot captures enough state to restore the registry on transaction
// rollback (spec.md §5).
type Snapshot struct {
	primary    map[string]*record.Record
	order      []string
	fields     []string
	listFields []string
}

// Snapshot returns a point-in-time copy of the registry's contents. The
// caller must already hold whatever external coordination is needed
// (the Manager takes its transaction lock before snapshotting).
func (r *Registry) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	primary := make(map[string]*record.Record, len(r.primary))
	for k, v := range r.primary {
		primary[k] = v.Clone()
	}

	order := make([]string, 0, r.order.Len())
	for e := r.order.Front(); e != nil; e = e.Next() {
		order = append(order, e.Value.(string))
	}

	fields := make([]string, 0, len(r.fields))
	for f := range r.fields {
		fields = append(fields, f)
	}

	listFields := make([]string, 0, len(r.listFields))
	for f := range r.listFields {
		listFields = append(listFields, f)
	}

	return &Snapshot{primary: primary, order: order, fields: fields, listFields: listFields}
}

// Restore replaces the registry's contents with a previously captured
// snapshot, rebuilding every secondary index from scratch.
func (r *Registry) Restore(snap *Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.primary = make(map[string]*record.Record, len(snap.primary))
	r.order = list.New()
	r.elems = make(map[string]*list.Element, len(snap.order))

	for _, path := range snap.order {
		r.primary[path] = snap.primary[path]
		r.elems[path] = r.order.PushBack(path)
	}

	r.fields = make(map[string]struct{}, len(snap.fields))
	r.secondary = make(map[string]map[any]map[string]struct{}, len(snap.fields))
	for _, f := range snap.fields {
		r.fields[f] = struct{}{}
		bucket := make(map[any]map[string]struct{})
		r.secondary[f] = bucket
	}

	for path, rec := range r.primary {
		for f := range r.fields {
			indexField(r.secondary[f], path, rec, f)
		}
	}

	r.listFields = make(map[string]struct{}, len(snap.listFields))
	for _, f := range snap.listFields {
		r.listFields[f] = struct{}{}
	}
}

func (r *Registry) indexRecord(path string, rec *record.Record) {
	for field := range r.fields {
		indexField(r.secondary[field], path, rec, field)
	}
}

func (r *Registry) unindexRecord(path string, rec *record.Record) {
	for field, bucket := range r.secondary {
		for _, v := range fieldValues(rec, field) {
			key := normalize(v)
			if paths, ok := bucket[key]; ok {
				delete(paths, path)
				if len(paths) == 0 {
					delete(bucket, key)
				}
			}
		}
	}
}

func indexField(bucket map[any]map[string]struct{}, path string, rec *record.Record, field string) {
	for _, v := range fieldValues(rec, field) {
		key := normalize(v)
		if bucket[key] == nil {
			bucket[key] = make(map[string]struct{})
		}
		bucket[key][path] = struct{}{}
	}
}
