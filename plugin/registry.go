// Package plugin implements the extractor registry and dispatch pipeline
// described in spec.md §4.F: capability-pair plugins run in priority
// order, on a bounded worker pool, with their outputs combined under a
// configurable conflict policy.
package plugin

import (
	"sort"
	"sync"
)

// Plugin exposes the two operations spec.md §6 requires of an extractor.
// Supports must be pure (no file I/O beyond inspecting the name); Extract
// may read the file and must be re-entrant.
type Plugin interface {
	Supports(path string) bool
	Extract(path string) (map[string]any, error)
}

type entry struct {
	plugin   Plugin
	priority int
	seq      int
}

// Registry holds registered plugins ordered by descending priority, ties
// broken by registration order (spec.md §4.F), grounded on
// FileMetaLib/plugins.py's PluginRegistry.
type Registry struct {
	mu      sync.Mutex
	entries []*entry
	nextSeq int
}

// NewRegistry returns an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds p at the given priority. Higher priority values run
// first; among equal priorities, earlier registrations run first.
func (r *Registry) Register(p Plugin, priority int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, &entry{plugin: p, priority: priority, seq: r.nextSeq})
	r.nextSeq++

	sort.SliceStable(r.entries, func(i, j int) bool {
		if r.entries[i].priority != r.entries[j].priority {
			return r.entries[i].priority > r.entries[j].priority
		}
		return r.entries[i].seq < r.entries[j].seq
	})
}

// Matching returns every registered plugin whose Supports(path) is true,
// in dispatch order (descending priority, registration-order tiebreak).
func (r *Registry) Matching(path string) []Plugin {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Plugin, 0, len(r.entries))
	for _, e := range r.entries {
		if e.plugin.Supports(path) {
			out = append(out, e.plugin)
		}
	}

	return out
}

// Len reports the number of registered plugins.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries)
}
