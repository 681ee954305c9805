// Package record defines the three-tier metadata record that filemeta
// attaches to every indexed file, along with the assembly rules that
// combine a filesystem probe, caller-supplied fields, and plugin output
// into one value.
package record

import "maps"

// System is the fixed-schema sub-map captured from the filesystem itself.
// Every field is populated by the probe package; callers never set it
// directly.
type System struct {
	Path      string  `json:"path"`
	Filename  string  `json:"filename"`
	Extension string  `json:"extension"`
	Size      int64   `json:"size"`
	Created   float64 `json:"created"`
	Modified  float64 `json:"modified"`
	Accessed  float64 `json:"accessed"`
}

// Record is the value bound to one canonical path: automatically captured
// system attributes, caller-supplied user fields, and plugin-produced
// fields.
type Record struct {
	System System         `json:"system"`
	User   map[string]any `json:"user"`
	Plugin map[string]any `json:"plugin"`
}

// New builds a record from a system probe, cloning the supplied user map
// so the caller's map is never aliased.
func New(sys System, user map[string]any) *Record {
	return &Record{
		System: sys,
		User:   cloneMap(user),
		Plugin: map[string]any{},
	}
}

// Clone returns a deep-enough copy of the record: the System value is
// copied, and the User/Plugin maps are shallow-cloned. This is sufficient
// for the index/storage invariant that no two owners alias the same map,
// while treating field values themselves (which may be nested JSON
// structures) as immutable once assembled.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}

	return &Record{
		System: r.System,
		User:   cloneMap(r.User),
		Plugin: cloneMap(r.Plugin),
	}
}

// UpdateUser shallow-overlays patch into the record's user sub-map,
// leaving unspecified keys untouched. This is the semantics of
// update_metadata (spec.md §4.D).
func (r *Record) UpdateUser(patch map[string]any) {
	if r.User == nil {
		r.User = map[string]any{}
	}

	maps.Copy(r.User, patch)
}

// ReplaceUser overwrites the record's entire user sub-map, dropping any
// keys not present in replacement. This is the semantics of
// replace_metadata (spec.md §4.D).
func (r *Record) ReplaceUser(replacement map[string]any) {
	r.User = cloneMap(replacement)
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}

	out := make(map[string]any, len(m))
	maps.Copy(out, m)

	return out
}

// Section returns the sub-map named by a top-level section name
// ("system", "user", "plugin"), or nil if the section name is unknown.
// System is returned as its own map view for the query engine's uniform
// dotted-field addressing.
func (r *Record) Section(name string) map[string]any {
	switch name {
	case "system":
		return map[string]any{
			"path":      r.System.Path,
			"filename":  r.System.Filename,
			"extension": r.System.Extension,
			"size":      r.System.Size,
			"created":   r.System.Created,
			"modified":  r.System.Modified,
			"accessed":  r.System.Accessed,
		}
	case "user":
		return r.User
	case "plugin":
		return r.Plugin
	default:
		return nil
	}
}
