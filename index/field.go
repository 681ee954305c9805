package index

import (
	"strings"

	"github.com/mwantia/filemeta/record"
)

// FieldValue navigates a dotted field path ("user.tags", "system.size",
// "user.owner.name") through a record and returns the raw value found
// there, if any.
func FieldValue(rec *record.Record, dotted string) (any, bool) {
	parts := strings.Split(dotted, ".")
	if len(parts) == 0 {
		return nil, false
	}

	section := rec.Section(parts[0])
	if section == nil {
		return nil, false
	}

	var cur any = section
	for _, p := range parts[1:] {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}

		v, exists := m[p]
		if !exists {
			return nil, false
		}

		cur = v
	}

	return cur, true
}

// fieldValues returns the set of indexable scalar values a field
// contributes for a record: a single value for a scalar, one entry per
// element for a list, and nothing for a mapping (spec.md §4.E: "Mapping
// value: not indexed at that depth").
func fieldValues(rec *record.Record, dotted string) []any {
	v, ok := FieldValue(rec, dotted)
	if !ok {
		return nil
	}

	return leafValues(v)
}

func leafValues(v any) []any {
	switch vv := v.(type) {
	case []any:
		out := make([]any, 0, len(vv))
		for _, item := range vv {
			if isIndexable(item) {
				out = append(out, item)
			}
		}
		return out
	case map[string]any:
		return nil
	default:
		if isIndexable(v) {
			return []any{v}
		}
		return nil
	}
}

func isIndexable(v any) bool {
	return IsIndexable(v)
}

// IsIndexable reports whether v is a scalar the secondary index can key
// on directly (not a list or mapping).
func IsIndexable(v any) bool {
	switch v.(type) {
	case nil, string, bool, int, int64, float64, float32:
		return true
	default:
		return false
	}
}

// Normalize is the exported form of normalize, used by the query planner
// to build lookup keys consistent with what the registry indexed under.
func Normalize(v any) any {
	return normalize(v)
}

// normalize maps every numeric Go type onto float64 so index keys and
// query operands compare equal regardless of whether a value arrived as
// an int64 (system fields) or a float64 (JSON-decoded user fields).
func normalize(v any) any {
	switch vv := v.(type) {
	case int:
		return float64(vv)
	case int64:
		return float64(vv)
	case float32:
		return float64(vv)
	default:
		return v
	}
}
