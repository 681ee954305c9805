// Package query implements the declarative field/operator query language
// and planner described in spec.md §4.G.
package query

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/mwantia/filemeta/index"
	"github.com/mwantia/filemeta/record"
)

// Query is a mapping from dotted field names (or the logical operators
// $and/$or/$not) to matchers.
type Query map[string]any

// operators is the closed set spec.md §4.G defines.
var operators = map[string]struct{}{
	"$eq": {}, "$ne": {}, "$contains": {}, "$in": {},
	"$gt": {}, "$gte": {}, "$lt": {}, "$lte": {},
	"$exists": {}, "$regex": {}, "$and": {}, "$or": {}, "$not": {},
}

// Error reports a malformed query: unknown operator or bad operand shape.
type Error struct {
	Msg string
}

func (e *Error) Error() string { return "query: " + e.Msg }

// Handler lets a caller extend the operator set for specific fields
// without modifying the query engine itself (spec.md §6). A field a
// handler claims is resolved entirely by the handler and is never
// eligible for index planning; handlers run in the post-filter pass,
// narrowing whatever candidate list is already in hand.
type Handler interface {
	// CanHandle reports whether this handler is responsible for
	// evaluating matcher against the given dotted field.
	CanHandle(field string, matcher any) bool
	// Process narrows candidates to those whose record satisfies
	// matcher at field. lookup resolves a path to its current record.
	Process(candidates []string, field string, matcher any, lookup func(string) *record.Record) []string
}

// Engine evaluates queries against an index.Registry.
type Engine struct {
	registry *index.Registry
	handlers []Handler
}

// New builds a query engine bound to reg.
func New(reg *index.Registry) *Engine {
	return &Engine{registry: reg}
}

// RegisterHandler adds a custom query handler.
func (e *Engine) RegisterHandler(h Handler) {
	e.handlers = append(e.handlers, h)
}

// Search validates q, plans index usage for its top-level field
// predicates, runs any custom handlers that claim a top-level field as
// an ordered narrowing pass, and returns a lazy pull iterator over the
// remaining matches in primary-insertion order (spec.md §4.G
// "Determinism"). Handler-claimed fields are resolved entirely by the
// handler and are excluded from both index planning and the built-in
// evaluator.
func (e *Engine) Search(q Query) (func(yield func(string) bool), error) {
	if err := validate(q); err != nil {
		return nil, err
	}

	rest, handled := e.splitHandled(q)

	base, haveBase := e.plan(rest)

	var candidates []string
	if haveBase {
		for _, path := range e.registry.GetAllPaths() {
			if _, ok := base[path]; ok {
				candidates = append(candidates, path)
			}
		}
	} else {
		candidates = e.registry.GetAllPaths()
	}

	lookup := e.registry.Get
	for field, matcher := range handled {
		h := e.handlerFor(field, matcher)
		candidates = h.Process(candidates, field, matcher, lookup)
	}

	return func(yield func(string) bool) {
		for _, path := range candidates {
			rec := lookup(path)
			if rec == nil {
				continue
			}

			if e.evaluate(rec, rest) {
				if !yield(path) {
					return
				}
			}
		}
	}, nil
}

// splitHandled separates q's top-level field predicates into those a
// registered Handler claims and the remainder, left for index planning
// and the built-in evaluator. Logical operators ($and/$or/$not) are
// always left in rest; handlers only ever claim direct top-level fields.
func (e *Engine) splitHandled(q Query) (rest Query, handled Query) {
	if len(e.handlers) == 0 {
		return q, nil
	}

	rest = Query{}
	handled = Query{}

	for field, matcher := range q {
		if strings.HasPrefix(field, "$") {
			rest[field] = matcher
			continue
		}

		if e.handlerFor(field, matcher) != nil {
			handled[field] = matcher
			continue
		}

		rest[field] = matcher
	}

	return rest, handled
}

func (e *Engine) handlerFor(field string, matcher any) Handler {
	for _, h := range e.handlers {
		if h.CanHandle(field, matcher) {
			return h
		}
	}
	return nil
}

// SearchAll runs Search and drains it into a slice, for callers that
// don't need lazy iteration.
func (e *Engine) SearchAll(q Query) ([]string, error) {
	it, err := e.Search(q)
	if err != nil {
		return nil, err
	}

	var out []string
	it(func(p string) bool {
		out = append(out, p)
		return true
	})

	return out, nil
}

// plan computes an index-derived candidate set for q's top-level field
// predicates that admit index lookup ($eq literal, $contains on a
// declared list field, $in). Predicates without index support are left
// for evaluate() to check per record.
func (e *Engine) plan(q Query) (map[string]struct{}, bool) {
	var sets []map[string]struct{}

	for field, matcher := range q {
		if strings.HasPrefix(field, "$") {
			continue
		}

		if !e.registry.HasIndex(field) {
			continue
		}

		if set, ok := e.indexCandidates(field, matcher); ok {
			sets = append(sets, set)
		}
	}

	if len(sets) == 0 {
		return nil, false
	}

	sort.Slice(sets, func(i, j int) bool { return len(sets[i]) < len(sets[j]) })

	base := sets[0]
	for _, s := range sets[1:] {
		base = intersect(base, s)
	}

	return base, true
}

func (e *Engine) indexCandidates(field string, matcher any) (map[string]struct{}, bool) {
	switch m := matcher.(type) {
	case map[string]any:
		if len(m) != 1 {
			return nil, false
		}

		for op, val := range m {
			switch op {
			case "$eq":
				return e.eqCandidates(field, val)
			case "$in":
				return e.inCandidates(field, val)
			case "$contains":
				if e.registry.IsListField(field) {
					return e.eqCandidates(field, val)
				}
			}
		}
		return nil, false
	default:
		// Bare literal: implicit $eq.
		return e.eqCandidates(field, matcher)
	}
}

func (e *Engine) eqCandidates(field string, operand any) (map[string]struct{}, bool) {
	if !index.IsIndexable(operand) {
		return nil, false
	}

	set, declared := e.registry.FindByField(field, operand)
	if !declared {
		return nil, false
	}

	return set, true
}

func (e *Engine) inCandidates(field string, operand any) (map[string]struct{}, bool) {
	items, ok := operand.([]any)
	if !ok {
		return nil, false
	}

	union := make(map[string]struct{})
	for _, item := range items {
		if !index.IsIndexable(item) {
			continue
		}

		set, declared := e.registry.FindByField(field, item)
		if !declared {
			return nil, false
		}

		for p := range set {
			union[p] = struct{}{}
		}
	}

	return union, true
}

func intersect(a, b map[string]struct{}) map[string]struct{} {
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}

	out := make(map[string]struct{}, len(small))
	for p := range small {
		if _, ok := large[p]; ok {
			out[p] = struct{}{}
		}
	}

	return out
}

// evaluate applies the full matcher tree in q against rec, ignoring
// whatever index narrowing already happened (the post-filter pass is the
// single source of correctness; the index is purely an optimization).
func (e *Engine) evaluate(rec *record.Record, q Query) bool {
	for key, val := range q {
		if strings.HasPrefix(key, "$") {
			if !e.evalLogical(rec, key, val) {
				return false
			}
			continue
		}

		if !e.matchField(rec, key, val) {
			return false
		}
	}

	return true
}

func (e *Engine) evalLogical(rec *record.Record, op string, val any) bool {
	switch op {
	case "$and":
		for _, sub := range val.([]any) {
			if !e.evaluate(rec, Query(sub.(map[string]any))) {
				return false
			}
		}
		return true
	case "$or":
		for _, sub := range val.([]any) {
			if e.evaluate(rec, Query(sub.(map[string]any))) {
				return true
			}
		}
		return len(val.([]any)) == 0
	case "$not":
		return !e.evaluate(rec, Query(val.(map[string]any)))
	default:
		return false
	}
}

func (e *Engine) matchField(rec *record.Record, field string, matcher any) bool {
	fv, exists := index.FieldValue(rec, field)

	m, isOpMap := matcher.(map[string]any)
	if !isOpMap {
		return applyOp("$eq", fv, exists, matcher)
	}

	for op, operand := range m {
		if !applyOp(op, fv, exists, operand) {
			return false
		}
	}

	return true
}

func applyOp(op string, fv any, exists bool, operand any) bool {
	if op == "$exists" {
		want, _ := operand.(bool)
		return exists == want
	}

	// spec.md §4.G: "A missing field in a record makes every non-$exists
	// matcher fail for that record."
	if !exists {
		return false
	}

	switch op {
	case "$eq":
		return valueEq(fv, operand)
	case "$ne":
		return !valueEq(fv, operand)
	case "$contains":
		return opContains(fv, operand)
	case "$in":
		return opIn(fv, operand)
	case "$gt":
		c, ok := compare(fv, operand)
		return ok && c > 0
	case "$gte":
		c, ok := compare(fv, operand)
		return ok && c >= 0
	case "$lt":
		c, ok := compare(fv, operand)
		return ok && c < 0
	case "$lte":
		c, ok := compare(fv, operand)
		return ok && c <= 0
	case "$regex":
		return opRegex(fv, operand)
	default:
		return false
	}
}

// valueEq implements $eq: equality, with list-contains implied when fv
// is a list (spec.md §4.G and "Boundary behaviors").
func valueEq(fv, operand any) bool {
	if list, ok := fv.([]any); ok {
		for _, item := range list {
			if reflect.DeepEqual(index.Normalize(item), index.Normalize(operand)) {
				return true
			}
		}
		return false
	}

	return reflect.DeepEqual(index.Normalize(fv), index.Normalize(operand))
}

func opContains(fv, operand any) bool {
	switch v := fv.(type) {
	case []any:
		for _, item := range v {
			if reflect.DeepEqual(index.Normalize(item), index.Normalize(operand)) {
				return true
			}
		}
		return false
	case string:
		sub, ok := operand.(string)
		return ok && strings.Contains(v, sub)
	default:
		return false
	}
}

func opIn(fv, operand any) bool {
	items, ok := operand.([]any)
	if !ok {
		return false
	}

	if list, ok := fv.([]any); ok {
		for _, item := range list {
			for _, want := range items {
				if reflect.DeepEqual(index.Normalize(item), index.Normalize(want)) {
					return true
				}
			}
		}
		return false
	}

	for _, want := range items {
		if reflect.DeepEqual(index.Normalize(fv), index.Normalize(want)) {
			return true
		}
	}

	return false
}

func opRegex(fv, operand any) bool {
	s, ok := fv.(string)
	if !ok {
		return false
	}

	pattern, ok := operand.(string)
	if !ok {
		return false
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}

	return re.MatchString(s)
}

// compare implements the numeric/string comparison operators. The bool
// result reports whether fv and operand were comparable at all;
// type-mismatched operands (e.g. numeric operator against a string
// field) yield no match rather than an error, per spec.md §4.G/§8.
func compare(fv, operand any) (int, bool) {
	fn, fok := asFloat(fv)
	on, ook := asFloat(operand)
	if fok && ook {
		switch {
		case fn < on:
			return -1, true
		case fn > on:
			return 1, true
		default:
			return 0, true
		}
	}

	fs, fsok := fv.(string)
	os_, osok := operand.(string)
	if fsok && osok {
		return strings.Compare(fs, os_), true
	}

	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func validate(q Query) error {
	for key, val := range q {
		if strings.HasPrefix(key, "$") {
			switch key {
			case "$and", "$or":
				list, ok := val.([]any)
				if !ok {
					return &Error{Msg: fmt.Sprintf("%s expects a list of sub-queries", key)}
				}
				for _, sub := range list {
					sm, ok := sub.(map[string]any)
					if !ok {
						return &Error{Msg: fmt.Sprintf("%s sub-query must be a mapping", key)}
					}
					if err := validate(Query(sm)); err != nil {
						return err
					}
				}
			case "$not":
				sm, ok := val.(map[string]any)
				if !ok {
					return &Error{Msg: "$not expects a single sub-query mapping"}
				}
				if err := validate(Query(sm)); err != nil {
					return err
				}
			default:
				return &Error{Msg: "unknown top-level operator " + key}
			}
			continue
		}

		if m, ok := val.(map[string]any); ok {
			for op, operand := range m {
				if !strings.HasPrefix(op, "$") {
					continue
				}
				if _, known := operators[op]; !known {
					return &Error{Msg: "unknown operator " + op}
				}
				if op == "$regex" {
					pattern, ok := operand.(string)
					if !ok {
						return &Error{Msg: "$regex operand must be a string"}
					}
					if _, err := regexp.Compile(pattern); err != nil {
						return &Error{Msg: "$regex operand is not a valid pattern: " + err.Error()}
					}
				}
				if op == "$exists" {
					if _, ok := operand.(bool); !ok {
						return &Error{Msg: "$exists operand must be a boolean"}
					}
				}
			}
		}
	}

	return nil
}
