package plugin

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/mwantia/filemeta/record"
)

// ConflictPolicy determines how multiple matching plugins' outputs are
// combined (spec.md §4.F).
type ConflictPolicy string

const (
	ConflictPriority  ConflictPolicy = "priority"
	ConflictMerge     ConflictPolicy = "merge"
	ConflictFirstOnly ConflictPolicy = "first_only"
	ConflictLastOnly  ConflictPolicy = "last_only"
)

// ErrorMode determines how a plugin failure (error, panic, or timeout)
// is handled (spec.md §4.F).
type ErrorMode string

const (
	ErrorModeIgnore ErrorMode = "ignore"
	ErrorModeWarn   ErrorMode = "warn"
	ErrorModeRaise  ErrorMode = "raise"
)

const defaultTimeout = 5 * time.Second
const defaultMaxWorkers = 4

// Warning describes a dropped plugin contribution under ErrorModeWarn,
// for the caller to forward onto its event channel (spec.md §4.F: "warn
// -> drop and record an event").
type Warning struct {
	Path string
	Err  error
}

// Dispatcher runs the plugins matching a path on a bounded worker pool
// and merges their outputs.
type Dispatcher struct {
	registry       *Registry
	conflictPolicy ConflictPolicy
	errorMode      ErrorMode
	timeout        time.Duration
	maxWorkers     int64
}

// DispatcherOption configures a Dispatcher at construction.
type DispatcherOption func(*Dispatcher)

// WithConflictPolicy sets how multiple plugin outputs are combined.
func WithConflictPolicy(p ConflictPolicy) DispatcherOption {
	return func(d *Dispatcher) { d.conflictPolicy = p }
}

// WithErrorMode sets how plugin failures are classified.
func WithErrorMode(m ErrorMode) DispatcherOption {
	return func(d *Dispatcher) { d.errorMode = m }
}

// WithTimeout sets the per-plugin extraction timeout.
func WithTimeout(d2 time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.timeout = d2 }
}

// WithMaxWorkers bounds the number of plugins run concurrently.
func WithMaxWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) { d.maxWorkers = int64(n) }
}

// NewDispatcher builds a Dispatcher over reg with the given options.
func NewDispatcher(reg *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry:       reg,
		conflictPolicy: ConflictPriority,
		errorMode:      ErrorModeWarn,
		timeout:        defaultTimeout,
		maxWorkers:     defaultMaxWorkers,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

type outcome struct {
	priority int
	seq      int
	output   map[string]any
	err      error
}

// Dispatch runs every plugin matching path, in priority order, and
// merges their outputs under the configured conflict policy. Under
// ErrorModeRaise, the first plugin failure aborts the dispatch and is
// returned as err; under ErrorModeWarn a Warning is returned for the
// caller to forward to its event channel and the failing plugin's
// contribution is dropped, same as ErrorModeIgnore.
func (d *Dispatcher) Dispatch(ctx context.Context, path string) (map[string]any, []Warning, error) {
	matched := d.registry.Matching(path)

	switch d.conflictPolicy {
	case ConflictFirstOnly:
		if len(matched) > 1 {
			matched = matched[:1]
		}
	case ConflictLastOnly:
		if len(matched) > 1 {
			matched = matched[len(matched)-1:]
		}
	}

	if len(matched) == 0 {
		return map[string]any{}, nil, nil
	}

	outcomes := make([]outcome, len(matched))

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(d.maxWorkers)

	for i, p := range matched {
		i, p := i, p
		// Priority order among matched plugins is dispatch order;
		// preserve it as a stable merge tiebreak below.
		outcomes[i].priority = len(matched) - i
		outcomes[i].seq = i

		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				outcomes[i].err = err
				return nil
			}
			defer sem.Release(1)

			out, err := d.runOne(gctx, p, path)
			outcomes[i].output = out
			outcomes[i].err = err

			if err != nil && d.errorMode == ErrorModeRaise {
				return fmt.Errorf("plugin extraction failed for %q: %w", path, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	return d.merge(outcomes, path)
}

func (d *Dispatcher) runOne(ctx context.Context, p Plugin, path string) (out map[string]any, err error) {
	type res struct {
		out map[string]any
		err error
	}
	ch := make(chan res, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- res{err: fmt.Errorf("plugin panicked: %v", r)}
			}
		}()

		o, e := p.Extract(path)
		ch <- res{out: o, err: e}
	}()

	timeout := d.timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	select {
	case r := <-ch:
		return r.out, r.err
	case <-time.After(timeout):
		return nil, fmt.Errorf("plugin timed out after %s", timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// merge combines outcomes' outputs under the conflict policy, applying
// them in ascending priority so the highest-priority plugin's keys win
// any collision, matching FileMetaLib's precedence for the analogous
// (implicit) "later write wins" behavior.
func (d *Dispatcher) merge(outcomes []outcome, path string) (map[string]any, []Warning, error) {
	sorted := make([]outcome, len(outcomes))
	copy(sorted, outcomes)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].priority < sorted[j].priority })

	var warnings []Warning
	result := map[string]any{}

	for _, o := range sorted {
		if o.err != nil {
			if d.errorMode == ErrorModeWarn {
				warnings = append(warnings, Warning{Path: path, Err: o.err})
			}
			continue
		}

		switch d.conflictPolicy {
		case ConflictMerge:
			result = record.DeepMerge(result, o.output)
		default:
			maps.Copy(result, o.output)
		}
	}

	return result, warnings, nil
}
