// Package filemeta is a file metadata index and query engine: it tracks
// a canonical-path-keyed record of filesystem attributes, caller-owned
// user fields, and plugin-derived fields, backed by a pluggable storage
// layer and searchable through a declarative query language.
package filemeta

import (
	"context"
	"sync"

	"github.com/mwantia/filemeta/event"
	"github.com/mwantia/filemeta/index"
	"github.com/mwantia/filemeta/internal/logging"
	"github.com/mwantia/filemeta/pathutil"
	"github.com/mwantia/filemeta/plugin"
	"github.com/mwantia/filemeta/probe"
	"github.com/mwantia/filemeta/query"
	"github.com/mwantia/filemeta/record"
	"github.com/mwantia/filemeta/storage"
	"github.com/mwantia/filemeta/syncer"
)

// Manager is the public facade composing the path normalizer, probe,
// index registry, plugin dispatcher, query engine, storage backend, and
// event bus into the operation set spec.md §4.H lists. Grounded on
// FileMetaLib/manager.py:FileMetaManager for the operation list and on
// mwantia-vfs's VirtualFileSystem for the facade-composes-subsystems
// structure.
type Manager struct {
	cfg *config

	backend    storage.Backend
	registry   *index.Registry
	engine     *query.Engine
	plugins    *plugin.Registry
	dispatcher *plugin.Dispatcher
	events     *event.Bus
	reconciler *syncer.Reconciler
	logger     *logging.Logger

	mu       sync.Mutex // held for the duration of the outer transaction
	txMu     sync.Mutex // guards activeTx
	activeTx *Transaction
}

// New builds a Manager and loads any records already present in the
// configured storage backend into the index registry.
func New(ctx context.Context, opts ...Option) (*Manager, error) {
	cfg := newDefaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	registry := index.New(cfg.indexFields...)
	plugins := plugin.NewRegistry()

	m := &Manager{
		cfg:      cfg,
		backend:  cfg.backend,
		registry: registry,
		engine:   query.New(registry),
		plugins:  plugins,
		dispatcher: plugin.NewDispatcher(plugins,
			plugin.WithConflictPolicy(cfg.conflictPolicy),
			plugin.WithErrorMode(cfg.pluginErrorMode),
			plugin.WithTimeout(cfg.pluginTimeout),
		),
		events:     event.NewBus(),
		reconciler: syncer.New(registry, nil),
		logger:     cfg.logger,
	}

	if err := m.bootstrap(ctx); err != nil {
		return nil, err
	}

	return m, nil
}

// bootstrap loads every record already present in the storage backend
// into the index registry, so reopening a persistent backend (jsonstore,
// sqlstore, ...) resumes with a populated index rather than an empty one.
func (m *Manager) bootstrap(ctx context.Context) error {
	it, err := m.backend.IterAll(ctx)
	if err != nil {
		return wrapf(ErrStorage, "load existing records: %v", err)
	}

	it(func(e storage.Entry) bool {
		m.registry.Add(e.Path, e.Record)
		return true
	})

	return nil
}

func (m *Manager) normalize(path string) (string, error) {
	canon, err := pathutil.Normalize(path, m.cfg.pathOptions())
	if err != nil {
		return "", wrapf(ErrInvalidPath, "%s: %v", path, err)
	}

	return canon, nil
}

// AddFile probes path, runs matching plugins, and indexes the resulting
// record under its canonical path. Fails with ErrDuplicateRecord if a
// record already exists for that path (spec.md §4.H).
func (m *Manager) AddFile(ctx context.Context, path string, userMeta map[string]any) (*record.Record, error) {
	canon, err := m.normalize(path)
	if err != nil {
		return nil, err
	}

	var result *record.Record

	err = m.runTransaction(ctx, func(tx *Transaction) error {
		if m.registry.Exists(canon) {
			return wrapf(ErrDuplicateRecord, "%s", canon)
		}

		sys, perr := probe.Probe(canon, probe.Options{})
		if perr != nil {
			return wrapf(ErrFileAccess, "%s: %v", canon, perr)
		}

		rec := record.New(sys, userMeta)

		out, warnings, derr := m.dispatcher.Dispatch(ctx, canon)
		if derr != nil {
			return wrapf(ErrPlugin, "%s: %v", canon, derr)
		}
		m.warnPlugins(warnings)
		rec.Plugin = out

		if err := tx.save(canon, rec); err != nil {
			return err
		}

		tx.queue(event.Event{Kind: event.FileAdded, Path: canon, Record: rec})
		result = rec.Clone()
		return nil
	})

	return result, err
}

// GetMetadata returns the record indexed at path. Fails with
// ErrFileAccess if the path is unknown (spec.md §4.H). This is a read
// operation and does not open a transaction.
func (m *Manager) GetMetadata(ctx context.Context, path string) (*record.Record, error) {
	canon, err := m.normalize(path)
	if err != nil {
		return nil, err
	}

	rec := m.registry.Get(canon)
	if rec == nil {
		return nil, wrapf(ErrFileAccess, "%s: not indexed", canon)
	}

	return rec.Clone(), nil
}

// UpdateMetadata shallow-overlays patch into the record's user sub-map.
func (m *Manager) UpdateMetadata(ctx context.Context, path string, patch map[string]any) (*record.Record, error) {
	canon, err := m.normalize(path)
	if err != nil {
		return nil, err
	}

	var result *record.Record

	err = m.runTransaction(ctx, func(tx *Transaction) error {
		rec := m.registry.Get(canon)
		if rec == nil {
			return wrapf(ErrFileAccess, "%s: not indexed", canon)
		}

		old := rec.Clone()
		updated := rec.Clone()
		updated.UpdateUser(patch)

		if err := tx.save(canon, updated); err != nil {
			return err
		}

		tx.queue(event.Event{Kind: event.MetadataChanged, Path: canon, Old: old, New: updated})
		result = updated.Clone()
		return nil
	})

	return result, err
}

// ReplaceMetadata overwrites the record's entire user sub-map.
func (m *Manager) ReplaceMetadata(ctx context.Context, path string, newUser map[string]any) (*record.Record, error) {
	canon, err := m.normalize(path)
	if err != nil {
		return nil, err
	}

	var result *record.Record

	err = m.runTransaction(ctx, func(tx *Transaction) error {
		rec := m.registry.Get(canon)
		if rec == nil {
			return wrapf(ErrFileAccess, "%s: not indexed", canon)
		}

		old := rec.Clone()
		updated := rec.Clone()
		updated.ReplaceUser(newUser)

		if err := tx.save(canon, updated); err != nil {
			return err
		}

		tx.queue(event.Event{Kind: event.MetadataChanged, Path: canon, Old: old, New: updated})
		result = updated.Clone()
		return nil
	})

	return result, err
}

// DeleteMetadata removes the record at path, reporting whether one
// existed (spec.md §4.H).
func (m *Manager) DeleteMetadata(ctx context.Context, path string) (bool, error) {
	canon, err := m.normalize(path)
	if err != nil {
		return false, err
	}

	var removed bool

	err = m.runTransaction(ctx, func(tx *Transaction) error {
		if !m.registry.Exists(canon) {
			return nil
		}

		if err := tx.remove(canon); err != nil {
			return err
		}

		tx.queue(event.Event{Kind: event.FileRemoved, Path: canon})
		removed = true
		return nil
	})

	return removed, err
}

// Search evaluates q against the index and returns a lazy iterator over
// matching canonical paths in primary insertion order (spec.md §4.H).
func (m *Manager) Search(q query.Query) (func(yield func(string) bool), error) {
	return m.engine.Search(q)
}

// RegisterPlugin adds p to the plugin registry at the given priority.
func (m *Manager) RegisterPlugin(p plugin.Plugin, priority int) {
	m.plugins.Register(p, priority)
}

// RegisterQueryHandler extends the query language with a custom
// field-scoped operator.
func (m *Manager) RegisterQueryHandler(h query.Handler) {
	m.engine.RegisterHandler(h)
}

// CreateIndex declares field as a secondary index and backfills it from
// every currently indexed record.
func (m *Manager) CreateIndex(field string) {
	m.registry.CreateIndex(field)
}

// MarkListField declares that field always holds a list value, enabling
// index-backed $contains lookups on it.
func (m *Manager) MarkListField(field string) {
	m.registry.MarkListField(field)
}

// AddListener registers l to receive every future event, in registration
// order alongside any other listener already registered.
func (m *Manager) AddListener(l event.Listener) {
	m.events.Subscribe(l)
}

func (m *Manager) warnPlugins(warnings []plugin.Warning) {
	for _, w := range warnings {
		m.logger.Warn("plugin warning for %s: %v", w.Path, w.Err)
	}
}

// Close releases the underlying storage backend.
func (m *Manager) Close() error {
	return m.backend.Close()
}
