package filemeta

import (
	"context"

	"github.com/google/uuid"

	"github.com/mwantia/filemeta/event"
	"github.com/mwantia/filemeta/index"
	"github.com/mwantia/filemeta/record"
	"github.com/mwantia/filemeta/storage"
)

// Transaction groups a sequence of registry and storage mutations that
// commit or roll back together (spec.md §5): the exclusive lock is held
// for its whole lifetime, a storage and index snapshot are captured up
// front, and either every change lands or none does. Callers get one via
// Manager.Transaction rather than constructing it directly.
type Transaction struct {
	ID string

	mgr *Manager
	ctx context.Context

	storageSnap storage.Snapshot
	indexSnap   *index.Snapshot

	pending []event.Event
}

func (m *Manager) beginTransaction(ctx context.Context) (*Transaction, error) {
	storageSnap, err := m.backend.Snapshot(ctx)
	if err != nil {
		return nil, wrapf(ErrStorage, "snapshot: %v", err)
	}

	return &Transaction{
		ID:          uuid.NewString(),
		mgr:         m,
		ctx:         ctx,
		storageSnap: storageSnap,
		indexSnap:   m.registry.Snapshot(),
	}, nil
}

// save writes rec at path to both the storage backend and the index
// registry as one step of the transaction.
func (tx *Transaction) save(path string, rec *record.Record) error {
	if err := tx.mgr.backend.Save(tx.ctx, path, rec); err != nil {
		return wrapf(ErrStorage, "save %s: %v", path, err)
	}

	if tx.mgr.registry.Exists(path) {
		tx.mgr.registry.Update(path, rec)
	} else {
		tx.mgr.registry.Add(path, rec)
	}

	return nil
}

// remove deletes path from both the storage backend and the registry.
func (tx *Transaction) remove(path string) error {
	if _, err := tx.mgr.backend.Delete(tx.ctx, path); err != nil {
		return wrapf(ErrStorage, "delete %s: %v", path, err)
	}

	tx.mgr.registry.Remove(path)
	return nil
}

// queue schedules ev for delivery once the transaction commits. Events
// queued by a transaction that ultimately rolls back are dropped.
func (tx *Transaction) queue(ev event.Event) {
	tx.pending = append(tx.pending, ev)
}

func (tx *Transaction) rollback() error {
	tx.mgr.registry.Restore(tx.indexSnap)

	if err := tx.mgr.backend.Restore(tx.ctx, tx.storageSnap); err != nil {
		return wrapf(ErrStorage, "restore: %v", err)
	}

	return nil
}

// commit flushes the backend and delivers every event queued during the
// transaction, in registration order, isolating listener failures.
func (tx *Transaction) commit() []event.Failure {
	if err := tx.mgr.backend.Flush(tx.ctx); err != nil {
		tx.mgr.logger.Warn("flush after commit failed: %v", err)
	}

	var failures []event.Failure
	for _, ev := range tx.pending {
		failures = append(failures, tx.mgr.events.Publish(ev)...)
	}

	return failures
}

// runTransaction runs fn under the exclusive transaction lock, opening a
// new transaction unless one is already active on this call stack, in
// which case fn joins the outer transaction instead of taking the lock
// again — spec.md §5's "nested transactions are flattened (join the
// outer)". On failure the transaction rolls back and the caller sees fn's
// original error, per spec.md §7's recovery policy.
func (m *Manager) runTransaction(ctx context.Context, fn func(tx *Transaction) error) error {
	m.txMu.Lock()
	if m.activeTx != nil {
		tx := m.activeTx
		m.txMu.Unlock()
		return fn(tx)
	}
	m.txMu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	tx, err := m.beginTransaction(ctx)
	if err != nil {
		return err
	}

	m.txMu.Lock()
	m.activeTx = tx
	m.txMu.Unlock()

	defer func() {
		m.txMu.Lock()
		m.activeTx = nil
		m.txMu.Unlock()
	}()

	if err := fn(tx); err != nil {
		if rerr := tx.rollback(); rerr != nil {
			return rerr
		}
		return err
	}

	for _, failure := range tx.commit() {
		m.logger.Warn("%v", failure)
	}

	return nil
}

// Transaction runs fn as a single atomic unit, exposing the same
// grouping the Manager's own operations use internally so callers can
// batch several mutations together (spec.md §5).
func (m *Manager) Transaction(ctx context.Context, fn func(tx *Transaction) error) error {
	return m.runTransaction(ctx, fn)
}

// Save is the transaction-scoped equivalent of AddFile/UpdateMetadata
// for callers composing their own multi-step transactions.
func (tx *Transaction) Save(path string, rec *record.Record) error {
	return tx.save(path, rec)
}

// Remove is the transaction-scoped equivalent of DeleteMetadata.
func (tx *Transaction) Remove(path string) error {
	return tx.remove(path)
}

// Get reads the current record at path within the transaction's view.
func (tx *Transaction) Get(path string) *record.Record {
	return tx.mgr.registry.Get(path)
}
