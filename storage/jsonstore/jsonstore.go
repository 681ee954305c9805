// Package jsonstore is the JSON-file storage.Backend (spec.md §4.C):
// the full document lives in memory, writes go through a write-ahead
// journal that is atomically renamed over the main document on commit.
package jsonstore

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"

	"github.com/mwantia/filemeta/index"
	"github.com/mwantia/filemeta/record"
	"github.com/mwantia/filemeta/storage"
)

const journalHeader = "FILEMETA-WAL-V1\n"

type document struct {
	Records map[string]*record.Record `json:"records"`
}

// Backend persists records to a single JSON file, grounded on
// FileMetaLib/storage.py's JsonDB for the load-whole-document-on-startup
// shape, with the write-ahead-journal-then-atomic-rename durability path
// spec.md §4.C adds on top of that.
type Backend struct {
	mu   sync.RWMutex
	path string
	doc  document
}

// Open loads path if it exists (replaying any intact journal first) or
// starts from an empty document.
func Open(path string) (*Backend, error) {
	b := &Backend{path: path, doc: document{Records: map[string]*record.Record{}}}

	if err := b.recoverJournal(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return b, nil
		}
		return nil, err
	}

	// persist and a replayed journal both leave the journal header at the
	// start of the main document; it is not part of the JSON payload.
	data = bytes.TrimPrefix(data, []byte(journalHeader))

	if len(data) > 0 {
		if err := json.Unmarshal(data, &b.doc); err != nil {
			return nil, err
		}
	}

	return b, nil
}

func (b *Backend) journalPath() string {
	return b.path + ".wal"
}

// recoverJournal replays a journal left behind by a crash between the
// journal write and the atomic rename (spec.md §4.C: "the journal is
// replayed on recovery if its header tag is intact").
func (b *Backend) recoverJournal() error {
	data, err := os.ReadFile(b.journalPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if len(data) < len(journalHeader) || string(data[:len(journalHeader)]) != journalHeader {
		// Torn write: discard the incomplete journal.
		return os.Remove(b.journalPath())
	}

	if err := os.Rename(b.journalPath(), b.path); err != nil {
		return err
	}

	return nil
}

// persist writes the current document to the journal file and atomically
// renames it over the main document. Callers must hold b.mu for writing.
func (b *Backend) persist() error {
	payload, err := json.Marshal(b.doc)
	if err != nil {
		return err
	}

	journal := append([]byte(journalHeader), payload...)
	if err := os.WriteFile(b.journalPath(), journal, 0o644); err != nil {
		return err
	}

	dir := filepath.Dir(b.path)
	if dir != "" {
		if f, err := os.Open(dir); err == nil {
			f.Sync()
			f.Close()
		}
	}

	return os.Rename(b.journalPath(), b.path)
}

func (b *Backend) Save(_ context.Context, path string, rec *record.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.doc.Records[path] = rec.Clone()
	return b.persist()
}

func (b *Backend) Get(_ context.Context, path string) (*record.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rec, ok := b.doc.Records[path]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return rec.Clone(), nil
}

func (b *Backend) Delete(_ context.Context, path string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.doc.Records[path]; !ok {
		return false, nil
	}

	delete(b.doc.Records, path)
	return true, b.persist()
}

func (b *Backend) Query(_ context.Context, criteria storage.Criteria) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []string
	for path, rec := range b.doc.Records {
		if criteria.Field == "" {
			out = append(out, path)
			continue
		}

		v, ok := index.FieldValue(rec, criteria.Field)
		if !ok {
			continue
		}

		if index.Normalize(v) == index.Normalize(criteria.Value) {
			out = append(out, path)
			continue
		}

		if list, isList := v.([]any); isList {
			for _, item := range list {
				if index.Normalize(item) == index.Normalize(criteria.Value) {
					out = append(out, path)
					break
				}
			}
		}
	}

	return out, nil
}

func (b *Backend) Bulk(_ context.Context, ops []storage.Op) ([]storage.OpResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	results := make([]storage.OpResult, len(ops))
	for i, op := range ops {
		switch op.Kind {
		case storage.OpSave:
			b.doc.Records[op.Path] = op.Record.Clone()
		case storage.OpDelete:
			delete(b.doc.Records, op.Path)
		}
		results[i] = storage.OpResult{Path: op.Path}
	}

	return results, b.persist()
}

func (b *Backend) IterAll(_ context.Context) (func(yield func(storage.Entry) bool), error) {
	b.mu.RLock()
	entries := make([]storage.Entry, 0, len(b.doc.Records))
	for path, rec := range b.doc.Records {
		entries = append(entries, storage.Entry{Path: path, Record: rec.Clone()})
	}
	b.mu.RUnlock()

	return func(yield func(storage.Entry) bool) {
		for _, e := range entries {
			if !yield(e) {
				return
			}
		}
	}, nil
}

type snapshot struct {
	storage.SnapshotSeal
	records map[string]*record.Record
}

func (b *Backend) Snapshot(_ context.Context) (storage.Snapshot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	records := make(map[string]*record.Record, len(b.doc.Records))
	for k, v := range b.doc.Records {
		records[k] = v.Clone()
	}

	return snapshot{records: records}, nil
}

func (b *Backend) Restore(_ context.Context, snap storage.Snapshot) error {
	s, ok := snap.(snapshot)
	if !ok {
		return storage.ErrInvalidSnapshot
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.doc.Records = make(map[string]*record.Record, len(s.records))
	for k, v := range s.records {
		b.doc.Records[k] = v.Clone()
	}

	return b.persist()
}

func (b *Backend) Flush(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.persist()
}

func (b *Backend) Close() error { return nil }
