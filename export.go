package filemeta

import (
	"context"
	"io"

	"github.com/goccy/go-json"

	"github.com/mwantia/filemeta/event"
	"github.com/mwantia/filemeta/record"
)

// exportDocument is the versioned JSON export/import wire format spec.md
// §6 defines.
type exportDocument struct {
	Version int                       `json:"version"`
	Records map[string]*record.Record `json:"records"`
	Indexes []string                  `json:"indexes,omitempty"`
}

// ImportConflictMode controls how ImportMetadata resolves a path that
// already has a record (spec.md §6).
type ImportConflictMode string

const (
	ImportError     ImportConflictMode = "error"
	ImportKeep      ImportConflictMode = "keep"
	ImportOverwrite ImportConflictMode = "overwrite"
	ImportNewer     ImportConflictMode = "newer"
)

// ExportMetadata writes every indexed record, plus the set of declared
// secondary indexes as a restore hint, to w as the version-1 JSON
// document (spec.md §6).
func (m *Manager) ExportMetadata(w io.Writer) error {
	paths := m.registry.GetAllPaths()

	doc := exportDocument{
		Version: 1,
		Records: make(map[string]*record.Record, len(paths)),
		Indexes: m.registry.Fields(),
	}

	for _, p := range paths {
		if rec := m.registry.Get(p); rec != nil {
			doc.Records[p] = rec
		}
	}

	if err := json.NewEncoder(w).Encode(doc); err != nil {
		return wrapf(ErrStorage, "export: %v", err)
	}

	return nil
}

// ImportMetadata reads a version-1 export document from r and merges its
// records into the manager under mode, returning the number of records
// actually written. Runs as a single transaction: any error aborts the
// whole import (spec.md §6, §7).
func (m *Manager) ImportMetadata(ctx context.Context, r io.Reader, mode ImportConflictMode) (int, error) {
	var doc exportDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return 0, wrapf(ErrStorage, "import: %v", err)
	}

	count := 0

	err := m.runTransaction(ctx, func(tx *Transaction) error {
		for path, rec := range doc.Records {
			existing := tx.Get(path)

			if existing != nil {
				switch mode {
				case ImportError:
					return wrapf(ErrDuplicateRecord, "%s", path)
				case ImportKeep:
					continue
				case ImportOverwrite:
					// falls through to save below
				case ImportNewer:
					if existing.System.Modified >= rec.System.Modified {
						continue
					}
				default:
					return wrapf(ErrQuery, "import: unknown conflict mode %q", mode)
				}
			}

			if err := tx.save(path, rec); err != nil {
				return err
			}

			if existing == nil {
				tx.queue(event.Event{Kind: event.FileAdded, Path: path, Record: rec})
			} else {
				tx.queue(event.Event{Kind: event.MetadataChanged, Path: path, Old: existing.Clone(), New: rec})
			}
			count++
		}

		for _, field := range doc.Indexes {
			m.registry.CreateIndex(field)
		}

		return nil
	})

	return count, err
}
