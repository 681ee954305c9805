// Package sqlstore is the embedded-SQL storage.Backend (spec.md §4.C):
// one records table storing each section as a JSON blob column.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	_ "modernc.org/sqlite"

	"github.com/mwantia/filemeta/record"
	"github.com/mwantia/filemeta/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	path       TEXT PRIMARY KEY,
	system     TEXT NOT NULL,
	user       TEXT NOT NULL,
	plugin     TEXT NOT NULL,
	updated_at REAL NOT NULL
);`

// Backend persists records in an embedded SQLite database, grounded on
// mwantia-vfs/mount/backend/sqlite's structured-columns-plus-JSON-blob
// table shape, adapted to spec.md §4.C's exact schema.
type Backend struct {
	db *sql.DB
}

// Open opens (creating if necessary) a SQLite database at dsn, which may
// be a file path or ":memory:".
func Open(dsn string) (*Backend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &Backend{db: db}, nil
}

func (b *Backend) Save(ctx context.Context, path string, rec *record.Record) error {
	sysJSON, userJSON, pluginJSON, err := encode(rec)
	if err != nil {
		return err
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO records(path, system, user, plugin, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET system=excluded.system, user=excluded.user,
			plugin=excluded.plugin, updated_at=excluded.updated_at`,
		path, sysJSON, userJSON, pluginJSON, rec.System.Modified)

	return err
}

func (b *Backend) Get(ctx context.Context, path string) (*record.Record, error) {
	row := b.db.QueryRowContext(ctx, `SELECT system, user, plugin FROM records WHERE path = ?`, path)

	var sysJSON, userJSON, pluginJSON string
	if err := row.Scan(&sysJSON, &userJSON, &pluginJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	return decode(sysJSON, userJSON, pluginJSON)
}

func (b *Backend) Delete(ctx context.Context, path string) (bool, error) {
	res, err := b.db.ExecContext(ctx, `DELETE FROM records WHERE path = ?`, path)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	return n > 0, err
}

// Query pushes down whatever it can express with SQLite's json_extract
// against a dotted field, and returns a superset for scalar containment
// (spec.md §4.C: "returns a superset; the Query Engine filters the
// remainder").
func (b *Backend) Query(ctx context.Context, criteria storage.Criteria) ([]string, error) {
	if criteria.Field == "" {
		rows, err := b.db.QueryContext(ctx, `SELECT path FROM records`)
		if err != nil {
			return nil, err
		}
		return scanPaths(rows)
	}

	col, jsonPath, ok := splitField(criteria.Field)
	if !ok {
		return b.scanAll(ctx)
	}

	rows, err := b.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT path FROM records WHERE json_extract(%s, ?) IS NOT NULL`, col), jsonPath)
	if err != nil {
		return nil, err
	}

	return scanPaths(rows)
}

func (b *Backend) scanAll(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT path FROM records`)
	if err != nil {
		return nil, err
	}
	return scanPaths(rows)
}

func scanPaths(rows *sql.Rows) ([]string, error) {
	defer rows.Close()

	var out []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		out = append(out, path)
	}
	return out, rows.Err()
}

// splitField maps a dotted field like "user.owner" onto the (column,
// json_extract path) pair sqlite needs. Only the three known sections
// are pushdown-eligible; anything else falls back to a full scan.
func splitField(dotted string) (col, jsonPath string, ok bool) {
	section, rest, _ := strings.Cut(dotted, ".")

	switch section {
	case "system", "user", "plugin":
		if rest == "" {
			return section, "$", true
		}
		return section, "$." + rest, true
	default:
		return "", "", false
	}
}

func (b *Backend) Bulk(ctx context.Context, ops []storage.Op) ([]storage.OpResult, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	results := make([]storage.OpResult, len(ops))
	for i, op := range ops {
		switch op.Kind {
		case storage.OpSave:
			sysJSON, userJSON, pluginJSON, encErr := encode(op.Record)
			if encErr != nil {
				return nil, encErr
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO records(path, system, user, plugin, updated_at)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(path) DO UPDATE SET system=excluded.system, user=excluded.user,
					plugin=excluded.plugin, updated_at=excluded.updated_at`,
				op.Path, sysJSON, userJSON, pluginJSON, op.Record.System.Modified)
		case storage.OpDelete:
			_, err = tx.ExecContext(ctx, `DELETE FROM records WHERE path = ?`, op.Path)
		}
		if err != nil {
			return nil, err
		}
		results[i] = storage.OpResult{Path: op.Path}
	}

	return results, tx.Commit()
}

func (b *Backend) IterAll(ctx context.Context) (func(yield func(storage.Entry) bool), error) {
	rows, err := b.db.QueryContext(ctx, `SELECT path, system, user, plugin FROM records`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []storage.Entry
	for rows.Next() {
		var path, sysJSON, userJSON, pluginJSON string
		if err := rows.Scan(&path, &sysJSON, &userJSON, &pluginJSON); err != nil {
			return nil, err
		}
		rec, err := decode(sysJSON, userJSON, pluginJSON)
		if err != nil {
			return nil, err
		}
		entries = append(entries, storage.Entry{Path: path, Record: rec})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

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
	rows []entryRow
}

type entryRow struct {
	path, sysJSON, userJSON, pluginJSON string
	updatedAt                           float64
}

func (b *Backend) Snapshot(ctx context.Context) (storage.Snapshot, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT path, system, user, plugin, updated_at FROM records`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entryRow
	for rows.Next() {
		var r entryRow
		if err := rows.Scan(&r.path, &r.sysJSON, &r.userJSON, &r.pluginJSON, &r.updatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}

	return snapshot{rows: out}, rows.Err()
}

func (b *Backend) Restore(ctx context.Context, snap storage.Snapshot) error {
	s, ok := snap.(snapshot)
	if !ok {
		return storage.ErrInvalidSnapshot
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records`); err != nil {
		return err
	}

	for _, r := range s.rows {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO records(path, system, user, plugin, updated_at) VALUES (?, ?, ?, ?, ?)`,
			r.path, r.sysJSON, r.userJSON, r.pluginJSON, r.updatedAt); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (b *Backend) Flush(context.Context) error { return nil }
func (b *Backend) Close() error                { return b.db.Close() }

func encode(rec *record.Record) (sysJSON, userJSON, pluginJSON string, err error) {
	sys, err := json.Marshal(rec.System)
	if err != nil {
		return "", "", "", err
	}
	user, err := json.Marshal(rec.User)
	if err != nil {
		return "", "", "", err
	}
	plugin, err := json.Marshal(rec.Plugin)
	if err != nil {
		return "", "", "", err
	}
	return string(sys), string(user), string(plugin), nil
}

func decode(sysJSON, userJSON, pluginJSON string) (*record.Record, error) {
	var sys record.System
	if err := json.Unmarshal([]byte(sysJSON), &sys); err != nil {
		return nil, err
	}

	var user map[string]any
	if err := json.Unmarshal([]byte(userJSON), &user); err != nil {
		return nil, err
	}

	var pluginData map[string]any
	if err := json.Unmarshal([]byte(pluginJSON), &pluginData); err != nil {
		return nil, err
	}

	rec := record.New(sys, user)
	rec.Plugin = pluginData

	return rec, nil
}
