// Package consulstore is a storage.Backend over Consul's KV store,
// grounded on mwantia-vfs/mount/backend/consul.
package consulstore

import (
	"context"
	"strings"

	"github.com/goccy/go-json"
	consulapi "github.com/hashicorp/consul/api"

	"github.com/mwantia/filemeta/index"
	"github.com/mwantia/filemeta/record"
	"github.com/mwantia/filemeta/storage"
)

// Backend stores each record as a JSON blob under prefix+path in
// Consul's KV store. Query pushdown is a prefix scan followed by an
// in-memory field check, since Consul KV has no query language of its
// own beyond key prefixes.
type Backend struct {
	kv     *consulapi.KV
	prefix string
}

// Config configures how the backend reaches Consul.
type Config struct {
	Address string
	Token   string
	// Prefix is prepended to every stored key, letting multiple
	// unrelated indexes share one Consul KV namespace.
	Prefix string
}

// Open connects to Consul and returns a backend rooted at cfg.Prefix.
func Open(cfg Config) (*Backend, error) {
	apiCfg := consulapi.DefaultConfig()
	if cfg.Address != "" {
		apiCfg.Address = cfg.Address
	}
	if cfg.Token != "" {
		apiCfg.Token = cfg.Token
	}

	client, err := consulapi.NewClient(apiCfg)
	if err != nil {
		return nil, err
	}

	prefix := strings.TrimSuffix(cfg.Prefix, "/")
	if prefix == "" {
		prefix = "filemeta"
	}

	return &Backend{kv: client.KV(), prefix: prefix}, nil
}

func (b *Backend) key(path string) string {
	return b.prefix + "/" + strings.TrimPrefix(path, "/")
}

func (b *Backend) Save(_ context.Context, path string, rec *record.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	_, err = b.kv.Put(&consulapi.KVPair{Key: b.key(path), Value: data}, nil)
	return err
}

func (b *Backend) Get(_ context.Context, path string) (*record.Record, error) {
	pair, _, err := b.kv.Get(b.key(path), nil)
	if err != nil {
		return nil, err
	}
	if pair == nil {
		return nil, storage.ErrNotFound
	}

	var rec record.Record
	if err := json.Unmarshal(pair.Value, &rec); err != nil {
		return nil, err
	}

	return &rec, nil
}

func (b *Backend) Delete(_ context.Context, path string) (bool, error) {
	pair, _, err := b.kv.Get(b.key(path), nil)
	if err != nil {
		return false, err
	}
	if pair == nil {
		return false, nil
	}

	_, err = b.kv.Delete(b.key(path), nil)
	return err == nil, err
}

func (b *Backend) Query(ctx context.Context, criteria storage.Criteria) ([]string, error) {
	pairs, _, err := b.kv.List(b.prefix+"/", nil)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, pair := range pairs {
		path := "/" + strings.TrimPrefix(pair.Key, b.prefix+"/")

		if criteria.Field == "" {
			out = append(out, path)
			continue
		}

		var rec record.Record
		if err := json.Unmarshal(pair.Value, &rec); err != nil {
			continue
		}

		v, ok := index.FieldValue(&rec, criteria.Field)
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

func (b *Backend) Bulk(ctx context.Context, ops []storage.Op) ([]storage.OpResult, error) {
	results := make([]storage.OpResult, len(ops))

	txn := make(consulapi.KVTxnOps, 0, len(ops))
	for _, op := range ops {
		switch op.Kind {
		case storage.OpSave:
			data, err := json.Marshal(op.Record)
			if err != nil {
				return nil, err
			}
			txn = append(txn, &consulapi.KVTxnOp{Verb: consulapi.KVSet, Key: b.key(op.Path), Value: data})
		case storage.OpDelete:
			txn = append(txn, &consulapi.KVTxnOp{Verb: consulapi.KVDelete, Key: b.key(op.Path)})
		}
	}

	ok, response, _, err := b.kv.Txn(txn, nil)
	if err != nil {
		return nil, err
	}

	for i, op := range ops {
		results[i] = storage.OpResult{Path: op.Path}
	}

	if !ok {
		for _, e := range response.Errors {
			return nil, &txnError{op: e.OpIndex, msg: e.What}
		}
	}

	return results, nil
}

type txnError struct {
	op  int
	msg string
}

func (e *txnError) Error() string {
	return "consulstore: transaction op failed: " + e.msg
}

func (b *Backend) IterAll(ctx context.Context) (func(yield func(storage.Entry) bool), error) {
	pairs, _, err := b.kv.List(b.prefix+"/", nil)
	if err != nil {
		return nil, err
	}

	var entries []storage.Entry
	for _, pair := range pairs {
		var rec record.Record
		if err := json.Unmarshal(pair.Value, &rec); err != nil {
			continue
		}
		path := "/" + strings.TrimPrefix(pair.Key, b.prefix+"/")
		entries = append(entries, storage.Entry{Path: path, Record: &rec})
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
	entries []storage.Entry
}

func (b *Backend) Snapshot(ctx context.Context) (storage.Snapshot, error) {
	it, err := b.IterAll(ctx)
	if err != nil {
		return nil, err
	}

	var entries []storage.Entry
	it(func(e storage.Entry) bool {
		entries = append(entries, e)
		return true
	})

	return snapshot{entries: entries}, nil
}

func (b *Backend) Restore(ctx context.Context, snap storage.Snapshot) error {
	s, ok := snap.(snapshot)
	if !ok {
		return storage.ErrInvalidSnapshot
	}

	pairs, _, err := b.kv.List(b.prefix+"/", nil)
	if err != nil {
		return err
	}
	for _, pair := range pairs {
		if _, err := b.kv.Delete(pair.Key, nil); err != nil {
			return err
		}
	}

	for _, e := range s.entries {
		if err := b.Save(ctx, e.Path, e.Record); err != nil {
			return err
		}
	}

	return nil
}

func (b *Backend) Flush(context.Context) error { return nil }
func (b *Backend) Close() error                { return nil }
