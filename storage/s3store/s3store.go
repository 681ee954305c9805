// Package s3store is a storage.Backend over any S3-compatible object
// store, grounded on mwantia-vfs/backend/s3 and mwantia-vfs/mount/backend/s3
// for the minio-go client idiom (StatObject/PutObject/GetObject against a
// bucket, ToErrorResponse for NoSuchKey detection).
package s3store

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/goccy/go-json"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/mwantia/filemeta/index"
	"github.com/mwantia/filemeta/record"
	"github.com/mwantia/filemeta/storage"
)

// Backend stores each record as a JSON object keyed by prefix+path.
type Backend struct {
	client *minio.Client
	bucket string
	prefix string
}

// Config configures the S3-compatible endpoint.
type Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Bucket          string
	// Prefix is prepended to every object key.
	Prefix string
}

// Open connects to the endpoint and ensures the configured bucket exists.
func Open(ctx context.Context, cfg Config) (*Backend, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, err
		}
	}

	prefix := strings.TrimSuffix(cfg.Prefix, "/")

	return &Backend{client: client, bucket: cfg.Bucket, prefix: prefix}, nil
}

func (b *Backend) key(path string) string {
	rel := strings.TrimPrefix(path, "/")
	if b.prefix == "" {
		return rel
	}
	return b.prefix + "/" + rel
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

func (b *Backend) Save(ctx context.Context, path string, rec *record.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	_, err = b.client.PutObject(ctx, b.bucket, b.key(path), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	return err
}

func (b *Backend) Get(ctx context.Context, path string) (*record.Record, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, b.key(path), minio.GetObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	var rec record.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}

	return &rec, nil
}

func (b *Backend) Delete(ctx context.Context, path string) (bool, error) {
	if _, err := b.client.StatObject(ctx, b.bucket, b.key(path), minio.StatObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, err
	}

	return true, b.client.RemoveObject(ctx, b.bucket, b.key(path), minio.RemoveObjectOptions{})
}

func (b *Backend) Query(ctx context.Context, criteria storage.Criteria) ([]string, error) {
	objectsCh := b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{
		Prefix:    b.prefix,
		Recursive: true,
	})

	var out []string
	for obj := range objectsCh {
		if obj.Err != nil {
			return nil, obj.Err
		}

		path := "/" + strings.TrimPrefix(strings.TrimPrefix(obj.Key, b.prefix), "/")

		if criteria.Field == "" {
			out = append(out, path)
			continue
		}

		rec, err := b.Get(ctx, path)
		if err != nil {
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

func (b *Backend) Bulk(ctx context.Context, ops []storage.Op) ([]storage.OpResult, error) {
	results := make([]storage.OpResult, len(ops))
	for i, op := range ops {
		var err error
		switch op.Kind {
		case storage.OpSave:
			err = b.Save(ctx, op.Path, op.Record)
		case storage.OpDelete:
			_, err = b.Delete(ctx, op.Path)
		}
		if err != nil {
			return nil, err
		}
		results[i] = storage.OpResult{Path: op.Path}
	}

	return results, nil
}

func (b *Backend) IterAll(ctx context.Context) (func(yield func(storage.Entry) bool), error) {
	objectsCh := b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{
		Prefix:    b.prefix,
		Recursive: true,
	})

	var entries []storage.Entry
	for obj := range objectsCh {
		if obj.Err != nil {
			return nil, obj.Err
		}

		path := "/" + strings.TrimPrefix(strings.TrimPrefix(obj.Key, b.prefix), "/")
		rec, err := b.Get(ctx, path)
		if err != nil {
			continue
		}

		entries = append(entries, storage.Entry{Path: path, Record: rec})
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

	objectsCh := b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{Prefix: b.prefix, Recursive: true})
	for obj := range objectsCh {
		if obj.Err != nil {
			return obj.Err
		}
		if err := b.client.RemoveObject(ctx, b.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
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
