// Package s3 implements storage.ObjectStore on top of minio-go, for MinIO or
// any S3-compatible endpoint.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/sheetql/sheetql/internal/config"
	"github.com/sheetql/sheetql/internal/storage"
)

// bucket is the part of the minio API the store uses, bound to one bucket.
type bucket interface {
	putObject(ctx context.Context, key string, body io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	statObject(ctx context.Context, key string) (minio.ObjectInfo, error)
	removeObject(ctx context.Context, key string) error
	exists(ctx context.Context) (bool, error)
	create(ctx context.Context, region string) error
}

// Store keeps every object under an optional key prefix of a single bucket.
type Store struct {
	bucket bucket
	name   string
	prefix string
}

func New(ctx context.Context, cfg config.ObjectStoreConfig) (*Store, error) {
	name := strings.TrimSpace(cfg.Bucket)
	if name == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	host, secure, err := endpointHost(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	region := strings.TrimSpace(cfg.Region)
	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	store := newStore(name, cfg.Prefix, minioBucket{client: client, name: name})
	if cfg.AutoCreateBucket {
		if err := store.ensureBucket(ctx, region); err != nil {
			return nil, err
		}
	}
	return store, nil
}

func newStore(name, prefix string, b bucket) *Store {
	return &Store{bucket: b, name: name, prefix: cleanPrefix(prefix)}
}

func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	uploaded, err := s.bucket.putObject(ctx, objectKey, body, size, minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		UserMetadata: opts.Metadata,
	})
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("put object %q: %w", objectKey, mapErr(err))
	}
	return storage.ObjectInfo{
		Key:          key,
		Size:         uploaded.Size,
		ETag:         uploaded.ETag,
		LastModified: uploaded.LastModified,
		Metadata:     opts.Metadata,
	}, nil
}

func (s *Store) Stat(ctx context.Context, key string) (storage.ObjectInfo, error) {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	obj, err := s.bucket.statObject(ctx, objectKey)
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("stat object %q: %w", objectKey, mapErr(err))
	}
	var meta map[string]string
	if len(obj.UserMetadata) > 0 {
		meta = make(map[string]string, len(obj.UserMetadata))
		for k, v := range obj.UserMetadata {
			meta[strings.ToLower(k)] = v
		}
	}
	return storage.ObjectInfo{
		Key:          key,
		Size:         obj.Size,
		ETag:         obj.ETag,
		LastModified: obj.LastModified,
		Metadata:     meta,
	}, nil
}

// Delete treats a missing object as already deleted.
func (s *Store) Delete(ctx context.Context, key string) error {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return err
	}
	if err := mapErr(s.bucket.removeObject(ctx, objectKey)); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		return fmt.Errorf("delete object %q: %w", objectKey, err)
	}
	return nil
}

// HealthCheck reports whether the archive bucket is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	ok, err := s.bucket.exists(ctx)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", s.name, err)
	}
	if !ok {
		return fmt.Errorf("bucket %q does not exist", s.name)
	}
	return nil
}

func (s *Store) ensureBucket(ctx context.Context, region string) error {
	ok, err := s.bucket.exists(ctx)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", s.name, err)
	}
	if ok {
		return nil
	}
	if err := s.bucket.create(ctx, region); err != nil {
		return fmt.Errorf("create bucket %q: %w", s.name, err)
	}
	return nil
}

// objectKey rejects keys that would escape the prefix and prepends it.
func (s *Store) objectKey(key string) (string, error) {
	trimmed := strings.TrimLeft(strings.TrimSpace(key), "/")
	if trimmed == "" {
		return "", fmt.Errorf("object key is required")
	}
	for _, part := range strings.Split(trimmed, "/") {
		if part == ".." {
			return "", fmt.Errorf("invalid object key: %q", key)
		}
	}
	return path.Join(s.prefix, path.Clean(trimmed)), nil
}

func cleanPrefix(prefix string) string {
	return strings.Trim(path.Clean("/"+strings.TrimSpace(prefix)), "/")
}

// endpointHost accepts either host:port or a URL. An https URL forces TLS.
func endpointHost(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("s3 endpoint is required")
	}
	if !strings.Contains(raw, "://") {
		return raw, useSSL, nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse s3 endpoint: %w", err)
	}
	if parsed.Host == "" {
		return "", false, fmt.Errorf("s3 endpoint host is required")
	}
	return parsed.Host, useSSL || parsed.Scheme == "https", nil
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return fmt.Errorf("%w: %v", storage.ErrObjectNotFound, err)
	}
	return err
}

type minioBucket struct {
	client *minio.Client
	name   string
}

func (b minioBucket) putObject(ctx context.Context, key string, body io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	return b.client.PutObject(ctx, b.name, key, body, size, opts)
}

func (b minioBucket) statObject(ctx context.Context, key string) (minio.ObjectInfo, error) {
	return b.client.StatObject(ctx, b.name, key, minio.StatObjectOptions{})
}

func (b minioBucket) removeObject(ctx context.Context, key string) error {
	return b.client.RemoveObject(ctx, b.name, key, minio.RemoveObjectOptions{})
}

func (b minioBucket) exists(ctx context.Context) (bool, error) {
	return b.client.BucketExists(ctx, b.name)
}

func (b minioBucket) create(ctx context.Context, region string) error {
	return b.client.MakeBucket(ctx, b.name, minio.MakeBucketOptions{Region: region})
}
