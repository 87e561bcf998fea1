// Package storage archives uploads in an S3-compatible object store.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

// Metadata keys the Archiver attaches to archived objects.
const (
	MetaSourceFile = "source-file"
	MetaSHA256     = "sha256"
	MetaTable      = "table"
	MetaRows       = "rows"
)

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
	// Metadata keys are lower case.
	Metadata map[string]string
}

type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// ObjectStore is the write side of the archive. Nothing in the service reads
// archived objects back.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}
