package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"time"

	"github.com/sheetql/sheetql/internal/observability"
	"github.com/sheetql/sheetql/internal/schema"
)

const parquetContentType = "application/vnd.apache.parquet"

// Archiver copies committed uploads to object storage: the raw file, and
// optionally a parquet snapshot of the typed table.
type Archiver struct {
	Store     ObjectStore
	Snapshots bool
	Logger    *slog.Logger
	Clock     func() time.Time
}

func (a *Archiver) ensureDefaults() {
	if a.Logger == nil {
		a.Logger = observability.DiscardLogger()
	}
	if a.Clock == nil {
		a.Clock = time.Now
	}
}

func (a *Archiver) Archive(ctx context.Context, filename string, raw []byte, table schema.Table, rows [][]any) error {
	a.ensureDefaults()
	if a.Store == nil {
		return errors.New("archive: object store is not configured")
	}

	sum := sha256.Sum256(raw)
	rawKey, err := RawUploadKey(sum, filename)
	if err != nil {
		return fmt.Errorf("archive raw upload: %w", err)
	}
	wroteRaw, err := a.putIfAbsent(ctx, rawKey, raw, map[string]string{
		MetaSourceFile: path.Base(rawKey),
		MetaSHA256:     hex.EncodeToString(sum[:]),
		MetaTable:      table.Name,
	})
	if err != nil {
		return fmt.Errorf("archive raw upload: %w", err)
	}
	if !a.Snapshots {
		return nil
	}

	at := table.CreatedAt
	if at.IsZero() {
		at = a.Clock()
	}
	if err := a.putSnapshot(ctx, table, rows, at); err != nil {
		if wroteRaw {
			if delErr := a.Store.Delete(ctx, rawKey); delErr != nil {
				a.Logger.WarnContext(ctx, "archive cleanup failed",
					slog.String("key", rawKey),
					slog.Any("error", delErr),
				)
			}
		}
		return fmt.Errorf("archive snapshot of %s: %w", table.Name, err)
	}
	return nil
}

// putIfAbsent skips content that is already archived. It reports whether it
// wrote the object.
func (a *Archiver) putIfAbsent(ctx context.Context, key string, body []byte, meta map[string]string) (bool, error) {
	_, err := a.Store.Stat(ctx, key)
	switch {
	case err == nil:
		a.Logger.DebugContext(ctx, "raw upload already archived", slog.String("key", key))
		return false, nil
	case !errors.Is(err, ErrObjectNotFound):
		return false, err
	}
	if _, err := a.Store.Put(ctx, key, bytes.NewReader(body), int64(len(body)), PutOptions{
		ContentType: "application/octet-stream",
		Metadata:    meta,
	}); err != nil {
		return false, err
	}
	return true, nil
}

func (a *Archiver) putSnapshot(ctx context.Context, table schema.Table, rows [][]any, at time.Time) error {
	key, err := SnapshotKey(table.Name, at)
	if err != nil {
		return err
	}
	data, err := EncodeSnapshot(table, rows)
	if err != nil {
		return err
	}
	if _, err := a.Store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), PutOptions{
		ContentType: parquetContentType,
		Metadata: map[string]string{
			MetaTable: table.Name,
			MetaRows:  strconv.Itoa(len(rows)),
		},
	}); err != nil {
		return err
	}
	a.Logger.InfoContext(ctx, "table snapshot archived",
		slog.String("table", table.Name),
		slog.String("key", key),
		slog.Int("bytes", len(data)),
	)
	return nil
}
