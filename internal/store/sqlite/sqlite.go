// Package sqlite opens the embedded SQLite store with a single writer
// connection and a separate read-only pool.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sheetql/sheetql/internal/schema"
)

const driverName = "sqlite"

// timeLayout keeps stored timestamps readable by the SQLite date functions.
const timeLayout = "2006-01-02 15:04:05.999999999"

type DBConfig struct {
	Path            string
	MaxOpenConns    int
	ConnMaxIdleTime time.Duration
	BusyTimeout     time.Duration
}

// DB pairs the writer and reader pools over one database file.
type DB struct {
	Writer *sql.DB
	Reader *sql.DB
}

func (db DB) Close() error {
	return errors.Join(db.Reader.Close(), db.Writer.Close())
}

// Open creates the parent directory if needed and opens both pools. The writer
// is limited to one connection so ingestion transactions serialise; the
// reader runs with mode=ro and query_only so no statement it executes can
// modify the file.
func Open(ctx context.Context, cfg DBConfig) (DB, error) {
	if cfg.Path == "" {
		return DB{}, fmt.Errorf("store path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return DB{}, fmt.Errorf("create store directory: %w", err)
		}
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}

	writer, err := sql.Open(driverName, WriterDSN(cfg.Path, busy))
	if err != nil {
		return DB{}, fmt.Errorf("open store writer: %w", err)
	}
	writer.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	// The file must exist before a mode=ro connection can open it.
	if err := writer.PingContext(pingCtx); err != nil {
		_ = writer.Close()
		return DB{}, fmt.Errorf("ping store writer: %w", err)
	}

	reader, err := sql.Open(driverName, ReaderDSN(cfg.Path, busy))
	if err != nil {
		_ = writer.Close()
		return DB{}, fmt.Errorf("open store reader: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		reader.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		reader.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
		writer.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if err := reader.PingContext(pingCtx); err != nil {
		_ = reader.Close()
		_ = writer.Close()
		return DB{}, fmt.Errorf("ping store reader: %w", err)
	}
	return DB{Writer: writer, Reader: reader}, nil
}

func WriterDSN(path string, busy time.Duration) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout("+strconv.FormatInt(busy.Milliseconds(), 10)+")")
	q.Add("_pragma", "journal_mode(wal)")
	q.Add("_pragma", "foreign_keys(1)")
	return "file:" + path + "?" + q.Encode()
}

func ReaderDSN(path string, busy time.Duration) string {
	q := url.Values{}
	q.Set("mode", "ro")
	q.Add("_pragma", "busy_timeout("+strconv.FormatInt(busy.Milliseconds(), 10)+")")
	q.Add("_pragma", "query_only(1)")
	return "file:" + path + "?" + q.Encode()
}

// Dialect is the store.Dialect for SQLite.
type Dialect struct{}

func (Dialect) Name() string { return "sqlite" }

func (Dialect) Placeholder(int) string { return "?" }

func (Dialect) ColumnType(t schema.ColumnType) string {
	switch t {
	case schema.TypeInteger, schema.TypeBoolean:
		return "INTEGER"
	case schema.TypeReal:
		return "REAL"
	default:
		return "TEXT"
	}
}

func (Dialect) BindValue(_ schema.ColumnType, v any) any {
	switch value := v.(type) {
	case bool:
		if value {
			return int64(1)
		}
		return int64(0)
	case time.Time:
		return value.UTC().Format(timeLayout)
	default:
		return v
	}
}

// BeginReadOnly relies on the reader pool's query_only pragma; the driver has
// no read-only transaction option of its own. Cancellation interrupts the
// running statement.
func (Dialect) BeginReadOnly(ctx context.Context, db *sql.DB, _ time.Duration) (*sql.Tx, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin sqlite read tx: %w", err)
	}
	return tx, nil
}

func (Dialect) IsTimeout(err error) bool {
	var sqliteErr *sqlite.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_INTERRUPT
}
