// Package store persists ingested tables and runs validated read-only queries
// against them.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sheetql/sheetql/internal/schema"
	"github.com/sheetql/sheetql/internal/sqlguard"
)

// ErrQueryTimeout is returned when a read-only query overruns its time budget.
var ErrQueryTimeout = errors.New("store: query timed out")

// maxBindParams keeps multi-row inserts under the bind limits of both engines.
const maxBindParams = 30000

type Options struct {
	InsertBatch  int
	QueryTimeout time.Duration
}

// Store writes through one pool and reads through another. The reader pool is
// opened read-only where the engine supports it.
type Store struct {
	writer  *sql.DB
	reader  *sql.DB
	dialect Dialect
	opts    Options
}

func New(writer, reader *sql.DB, dialect Dialect, opts Options) *Store {
	if reader == nil {
		reader = writer
	}
	if opts.InsertBatch <= 0 {
		opts.InsertBatch = 500
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 10 * time.Second
	}
	return &Store{writer: writer, reader: reader, dialect: dialect, opts: opts}
}

func (s *Store) Dialect() Dialect {
	return s.dialect
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.writer.PingContext(ctx); err != nil {
		return fmt.Errorf("ping store writer: %w", err)
	}
	if s.reader != s.writer {
		if err := s.reader.PingContext(ctx); err != nil {
			return fmt.Errorf("ping store reader: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	var errs []error
	if s.reader != s.writer {
		errs = append(errs, s.reader.Close())
	}
	errs = append(errs, s.writer.Close())
	return errors.Join(errs...)
}

// CreateTable creates the physical table, inserts every row and records the
// catalog metadata in one transaction.
func (s *Store) CreateTable(ctx context.Context, table schema.Table, rows [][]any) error {
	if err := table.Validate(); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create table tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.createTableSQL(table)); err != nil {
		return fmt.Errorf("create table %s: %w", table.Name, err)
	}
	if err := s.insertRows(ctx, tx, table, rows); err != nil {
		return err
	}
	if err := s.insertMetadata(ctx, tx, table); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create table %s: %w", table.Name, err)
	}
	return nil
}

func (s *Store) createTableSQL(table schema.Table) string {
	defs := make([]string, len(table.Columns))
	for i, col := range table.Columns {
		def := QuoteIdent(col.Name) + " " + s.dialect.ColumnType(col.Type)
		if !col.Nullable {
			def += " NOT NULL"
		}
		defs[i] = def
	}
	return "CREATE TABLE " + QuoteIdent(table.Name) + " (" + strings.Join(defs, ", ") + ")"
}

func (s *Store) insertRows(ctx context.Context, tx *sql.Tx, table schema.Table, rows [][]any) error {
	width := len(table.Columns)
	batch := s.opts.InsertBatch
	if width*batch > maxBindParams {
		batch = maxBindParams / width
	}

	quoted := make([]string, width)
	for i, col := range table.Columns {
		quoted[i] = QuoteIdent(col.Name)
	}
	prefix := "INSERT INTO " + QuoteIdent(table.Name) + " (" + strings.Join(quoted, ", ") + ") VALUES "

	for start := 0; start < len(rows); start += batch {
		end := min(start+batch, len(rows))
		chunk := rows[start:end]

		tuples := make([]string, len(chunk))
		args := make([]any, 0, len(chunk)*width)
		for i, row := range chunk {
			if len(row) != width {
				return fmt.Errorf("insert into %s: row %d has %d values, want %d", table.Name, start+i+1, len(row), width)
			}
			tuples[i] = placeholders(s.dialect, i*width+1, width)
			for c, col := range table.Columns {
				args = append(args, s.dialect.BindValue(col.Type, row[c]))
			}
		}
		if _, err := tx.ExecContext(ctx, prefix+strings.Join(tuples, ", "), args...); err != nil {
			return fmt.Errorf("insert into %s rows %d-%d: %w", table.Name, start+1, end, err)
		}
	}
	return nil
}

func (s *Store) insertMetadata(ctx context.Context, tx *sql.Tx, table schema.Table) error {
	d := s.dialect
	query := `
INSERT INTO sheetql_table (table_name, source_file, row_count, created_at)
VALUES ` + placeholders(d, 1, 4)
	createdAt := d.BindValue(schema.TypeTimestamp, table.CreatedAt.UTC())
	if _, err := tx.ExecContext(ctx, query, table.Name, table.SourceFile, table.RowCount, createdAt); err != nil {
		return fmt.Errorf("insert table metadata: %w", err)
	}

	columnQuery := `
INSERT INTO sheetql_column (table_name, ordinal, column_name, label, column_type, nullable)
VALUES ` + placeholders(d, 1, 6)
	for i, col := range table.Columns {
		nullable := d.BindValue(schema.TypeBoolean, col.Nullable)
		if _, err := tx.ExecContext(ctx, columnQuery, table.Name, i+1, col.Name, col.Label, string(col.Type), nullable); err != nil {
			return fmt.Errorf("insert column metadata %s.%s: %w", table.Name, col.Name, err)
		}
	}
	return nil
}

// ListTables loads every table descriptor recorded in the metadata tables,
// oldest first.
func (s *Store) ListTables(ctx context.Context) ([]schema.Table, error) {
	rows, err := s.writer.QueryContext(ctx, `
SELECT table_name, source_file, row_count, created_at
FROM sheetql_table
ORDER BY created_at ASC, table_name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tables []schema.Table
	index := map[string]int{}
	for rows.Next() {
		var (
			table     schema.Table
			createdAt any
		)
		if err := rows.Scan(&table.Name, &table.SourceFile, &table.RowCount, &createdAt); err != nil {
			return nil, fmt.Errorf("scan table row: %w", err)
		}
		if table.CreatedAt, err = asTime(createdAt); err != nil {
			return nil, fmt.Errorf("table %s created_at: %w", table.Name, err)
		}
		index[table.Name] = len(tables)
		tables = append(tables, table)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table rows: %w", err)
	}
	if len(tables) == 0 {
		return nil, nil
	}

	colRows, err := s.writer.QueryContext(ctx, `
SELECT table_name, column_name, label, column_type, nullable
FROM sheetql_column
ORDER BY table_name ASC, ordinal ASC`)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	defer func() { _ = colRows.Close() }()

	for colRows.Next() {
		var (
			tableName string
			col       schema.Column
			rawType   string
			nullable  any
		)
		if err := colRows.Scan(&tableName, &col.Name, &col.Label, &rawType, &nullable); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		if col.Type, err = schema.ParseColumnType(rawType); err != nil {
			return nil, fmt.Errorf("column %s.%s: %w", tableName, col.Name, err)
		}
		if col.Nullable, err = asBool(nullable); err != nil {
			return nil, fmt.Errorf("column %s.%s nullable: %w", tableName, col.Name, err)
		}
		i, ok := index[tableName]
		if !ok {
			continue
		}
		tables[i].Columns = append(tables[i].Columns, col)
	}
	if err := colRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate column rows: %w", err)
	}

	sort.SliceStable(tables, func(i, j int) bool {
		if tables[i].CreatedAt.Equal(tables[j].CreatedAt) {
			return tables[i].Name < tables[j].Name
		}
		return tables[i].CreatedAt.Before(tables[j].CreatedAt)
	})
	return tables, nil
}

// Preview returns the first limit rows of table through the read-only path.
// The statement is built here from catalog identifiers only.
func (s *Store) Preview(ctx context.Context, table schema.Table, limit int) (ResultSet, error) {
	if err := table.Validate(); err != nil {
		return ResultSet{}, fmt.Errorf("preview: %w", err)
	}
	if limit <= 0 {
		return ResultSet{Columns: table.ColumnNames(), Rows: [][]any{}}, nil
	}
	quoted := make([]string, len(table.Columns))
	for i, col := range table.Columns {
		quoted[i] = QuoteIdent(col.Name)
	}
	query := fmt.Sprintf("SELECT %s FROM %s LIMIT %d", strings.Join(quoted, ", "), QuoteIdent(table.Name), limit)
	return s.readOnly(ctx, query, limit)
}

// Select runs a validated query. The row cap comes from the query and the
// time budget from the store options, whichever deadline is earlier wins.
func (s *Store) Select(ctx context.Context, q *sqlguard.Query) (ResultSet, error) {
	if q == nil {
		return ResultSet{}, errors.New("select: nil query")
	}
	return s.readOnly(ctx, q.Bounded(), q.RowCap())
}

func (s *Store) readOnly(ctx context.Context, query string, limit int) (ResultSet, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.QueryTimeout)
	defer cancel()

	timeout := s.opts.QueryTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	tx, err := s.dialect.BeginReadOnly(ctx, s.reader, timeout)
	if err != nil {
		return ResultSet{}, fmt.Errorf("begin read-only tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return ResultSet{}, s.queryError(ctx, err)
	}
	defer func() { _ = rows.Close() }()

	result, err := scanRows(rows, limit)
	if err != nil {
		return ResultSet{}, s.queryError(ctx, err)
	}
	return result, nil
}

func (s *Store) queryError(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), s.dialect.IsTimeout(err):
		return fmt.Errorf("run query: %w", ErrQueryTimeout)
	case ctx.Err() != nil:
		return fmt.Errorf("run query: %w", ctx.Err())
	default:
		return fmt.Errorf("run query: %w", err)
	}
}
