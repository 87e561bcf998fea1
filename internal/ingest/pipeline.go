// Package ingest turns uploaded CSV and Excel files into typed tables in the
// relational store.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sheetql/sheetql/internal/observability"
	"github.com/sheetql/sheetql/internal/schema"
)

type Upload struct {
	Filename string
	Kind     Kind
	Data     []byte
}

// Catalog hands out table names and records committed tables.
type Catalog interface {
	Reserve(filename string) (name string, release func())
	Register(table schema.Table) error
}

// TableWriter creates a table, fills it and records its metadata in a single
// transaction.
type TableWriter interface {
	CreateTable(ctx context.Context, table schema.Table, rows [][]any) error
}

// Archiver receives committed uploads. Failures never undo an ingestion.
type Archiver interface {
	Archive(ctx context.Context, filename string, raw []byte, table schema.Table, rows [][]any) error
}

type Pipeline struct {
	Catalog  Catalog
	Writer   TableWriter
	Archiver Archiver
	Limits   Limits
	Logger   *slog.Logger
	Clock    func() time.Time
}

func (p *Pipeline) ensureDefaults() {
	if p.Clock == nil {
		p.Clock = time.Now
	}
	if p.Logger == nil {
		p.Logger = observability.DiscardLogger()
	}
}

// Ingest decodes the upload, infers a typed schema and persists it as a new
// table. Either the table and its catalog entry both exist afterwards, or
// neither does.
func (p *Pipeline) Ingest(ctx context.Context, upload Upload) (schema.Table, error) {
	p.ensureDefaults()
	started := p.Clock()

	table, rows, err := p.ingest(ctx, upload)
	elapsed := p.Clock().Sub(started)
	if err != nil {
		outcome := "error"
		if kind, ok := ErrorKindOf(err); ok {
			outcome = string(kind)
		}
		observability.ObserveIngest(outcome, 0, elapsed)
		p.Logger.WarnContext(ctx, "ingest failed",
			slog.String("source_file", upload.Filename),
			slog.String("outcome", outcome),
			slog.Any("error", err),
		)
		return schema.Table{}, err
	}

	observability.ObserveIngest("ok", table.RowCount, elapsed)
	p.Logger.InfoContext(ctx, "ingest completed",
		slog.String("table", table.Name),
		slog.String("source_file", table.SourceFile),
		slog.Int64("rows", table.RowCount),
		slog.Int("columns", len(table.Columns)),
		slog.Duration("duration", elapsed),
	)

	if p.Archiver != nil {
		if err := p.Archiver.Archive(ctx, upload.Filename, upload.Data, table, rows); err != nil {
			p.Logger.WarnContext(ctx, "archive upload failed",
				slog.String("table", table.Name),
				slog.Any("error", err),
			)
		}
	}
	return table, nil
}

func (p *Pipeline) ingest(ctx context.Context, upload Upload) (schema.Table, [][]any, error) {
	kind := upload.Kind
	if kind == "" {
		var ok bool
		kind, ok = KindFromFilename(upload.Filename)
		if !ok {
			return schema.Table{}, nil, newError(KindUnsupportedFormat, "unsupported file extension in %q", upload.Filename)
		}
	}

	decoded, err := decode(kind, upload.Data, p.Limits)
	if err != nil {
		return schema.Table{}, nil, err
	}
	if len(decoded.rows) == 0 {
		return schema.Table{}, nil, newError(KindEmpty, "file has a header but no data rows")
	}

	table, rows := buildTable(decoded)
	table.SourceFile = upload.Filename
	table.CreatedAt = p.Clock().UTC()

	if err := ctx.Err(); err != nil {
		return schema.Table{}, nil, err
	}

	name, release := p.Catalog.Reserve(upload.Filename)
	defer release()
	table.Name = name

	if err := table.Validate(); err != nil {
		return schema.Table{}, nil, fmt.Errorf("validate table descriptor: %w", err)
	}
	if err := p.Writer.CreateTable(ctx, table, rows); err != nil {
		return schema.Table{}, nil, fmt.Errorf("create table %s: %w", table.Name, err)
	}
	if err := p.Catalog.Register(table); err != nil {
		return schema.Table{}, nil, fmt.Errorf("register table %s: %w", table.Name, err)
	}
	return table, rows, nil
}
