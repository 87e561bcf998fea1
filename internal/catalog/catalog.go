// Package catalog is the authoritative registry of ingested tables.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sheetql/sheetql/internal/schema"
	"github.com/sheetql/sheetql/internal/store"
)

var (
	ErrNotFound          = errors.New("catalog: not found")
	ErrAlreadyRegistered = errors.New("catalog: table already registered")
)

// Source loads the persisted table descriptors.
type Source interface {
	ListTables(ctx context.Context) ([]schema.Table, error)
}

// Previewer runs the fixed first-N-rows query for a table.
type Previewer interface {
	Preview(ctx context.Context, table schema.Table, limit int) (store.ResultSet, error)
}

// TableContext is what the schema introspection tool reports for one table.
type TableContext struct {
	Name       string           `json:"table_name"`
	Columns    []schema.Column  `json:"columns"`
	RowCount   int64            `json:"row_count"`
	SourceFile string           `json:"source_file,omitempty"`
	SampleRows []map[string]any `json:"sample_rows"`
}

type Catalog struct {
	source      Source
	previewer   Previewer
	previewRows int

	mu       sync.RWMutex
	tables   map[string]schema.Table
	reserved map[string]struct{}
}

func New(source Source, previewer Previewer, previewRows int) *Catalog {
	if previewRows < 0 {
		previewRows = 0
	}
	return &Catalog{
		source:      source,
		previewer:   previewer,
		previewRows: previewRows,
		tables:      map[string]schema.Table{},
		reserved:    map[string]struct{}{},
	}
}

// Load replaces the in-memory registry with the persisted descriptors.
func (c *Catalog) Load(ctx context.Context) error {
	if c.source == nil {
		return errors.New("catalog: no source configured")
	}
	tables, err := c.source.ListTables(ctx)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	loaded := make(map[string]schema.Table, len(tables))
	for _, table := range tables {
		loaded[table.Name] = cloneTable(table)
	}

	c.mu.Lock()
	c.tables = loaded
	c.mu.Unlock()
	return nil
}

// Reserve picks a table name for filename that is neither registered nor held
// by another in-flight ingestion. The name stays held until release is called.
func (c *Catalog) Reserve(filename string) (string, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	name := schema.TableName(filename, func(candidate string) bool {
		if _, ok := c.tables[candidate]; ok {
			return true
		}
		_, ok := c.reserved[candidate]
		return ok
	})
	c.reserved[name] = struct{}{}

	var once sync.Once
	return name, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.reserved, name)
			c.mu.Unlock()
		})
	}
}

func (c *Catalog) Register(table schema.Table) error {
	if err := table.Validate(); err != nil {
		return fmt.Errorf("register table: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.tables[table.Name]; exists {
		return fmt.Errorf("register %s: %w", table.Name, ErrAlreadyRegistered)
	}
	c.tables[table.Name] = cloneTable(table)
	return nil
}

func (c *Catalog) Get(name string) (schema.Table, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	table, ok := c.tables[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return schema.Table{}, fmt.Errorf("table %q: %w", name, ErrNotFound)
	}
	return cloneTable(table), nil
}

// List returns every descriptor, oldest first.
func (c *Catalog) List() []schema.Table {
	c.mu.RLock()
	out := make([]schema.Table, 0, len(c.tables))
	for _, table := range c.tables {
		out = append(out, cloneTable(table))
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Name < out[j].Name
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Context describes a table from catalog metadata plus a few preview rows.
// No caller supplied SQL is involved.
func (c *Catalog) Context(ctx context.Context, name string) (TableContext, error) {
	table, err := c.Get(name)
	if err != nil {
		return TableContext{}, err
	}
	out := TableContext{
		Name:       table.Name,
		Columns:    table.Columns,
		RowCount:   table.RowCount,
		SourceFile: table.SourceFile,
		SampleRows: []map[string]any{},
	}
	if c.previewer == nil || c.previewRows == 0 {
		return out, nil
	}
	preview, err := c.previewer.Preview(ctx, table, c.previewRows)
	if err != nil {
		return TableContext{}, fmt.Errorf("preview %s: %w", table.Name, err)
	}
	for _, row := range preview.Rows {
		sample := make(map[string]any, len(preview.Columns))
		for i, col := range preview.Columns {
			if i < len(row) {
				sample[col] = row[i]
			}
		}
		out.SampleRows = append(out.SampleRows, sample)
	}
	return out, nil
}

func cloneTable(table schema.Table) schema.Table {
	table.Columns = append([]schema.Column(nil), table.Columns...)
	return table
}
