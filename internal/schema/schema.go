// Package schema holds the table and column descriptors produced by ingestion
// and the identifier rules every stored name follows.
package schema

import (
	"fmt"
	"strings"
	"time"
)

type ColumnType string

const (
	TypeInteger   ColumnType = "integer"
	TypeReal      ColumnType = "real"
	TypeText      ColumnType = "text"
	TypeBoolean   ColumnType = "boolean"
	TypeTimestamp ColumnType = "timestamp"
)

func (t ColumnType) Valid() bool {
	switch t {
	case TypeInteger, TypeReal, TypeText, TypeBoolean, TypeTimestamp:
		return true
	default:
		return false
	}
}

func ParseColumnType(raw string) (ColumnType, error) {
	t := ColumnType(strings.ToLower(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown column type %q", raw)
	}
	return t, nil
}

// Column describes one stored column. Label is the header as it appeared in
// the uploaded file.
type Column struct {
	Name     string     `json:"name"`
	Label    string     `json:"label"`
	Type     ColumnType `json:"type"`
	Nullable bool       `json:"nullable"`
}

type Table struct {
	Name       string    `json:"table_name"`
	Columns    []Column  `json:"columns"`
	RowCount   int64     `json:"row_count"`
	SourceFile string    `json:"source_file"`
	CreatedAt  time.Time `json:"created_at"`
}

// Column looks a column up by name, ignoring case the way both supported SQL
// dialects do for unquoted identifiers.
func (t Table) Column(name string) (Column, bool) {
	for _, col := range t.Columns {
		if strings.EqualFold(col.Name, name) {
			return col, true
		}
	}
	return Column{}, false
}

func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		names[i] = col.Name
	}
	return names
}

// Validate checks the descriptor invariants: every name is a valid identifier
// and column names are unique.
func (t Table) Validate() error {
	if !IsIdentifier(t.Name) {
		return fmt.Errorf("invalid table name %q", t.Name)
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %q has no columns", t.Name)
	}
	seen := make(map[string]struct{}, len(t.Columns))
	for _, col := range t.Columns {
		if !IsIdentifier(col.Name) {
			return fmt.Errorf("invalid column name %q", col.Name)
		}
		if !col.Type.Valid() {
			return fmt.Errorf("column %q has invalid type %q", col.Name, col.Type)
		}
		if _, dup := seen[col.Name]; dup {
			return fmt.Errorf("duplicate column name %q", col.Name)
		}
		seen[col.Name] = struct{}{}
	}
	return nil
}
