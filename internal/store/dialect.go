package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/sheetql/sheetql/internal/schema"
)

// Dialect isolates the engine specific parts of the store.
type Dialect interface {
	Name() string
	// Placeholder returns the bind marker for the n-th argument, 1-based.
	Placeholder(n int) string
	ColumnType(t schema.ColumnType) string
	// BindValue converts an ingested cell to what the driver stores for t.
	BindValue(t schema.ColumnType, v any) any
	// BeginReadOnly opens a transaction that cannot write, bounded by timeout.
	BeginReadOnly(ctx context.Context, db *sql.DB, timeout time.Duration) (*sql.Tx, error)
	// IsTimeout reports engine errors caused by an interrupted statement.
	IsTimeout(err error) bool
}

// QuoteIdent double quotes an identifier. Both supported engines accept the
// ANSI form.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func placeholders(d Dialect, start, count int) string {
	var b strings.Builder
	b.WriteByte('(')
	for i := 0; i < count; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(d.Placeholder(start + i))
	}
	b.WriteByte(')')
	return b.String()
}
