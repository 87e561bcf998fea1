package storage

import (
	"bytes"
	"fmt"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/sheetql/sheetql/internal/schema"
)

// SnapshotSchema derives the parquet schema of a table. Every column is
// optional since any uploaded cell may be empty.
func SnapshotSchema(table schema.Table) (*parquet.Schema, error) {
	group := parquet.Group{}
	for _, col := range table.Columns {
		node, err := snapshotNode(col.Type)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name, err)
		}
		group[col.Name] = parquet.Optional(node)
	}
	return parquet.NewSchema(table.Name, group), nil
}

func snapshotNode(t schema.ColumnType) (parquet.Node, error) {
	switch t {
	case schema.TypeInteger:
		return parquet.Int(64), nil
	case schema.TypeReal:
		return parquet.Leaf(parquet.DoubleType), nil
	case schema.TypeBoolean:
		return parquet.Leaf(parquet.BooleanType), nil
	case schema.TypeTimestamp:
		return parquet.Timestamp(parquet.Millisecond), nil
	case schema.TypeText:
		return parquet.String(), nil
	default:
		return nil, fmt.Errorf("unsupported column type %q", t)
	}
}

// EncodeSnapshot writes the typed rows of a table as a single parquet file.
// rows are in descriptor column order.
func EncodeSnapshot(table schema.Table, rows [][]any) ([]byte, error) {
	if len(table.Columns) == 0 {
		return nil, fmt.Errorf("table %s has no columns", table.Name)
	}
	sch, err := SnapshotSchema(table)
	if err != nil {
		return nil, err
	}

	// Group fields are ordered by name, so leaf indexes differ from the
	// descriptor order.
	fields := sch.Fields()
	source := make([]int, len(fields))
	for leaf, field := range fields {
		source[leaf] = -1
		for i, col := range table.Columns {
			if col.Name == field.Name() {
				source[leaf] = i
				break
			}
		}
		if source[leaf] < 0 {
			return nil, fmt.Errorf("parquet field %s has no column", field.Name())
		}
	}

	out := make([]parquet.Row, 0, len(rows))
	for r, cells := range rows {
		if len(cells) != len(table.Columns) {
			return nil, fmt.Errorf("row %d has %d values, want %d", r+1, len(cells), len(table.Columns))
		}
		row := make(parquet.Row, len(fields))
		for leaf, i := range source {
			value, err := snapshotValue(table.Columns[i].Type, cells[i])
			if err != nil {
				return nil, fmt.Errorf("row %d column %s: %w", r+1, table.Columns[i].Name, err)
			}
			if value.IsNull() {
				row[leaf] = value.Level(0, 0, leaf)
			} else {
				row[leaf] = value.Level(0, 1, leaf)
			}
		}
		out = append(out, row)
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewWriter(buf, sch)
	if _, err := writer.WriteRows(out); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

func snapshotValue(t schema.ColumnType, v any) (parquet.Value, error) {
	if v == nil {
		return parquet.NullValue(), nil
	}
	switch t {
	case schema.TypeInteger:
		if n, ok := v.(int64); ok {
			return parquet.Int64Value(n), nil
		}
	case schema.TypeReal:
		switch f := v.(type) {
		case float64:
			return parquet.DoubleValue(f), nil
		case int64:
			return parquet.DoubleValue(float64(f)), nil
		}
	case schema.TypeBoolean:
		if b, ok := v.(bool); ok {
			return parquet.BooleanValue(b), nil
		}
	case schema.TypeTimestamp:
		if ts, ok := v.(time.Time); ok {
			return parquet.Int64Value(ts.UTC().UnixMilli()), nil
		}
	case schema.TypeText:
		if s, ok := v.(string); ok {
			return parquet.ByteArrayValue([]byte(s)), nil
		}
	}
	return parquet.Value{}, fmt.Errorf("unexpected %T for %s", v, t)
}
