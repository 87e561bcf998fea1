package store

import (
	"database/sql"
	"fmt"
	"time"
)

// ResultSet is a bounded query result. Rows are positional and line up with
// Columns.
type ResultSet struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	Truncated bool     `json:"truncated,omitempty"`
}

// scanRows reads at most limit rows. Truncated is set when at least one more
// row was available.
func scanRows(rows *sql.Rows, limit int) (ResultSet, error) {
	columns, err := rows.Columns()
	if err != nil {
		return ResultSet{}, fmt.Errorf("read result columns: %w", err)
	}
	out := ResultSet{Columns: columns, Rows: make([][]any, 0)}
	for rows.Next() {
		if limit >= 0 && len(out.Rows) >= limit {
			out.Truncated = true
			break
		}
		values := make([]any, len(columns))
		targets := make([]any, len(columns))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return ResultSet{}, fmt.Errorf("scan result row: %w", err)
		}
		for i, v := range values {
			values[i] = normalizeValue(v)
		}
		out.Rows = append(out.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return ResultSet{}, fmt.Errorf("iterate result rows: %w", err)
	}
	return out, nil
}

func normalizeValue(v any) any {
	switch value := v.(type) {
	case []byte:
		return string(value)
	case time.Time:
		return value.UTC().Format(time.RFC3339Nano)
	default:
		return value
	}
}

func asTime(v any) (time.Time, error) {
	switch value := v.(type) {
	case time.Time:
		return value.UTC(), nil
	case string:
		return parseStoredTime(value)
	case []byte:
		return parseStoredTime(string(value))
	default:
		return time.Time{}, fmt.Errorf("unsupported time value %T", v)
	}
}

func parseStoredTime(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05.999999999"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse stored time %q", raw)
}

func asBool(v any) (bool, error) {
	switch value := v.(type) {
	case bool:
		return value, nil
	case int64:
		return value != 0, nil
	case int:
		return value != 0, nil
	default:
		return false, fmt.Errorf("unsupported bool value %T", v)
	}
}
