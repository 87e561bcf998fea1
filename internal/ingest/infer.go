package ingest

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sheetql/sheetql/internal/schema"
)

var nullTokens = map[string]struct{}{
	"":     {},
	"na":   {},
	"n/a":  {},
	"null": {},
	"nan":  {},
	"none": {},
	"#n/a": {},
}

// Month-first slash dates follow what spreadsheet exports produce for the
// default en-US number formats.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
	"2006/01/02 15:04:05",
	"1/2/2006",
	"1/2/2006 15:04:05",
	"1/2/2006 15:04",
	"1/2/06",
	"1/2/06 15:04",
	"01-02-06",
	"02.01.2006",
	"02.01.2006 15:04:05",
	"Jan 2, 2006",
	"2-Jan-2006",
	"2-Jan-06",
}

var inferenceOrder = []schema.ColumnType{
	schema.TypeInteger,
	schema.TypeReal,
	schema.TypeBoolean,
	schema.TypeTimestamp,
}

func isNull(raw string) bool {
	_, ok := nullTokens[strings.ToLower(strings.TrimSpace(raw))]
	return ok
}

// inferColumn picks the narrowest type that parses every non-null value.
// A column with no values at all is text.
func inferColumn(rows [][]string, col int) (schema.ColumnType, bool) {
	candidates := make([]bool, len(inferenceOrder))
	for i := range candidates {
		candidates[i] = true
	}
	nullable := false
	seen := false
	for _, row := range rows {
		value := row[col]
		if isNull(value) {
			nullable = true
			continue
		}
		seen = true
		for i, typ := range inferenceOrder {
			if candidates[i] {
				_, candidates[i] = parseValue(typ, value)
			}
		}
	}
	if !seen {
		return schema.TypeText, nullable
	}
	for i, typ := range inferenceOrder {
		if candidates[i] {
			return typ, nullable
		}
	}
	return schema.TypeText, nullable
}

// parseValue converts a non-null cell to the Go value stored for typ:
// int64, float64, bool, time.Time or string.
func parseValue(typ schema.ColumnType, raw string) (any, bool) {
	value := strings.TrimSpace(raw)
	switch typ {
	case schema.TypeInteger:
		if hasLeadingZero(value) {
			return nil, false
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, false
		}
		return n, true
	case schema.TypeReal:
		if hasLeadingZero(value) || !looksDecimal(value) {
			return nil, false
		}
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
			return nil, false
		}
		return f, true
	case schema.TypeBoolean:
		switch strings.ToLower(value) {
		case "true", "yes":
			return true, true
		case "false", "no":
			return false, true
		default:
			return nil, false
		}
	case schema.TypeTimestamp:
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, value); err == nil {
				return ts.UTC(), true
			}
		}
		return nil, false
	default:
		return raw, true
	}
}

// hasLeadingZero reports codes like "007" or "0123" that lose meaning as
// numbers.
func hasLeadingZero(value string) bool {
	digits := strings.TrimLeft(value, "+-")
	return len(digits) > 1 && digits[0] == '0' && digits[1] >= '0' && digits[1] <= '9'
}

// looksDecimal keeps hex floats and similar Go-only syntax out of real
// columns.
func looksDecimal(value string) bool {
	for _, r := range value {
		switch {
		case r >= '0' && r <= '9':
		case r == '.', r == '-', r == '+', r == 'e', r == 'E':
		default:
			return false
		}
	}
	return true
}

func buildTable(s sheet) (schema.Table, [][]any) {
	names := schema.NewNames()
	columns := make([]schema.Column, len(s.headers))
	for i, label := range s.headers {
		typ, nullable := inferColumn(s.rows, i)
		columns[i] = schema.Column{
			Name:     names.Sanitize(label),
			Label:    label,
			Type:     typ,
			Nullable: nullable,
		}
	}

	rows := make([][]any, len(s.rows))
	for r, raw := range s.rows {
		row := make([]any, len(columns))
		for c, col := range columns {
			if isNull(raw[c]) {
				continue
			}
			if col.Type == schema.TypeText {
				row[c] = raw[c]
				continue
			}
			row[c], _ = parseValue(col.Type, raw[c])
		}
		rows[r] = row
	}
	return schema.Table{Columns: columns, RowCount: int64(len(rows))}, rows
}
