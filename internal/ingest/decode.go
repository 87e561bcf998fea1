package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
)

// Limits bound what a single upload may contain.
type Limits struct {
	MaxRows    int
	MaxColumns int
}

// sheet is the decoded, still untyped form of an upload. Every row has
// exactly len(headers) cells.
type sheet struct {
	headers []string
	rows    [][]string
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func decode(kind Kind, data []byte, limits Limits) (sheet, error) {
	switch kind {
	case KindCSV:
		return decodeCSV(data, limits)
	case KindXLSX:
		return decodeXLSX(data, limits)
	case KindXLS:
		return sheet{}, newError(KindUnsupportedFormat, "legacy .xls workbooks are not supported, save the file as .xlsx or .csv")
	default:
		return sheet{}, newError(KindUnsupportedFormat, "unsupported file kind %q", kind)
	}
}

func decodeCSV(data []byte, limits Limits) (sheet, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		decoded, err := charmap.Windows1252.NewDecoder().Bytes(data)
		if err != nil {
			return sheet{}, wrapError(KindDecodeFailure, err, "file is neither UTF-8 nor Windows-1252 text")
		}
		data = decoded
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return sheet{}, newError(KindEmpty, "file has no content")
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = sniffDelimiter(data)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return sheet{}, newError(KindEmpty, "file has no header row")
		}
		return sheet{}, wrapError(KindDecodeFailure, err, "read header")
	}
	out, err := newSheet(header, limits)
	if err != nil {
		return sheet{}, err
	}

	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return sheet{}, wrapError(KindDecodeFailure, err, "read record")
		}
		if blankRecord(record) {
			continue
		}
		line, _ := r.FieldPos(0)
		if err := out.appendRow(record, limits, "line "+strconv.Itoa(line)); err != nil {
			return sheet{}, err
		}
	}
	return out, nil
}

func decodeXLSX(data []byte, limits Limits) (sheet, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return sheet{}, wrapError(KindDecodeFailure, err, "open workbook")
	}
	defer func() {
		_ = f.Close()
	}()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return sheet{}, newError(KindEmpty, "workbook has no sheets")
	}
	rows, err := f.Rows(sheets[0])
	if err != nil {
		return sheet{}, wrapError(KindDecodeFailure, err, "read sheet %q", sheets[0])
	}
	defer func() {
		_ = rows.Close()
	}()

	var out sheet
	haveHeader := false
	rowNum := 0
	for rows.Next() {
		rowNum++
		cells, err := rows.Columns()
		if err != nil {
			return sheet{}, wrapError(KindDecodeFailure, err, "read row %d", rowNum)
		}
		if blankRecord(cells) {
			continue
		}
		if !haveHeader {
			out, err = newSheet(cells, limits)
			if err != nil {
				return sheet{}, err
			}
			haveHeader = true
			continue
		}
		if err := out.appendRow(cells, limits, "row "+strconv.Itoa(rowNum)); err != nil {
			return sheet{}, err
		}
	}
	if err := rows.Error(); err != nil {
		return sheet{}, wrapError(KindDecodeFailure, err, "iterate sheet %q", sheets[0])
	}
	if !haveHeader {
		return sheet{}, newError(KindEmpty, "sheet %q has no header row", sheets[0])
	}
	return out, nil
}

func newSheet(header []string, limits Limits) (sheet, error) {
	header = trimTrailingBlanks(header)
	if len(header) == 0 {
		return sheet{}, newError(KindEmpty, "header row is empty")
	}
	if limits.MaxColumns > 0 && len(header) > limits.MaxColumns {
		return sheet{}, newError(KindTooWide, "%d columns exceeds the limit of %d", len(header), limits.MaxColumns)
	}
	headers := make([]string, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if h == "" {
			h = "column_" + strconv.Itoa(i+1)
		}
		headers[i] = h
	}
	return sheet{headers: headers}, nil
}

func (s *sheet) appendRow(cells []string, limits Limits, where string) error {
	cells = trimTrailingBlanks(cells)
	if len(cells) > len(s.headers) {
		return newError(KindDecodeFailure, "%s has %d cells but the header has %d", where, len(cells), len(s.headers))
	}
	if limits.MaxRows > 0 && len(s.rows) >= limits.MaxRows {
		return newError(KindTooManyRows, "more than %d data rows", limits.MaxRows)
	}
	row := make([]string, len(s.headers))
	for i, cell := range cells {
		row[i] = strings.TrimSpace(cell)
	}
	s.rows = append(s.rows, row)
	return nil
}

// sniffDelimiter picks the candidate that occurs most often outside quotes on
// the first line, falling back to a comma.
func sniffDelimiter(data []byte) rune {
	line := data
	inQuotes := false
	for i, b := range data {
		if b == '"' {
			inQuotes = !inQuotes
		}
		if !inQuotes && (b == '\n' || b == '\r') {
			line = data[:i]
			break
		}
	}

	counts := map[rune]int{}
	inQuotes = false
	for _, r := range string(line) {
		if r == '"' {
			inQuotes = !inQuotes
			continue
		}
		if inQuotes {
			continue
		}
		switch r {
		case ',', ';', '\t', '|':
			counts[r]++
		}
	}

	best, bestCount := ',', 0
	for _, candidate := range []rune{',', ';', '\t', '|'} {
		if counts[candidate] > bestCount {
			best, bestCount = candidate, counts[candidate]
		}
	}
	return best
}

func blankRecord(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func trimTrailingBlanks(cells []string) []string {
	end := len(cells)
	for end > 0 && strings.TrimSpace(cells[end-1]) == "" {
		end--
	}
	return cells[:end]
}
