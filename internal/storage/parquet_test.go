package storage

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/sheetql/sheetql/internal/schema"
)

func snapshotTable() schema.Table {
	return schema.Table{
		Name: "sales",
		Columns: []schema.Column{
			{Name: "product_name", Type: schema.TypeText},
			{Name: "units_sold", Type: schema.TypeInteger},
			{Name: "price", Type: schema.TypeReal, Nullable: true},
			{Name: "in_stock", Type: schema.TypeBoolean},
			{Name: "sold_at", Type: schema.TypeTimestamp},
		},
		RowCount: 2,
	}
}

func TestEncodeSnapshot(t *testing.T) {
	soldAt := time.Date(2026, time.February, 19, 10, 0, 0, 0, time.UTC)
	rows := [][]any{
		{"widget", int64(3), 1.5, true, soldAt},
		{"gadget", int64(5), nil, false, soldAt.Add(time.Hour)},
	}

	data, err := EncodeSnapshot(snapshotTable(), rows)
	if err != nil {
		t.Fatalf("EncodeSnapshot() error = %v", err)
	}

	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	if file.NumRows() != 2 {
		t.Fatalf("NumRows() = %d", file.NumRows())
	}
	fields := file.Schema().Fields()
	wantNames := []string{"in_stock", "price", "product_name", "sold_at", "units_sold"}
	if len(fields) != len(wantNames) {
		t.Fatalf("fields = %d", len(fields))
	}
	for i, name := range wantNames {
		if fields[i].Name() != name {
			t.Fatalf("field %d = %q, want %q", i, fields[i].Name(), name)
		}
		if !fields[i].Optional() {
			t.Fatalf("field %s should be optional", name)
		}
	}

	reader := parquet.NewReader(bytes.NewReader(data))
	defer func() { _ = reader.Close() }()
	read := make([]parquet.Row, 2)
	n, err := reader.ReadRows(read)
	if err != nil && !errors.Is(err, io.EOF) {
		t.Fatalf("ReadRows() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("read rows = %d", n)
	}

	first := read[0]
	if !first[0].Boolean() || first[1].Double() != 1.5 || string(first[2].ByteArray()) != "widget" {
		t.Fatalf("first row = %v", first)
	}
	if first[3].Int64() != soldAt.UnixMilli() || first[4].Int64() != 3 {
		t.Fatalf("first row = %v", first)
	}
	second := read[1]
	if !second[1].IsNull() {
		t.Fatalf("missing price should be null, got %v", second[1])
	}
	if second[0].Boolean() || second[4].Int64() != 5 {
		t.Fatalf("second row = %v", second)
	}
}

func TestEncodeSnapshotRejectsMistypedValue(t *testing.T) {
	rows := [][]any{{"widget", "three", nil, true, time.Now()}}
	if _, err := EncodeSnapshot(snapshotTable(), rows); err == nil {
		t.Fatal("expected type error")
	}
}

func TestEncodeSnapshotRejectsShortRow(t *testing.T) {
	if _, err := EncodeSnapshot(snapshotTable(), [][]any{{"widget"}}); err == nil {
		t.Fatal("expected row width error")
	}
}
