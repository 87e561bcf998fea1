package api

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/sheetql/sheetql/internal/auth"
	"github.com/sheetql/sheetql/internal/catalog"
	"github.com/sheetql/sheetql/internal/ingest"
	"github.com/sheetql/sheetql/internal/migrations"
	"github.com/sheetql/sheetql/internal/schema"
	"github.com/sheetql/sheetql/internal/store"
	"github.com/sheetql/sheetql/internal/store/sqlite"
)

func TestUploadCreatesTable(t *testing.T) {
	ctx := context.Background()
	st := openSQLiteStore(t)
	cat := catalog.New(st, st, 2)
	pipeline := &ingest.Pipeline{
		Catalog: cat,
		Writer:  st,
		Limits:  ingest.Limits{MaxRows: 100, MaxColumns: 10},
		Clock:   func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) },
	}
	h := NewHandler(loadConfig(t, nil), Dependencies{Ingestor: pipeline, Catalog: cat})

	csv := "Product Name,Units Sold,Price\nwidget,3,1.5\ngadget,5,\n"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, uploadRequest(t, `C:\exports\Q1 Sales.csv`, []byte(csv)))
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}

	body := decodeBody(t, rr)
	if body["table_name"] != "q1_sales" {
		t.Fatalf("table_name = %v", body["table_name"])
	}
	if body["rows_inserted"] != float64(2) || body["total_rows"] != float64(2) || body["total_columns"] != float64(3) {
		t.Fatalf("counts = %v", body)
	}
	if body["source_file"] != "Q1 Sales.csv" {
		t.Fatalf("source_file = %v", body["source_file"])
	}
	columns := body["columns"].([]any)
	price := columns[2].(map[string]any)
	if price["name"] != "price" || price["type"] != "real" || price["nullable"] != true {
		t.Fatalf("price column = %v", price)
	}

	if _, err := cat.Get("q1_sales"); err != nil {
		t.Fatalf("catalog Get() error = %v", err)
	}
	preview, err := cat.Context(ctx, "q1_sales")
	if err != nil {
		t.Fatalf("catalog Context() error = %v", err)
	}
	if len(preview.SampleRows) != 2 || preview.SampleRows[0]["product_name"] != "widget" {
		t.Fatalf("sample rows = %v", preview.SampleRows)
	}
}

func TestUploadMapsIngestErrors(t *testing.T) {
	cases := []struct {
		kind   ingest.ErrorKind
		status int
		code   string
	}{
		{ingest.KindEmpty, http.StatusUnprocessableEntity, "EMPTY_FILE"},
		{ingest.KindTooWide, http.StatusRequestEntityTooLarge, "TOO_WIDE"},
		{ingest.KindTooManyRows, http.StatusRequestEntityTooLarge, "TOO_MANY_ROWS"},
		{ingest.KindUnsupportedFormat, http.StatusUnsupportedMediaType, "UNSUPPORTED_FORMAT"},
		{ingest.KindDecodeFailure, http.StatusBadRequest, "DECODE_FAILURE"},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			fake := &fakeIngestor{err: &ingest.Error{Kind: tc.kind, Detail: "detail"}}
			h := NewHandler(loadConfig(t, nil), Dependencies{Ingestor: fake})

			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, uploadRequest(t, "data.csv", []byte("a\n1\n")))
			if rr.Code != tc.status {
				t.Fatalf("status = %d, want %d", rr.Code, tc.status)
			}
			body := decodeBody(t, rr)
			if body["error_code"] != tc.code || body["retryable"] != false {
				t.Fatalf("body = %v", body)
			}
		})
	}
}

func TestUploadUnsupportedExtensionThroughPipeline(t *testing.T) {
	st := openSQLiteStore(t)
	cat := catalog.New(st, st, 0)
	h := NewHandler(loadConfig(t, nil), Dependencies{Ingestor: &ingest.Pipeline{Catalog: cat, Writer: st}})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, uploadRequest(t, "notes.txt", []byte("hello")))
	if rr.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	if len(cat.List()) != 0 {
		t.Fatalf("catalog should stay empty, got %v", cat.List())
	}
}

func TestUploadStoreFailureIsRetryable(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{Ingestor: &fakeIngestor{err: errors.New("database is locked")}})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, uploadRequest(t, "data.csv", []byte("a\n1\n")))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["error_code"] != "INGEST_FAILED" || body["retryable"] != true {
		t.Fatalf("body = %v", body)
	}
}

func TestUploadRequiresFileField(t *testing.T) {
	fake := &fakeIngestor{}
	h := NewHandler(loadConfig(t, nil), Dependencies{Ingestor: fake})

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	_ = writer.WriteField("other", "value")
	_ = writer.Close()
	req := httptest.NewRequest(http.MethodPost, "/v1/uploads", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	if fake.calls != 0 {
		t.Fatalf("ingestor calls = %d", fake.calls)
	}
}

func TestUploadRejectsOversizedBody(t *testing.T) {
	fake := &fakeIngestor{}
	cfg := loadConfig(t, map[string]string{"SHEETQL_HTTP_MAX_UPLOAD_BYTES": "64"})
	h := NewHandler(cfg, Dependencies{Ingestor: fake})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, uploadRequest(t, "big.csv", bytes.Repeat([]byte("a,b\n"), 100)))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["error_code"] != "UPLOAD_TOO_LARGE" {
		t.Fatalf("error_code = %v", body["error_code"])
	}
	if fake.calls != 0 {
		t.Fatalf("ingestor calls = %d", fake.calls)
	}
}

func TestUploadRequiresUploaderRole(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"SHEETQL_AUTH_REQUIRED": "true"})
	validator, err := auth.NewStaticAPIKeyValidator("reader:bob:analyst,writer:alice:data_uploader")
	if err != nil {
		t.Fatalf("validator setup failed: %v", err)
	}
	fake := &fakeIngestor{table: salesTable()}
	h := NewHandler(cfg, Dependencies{AuthMiddleware: auth.Middleware(nil, validator), Ingestor: fake})

	req := uploadRequest(t, "sales.csv", []byte("a\n1\n"))
	req.Header.Set("X-API-Key", "reader")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("analyst status = %d", rr.Code)
	}

	req = uploadRequest(t, "sales.csv", []byte("a\n1\n"))
	req.Header.Set("X-API-Key", "writer")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("uploader status = %d body=%s", rr.Code, rr.Body.String())
	}
	if fake.calls != 1 || fake.last.Filename != "sales.csv" || string(fake.last.Data) != "a\n1\n" {
		t.Fatalf("ingestor saw %d calls, last = %+v", fake.calls, fake.last)
	}
}

type fakeIngestor struct {
	table schema.Table
	err   error
	calls int
	last  ingest.Upload
}

func (f *fakeIngestor) Ingest(_ context.Context, upload ingest.Upload) (schema.Table, error) {
	f.calls++
	f.last = upload
	if f.err != nil {
		return schema.Table{}, f.err
	}
	return f.table, nil
}

func uploadRequest(t *testing.T, filename string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/uploads", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func openSQLiteStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Open(ctx, sqlite.DBConfig{Path: filepath.Join(t.TempDir(), "uploads.db")})
	if err != nil {
		t.Fatalf("sqlite.Open() error = %v", err)
	}
	runner, err := migrations.NewRunner(migrations.DialectSQLite)
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}
	if _, err := runner.Up(ctx, db.Writer, 0); err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	st := store.New(db.Writer, db.Reader, sqlite.Dialect{}, store.Options{})
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestUploadFormatFieldOverridesExtension(t *testing.T) {
	fake := &fakeIngestor{table: salesTable()}
	h := NewHandler(loadConfig(t, nil), Dependencies{Ingestor: fake})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, formatUploadRequest(t, "export.txt", "CSV"))
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	if fake.last.Kind != ingest.KindCSV || fake.last.Filename != "export.txt" {
		t.Fatalf("upload = %+v", fake.last)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, formatUploadRequest(t, "export.txt", "ods"))
	if rr.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	if fake.calls != 1 {
		t.Fatalf("ingest calls = %d, want 1", fake.calls)
	}
}

func formatUploadRequest(t *testing.T, filename, format string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("format", format); err != nil {
		t.Fatalf("WriteField() error = %v", err)
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	if _, err := part.Write([]byte("a,b\n1,2\n")); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/uploads", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}
