package api

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/sheetql/sheetql/internal/auth"
	"github.com/sheetql/sheetql/internal/config"
	"github.com/sheetql/sheetql/internal/ingest"
	"github.com/sheetql/sheetql/internal/schema"
)

const (
	uploadField = "file"
	// formatField overrides the file kind taken from the extension.
	formatField = "format"
)

type uploadResponse struct {
	TableName    string          `json:"table_name"`
	RowsInserted int64           `json:"rows_inserted"`
	Columns      []schema.Column `json:"columns"`
	TotalRows    int64           `json:"total_rows"`
	TotalColumns int             `json:"total_columns"`
	SourceFile   string          `json:"source_file"`
	CreatedAt    time.Time       `json:"created_at"`
}

var ingestErrorStatus = map[ingest.ErrorKind]struct {
	status int
	code   string
}{
	ingest.KindEmpty:             {http.StatusUnprocessableEntity, "EMPTY_FILE"},
	ingest.KindTooWide:           {http.StatusRequestEntityTooLarge, "TOO_WIDE"},
	ingest.KindTooManyRows:       {http.StatusRequestEntityTooLarge, "TOO_MANY_ROWS"},
	ingest.KindUnsupportedFormat: {http.StatusUnsupportedMediaType, "UNSUPPORTED_FORMAT"},
	ingest.KindDecodeFailure:     {http.StatusBadRequest, "DECODE_FAILURE"},
}

func handleUpload(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Ingestor == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "UPLOADS_NOT_CONFIGURED", "ingest dependency is not configured", false, nil)
		return
	}
	if err := requireAnyRole(r, auth.RoleDataUploader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	limit := cfg.HTTP.MaxUploadBytes
	if r.ContentLength > limit {
		writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE", "upload exceeds the maximum size", false, map[string]any{"max_bytes": limit})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	file, header, err := r.FormFile(uploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE", "upload exceeds the maximum size", false, map[string]any{"max_bytes": limit})
			return
		}
		writeError(r.Context(), w, http.StatusBadRequest, "FILE_REQUIRED", "multipart field \"file\" is required", false, map[string]any{"details": err.Error()})
		return
	}
	defer func() { _ = file.Close() }()
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "READ_FAILED", "failed to read uploaded file", false, map[string]any{"details": err.Error()})
		return
	}

	upload := ingest.Upload{
		Filename: filepath.Base(strings.ReplaceAll(header.Filename, `\`, "/")),
		Data:     data,
	}
	if raw := r.FormValue(formatField); raw != "" {
		kind, ok := ingest.ParseKind(raw)
		if !ok {
			writeError(r.Context(), w, http.StatusUnsupportedMediaType, "UNSUPPORTED_FORMAT", "format must be csv, xlsx or xls", false, map[string]any{"format": raw})
			return
		}
		upload.Kind = kind
	}
	table, err := deps.Ingestor.Ingest(r.Context(), upload)
	if err != nil {
		if kind, ok := ingest.ErrorKindOf(err); ok {
			mapped := ingestErrorStatus[kind]
			writeError(r.Context(), w, mapped.status, mapped.code, err.Error(), false, map[string]any{"source_file": upload.Filename})
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "INGEST_FAILED", "failed to store uploaded file", true, map[string]any{"details": err.Error()})
		return
	}

	writeJSON(w, http.StatusCreated, uploadResponse{
		TableName:    table.Name,
		RowsInserted: table.RowCount,
		Columns:      table.Columns,
		TotalRows:    table.RowCount,
		TotalColumns: len(table.Columns),
		SourceFile:   table.SourceFile,
		CreatedAt:    table.CreatedAt,
	})
}
