package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/sheetql/sheetql/internal/auth"
	"github.com/sheetql/sheetql/internal/catalog"
	"github.com/sheetql/sheetql/internal/schema"
)

func handleListTables(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "TABLES_NOT_CONFIGURED", "catalog dependency is not configured", false, nil)
		return
	}
	if err := requireAnyRole(r, auth.RoleAnalyst, auth.RoleDataUploader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	tables := deps.Catalog.List()
	if tables == nil {
		tables = []schema.Table{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": tables})
}

func handleGetTable(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "TABLES_NOT_CONFIGURED", "catalog dependency is not configured", false, nil)
		return
	}
	if err := requireAnyRole(r, auth.RoleAnalyst); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	tableName := strings.TrimSpace(r.PathValue("table"))
	if tableName == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "TABLE_REQUIRED", "table path parameter is required", false, nil)
		return
	}

	table, err := deps.Catalog.Get(tableName)
	if err != nil {
		writeTableLookupError(w, r, err)
		return
	}
	preview, err := deps.Catalog.Context(r.Context(), table.Name)
	if err != nil {
		writeTableLookupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"table_name":  table.Name,
		"columns":     table.Columns,
		"row_count":   table.RowCount,
		"source_file": table.SourceFile,
		"created_at":  table.CreatedAt,
		"sample_rows": preview.SampleRows,
	})
}

func writeTableLookupError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, catalog.ErrNotFound) {
		writeError(r.Context(), w, http.StatusNotFound, "TABLE_NOT_FOUND", "table was not found", false, nil)
		return
	}
	writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to get table", true, map[string]any{"details": err.Error()})
}
