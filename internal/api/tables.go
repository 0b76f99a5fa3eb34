package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/queryhub/queryhub/internal/auth"
	"github.com/queryhub/queryhub/internal/catalog"
)

func handleListTables(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.CatalogRepo == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "TABLES_NOT_CONFIGURED", "catalog dependency is not configured", false, nil)
		return
	}
	tenantID, err := tenantFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "TENANT_REQUIRED", err.Error(), false, nil)
		return
	}
	if err := requireAnyRole(r, auth.RoleQuery, auth.RoleAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	tables, err := deps.CatalogRepo.ListTables(r.Context(), tenantID)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to list tables", true, map[string]any{"details": err.Error()})
		return
	}
	items := make([]map[string]any, 0, len(tables))
	for _, table := range tables {
		items = append(items, tablePayload(table))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id": tenantID,
		"tables":    items,
	})
}

func handleGetTable(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.CatalogRepo == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "TABLES_NOT_CONFIGURED", "catalog dependency is not configured", false, nil)
		return
	}
	tenantID, err := tenantFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "TENANT_REQUIRED", err.Error(), false, nil)
		return
	}
	if err := requireAnyRole(r, auth.RoleQuery, auth.RoleAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	tableName := strings.TrimSpace(r.PathValue("table"))
	if tableName == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "TABLE_REQUIRED", "table path parameter is required", false, nil)
		return
	}
	table, err := deps.CatalogRepo.GetTableByName(r.Context(), tenantID, tableName)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "TABLE_NOT_FOUND", "table was not found", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to get table", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, tablePayload(table))
}

func handleDeleteTable(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Ingest == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "TABLES_NOT_CONFIGURED", "table admin operations are not configured", false, nil)
		return
	}
	tenantID, err := tenantFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "TENANT_REQUIRED", err.Error(), false, nil)
		return
	}
	if err := requireAnyRole(r, auth.RoleAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	tableName := strings.TrimSpace(r.PathValue("table"))
	if tableName == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "TABLE_REQUIRED", "table path parameter is required", false, nil)
		return
	}

	deleted, err := deps.Ingest.DeleteTable(r.Context(), tenantID, tableName)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to delete table", true, map[string]any{"details": err.Error()})
		return
	}
	if !deleted {
		writeError(r.Context(), w, http.StatusNotFound, "TABLE_NOT_FOUND", "table was not found", false, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "table_name": tableName})
}

func tablePayload(table catalog.TableDef) map[string]any {
	return map[string]any{
		"table_id":   table.TableID,
		"tenant_id":  table.TenantID,
		"table_name": table.LogicalName,
		"columns":    table.Columns,
		"row_count":  table.RowCount,
		"created_at": table.CreatedAt,
		"updated_at": table.UpdatedAt,
	}
}
