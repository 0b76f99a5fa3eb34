package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/queryhub/queryhub/internal/auth"
	"github.com/queryhub/queryhub/internal/ingest"
)

const defaultMaxUploadBytes = 64 << 20

func handleUpload(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Ingest == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "UPLOAD_NOT_CONFIGURED", "upload dependencies are not configured", false, nil)
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

	maxBytes := deps.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxUploadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_MULTIPART", "invalid multipart upload", false, map[string]any{"details": err.Error()})
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "FILE_REQUIRED", "multipart field \"file\" is required", false, nil)
		return
	}
	defer file.Close()

	description := strings.TrimSpace(r.FormValue("description"))

	table, err := deps.Ingest.UploadCSV(r.Context(), tenantID, tableName, description, file)
	if err != nil {
		if errors.Is(err, ingest.ErrInvalidUpload) {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_UPLOAD", err.Error(), false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "UPLOAD_FAILED", "failed to ingest the uploaded file", true, map[string]any{"details": err.Error()})
		return
	}

	writeJSON(w, http.StatusCreated, tablePayload(table))
}
