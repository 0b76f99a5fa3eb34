package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/queryhub/queryhub/internal/auth"
	"github.com/queryhub/queryhub/internal/executor"
	"github.com/queryhub/queryhub/internal/orchestrator"
	"github.com/queryhub/queryhub/internal/resolve"
)

type askRequest struct {
	Question string `json:"question"`
	Table    string `json:"table"`
}

type askResponse struct {
	Answer    string            `json:"answer"`
	SQL       string            `json:"sql"`
	TableName string            `json:"table_name"`
	Columns   []string          `json:"columns"`
	Rows      [][]any           `json:"rows"`
	FromCache bool              `json:"from_cache"`
	Attempts  int               `json:"attempts"`
	Stats     map[string]any    `json:"stats"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Orchestrator == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASK_NOT_CONFIGURED", "ask dependencies are not configured", false, nil)
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

	var request askRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}

	response, err := deps.Orchestrator.Handle(r.Context(), orchestrator.Request{
		TenantID:  tenantID,
		Question:  request.Question,
		TableHint: strings.TrimSpace(request.Table),
	})
	if err != nil {
		handleAskError(deps, r, w, err)
		return
	}

	writeJSON(w, http.StatusOK, askResponse{
		Answer:    response.Answer,
		SQL:       response.SQL,
		TableName: response.TableName,
		Columns:   response.Columns,
		Rows:      response.Rows,
		FromCache: response.FromCache,
		Attempts:  response.Attempts,
		Stats: map[string]any{
			"duration_ms": response.Elapsed.Milliseconds(),
		},
	})
}

func handleAskError(deps Dependencies, r *http.Request, w http.ResponseWriter, err error) {
	var ambiguous *resolve.AmbiguousError
	var execErr *executor.ExecutionError

	switch {
	case errors.Is(err, orchestrator.ErrUnsupportedIntent):
		writeError(r.Context(), w, http.StatusUnprocessableEntity, "UNSUPPORTED_QUESTION", "the question is not an analytics request over tabular data", false, nil)
	case errors.As(err, &ambiguous):
		writeError(r.Context(), w, http.StatusUnprocessableEntity, "AMBIGUOUS_QUESTION", "no table matched the question with enough confidence", false, map[string]any{
			"candidates": ambiguous.Candidates,
		})
	case errors.Is(err, resolve.ErrNoTable):
		writeError(r.Context(), w, http.StatusNotFound, "TABLE_NOT_RESOLVED", "no table could be resolved for the question", false, nil)
	case errors.Is(err, orchestrator.ErrCrossTenant):
		writeError(r.Context(), w, http.StatusForbidden, "CROSS_TENANT_REJECTED", "the request referenced data outside the tenant boundary", false, nil)
	case errors.Is(err, orchestrator.ErrGenerationTimeout):
		writeError(r.Context(), w, http.StatusGatewayTimeout, "GENERATION_TIMEOUT", "sql generation exceeded the time budget", true, nil)
	case errors.Is(err, orchestrator.ErrGenerationExhausted):
		writeError(r.Context(), w, http.StatusUnprocessableEntity, "GENERATION_EXHAUSTED", "could not produce a valid query for the question", false, nil)
	case errors.As(err, &execErr):
		handleExecutionError(deps, r, w, execErr)
	default:
		// The underlying error text may carry internal detail. Log it
		// and answer with the stable code only.
		if deps.Logger != nil {
			deps.Logger.ErrorContext(r.Context(), "ask pipeline failed", "error", err)
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "PIPELINE_ERROR", "failed to answer the question", true, nil)
	}
}

func handleExecutionError(deps Dependencies, r *http.Request, w http.ResponseWriter, execErr *executor.ExecutionError) {
	switch execErr.Kind {
	case executor.KindTimeout:
		writeError(r.Context(), w, http.StatusGatewayTimeout, "QUERY_TIMEOUT", execErr.Reason, true, nil)
	case executor.KindRowLimitExceeded:
		writeError(r.Context(), w, http.StatusUnprocessableEntity, "ROW_LIMIT_EXCEEDED", execErr.Reason, false, nil)
	default:
		// Engine rejections carry raw engine output in Reason.
		if deps.Logger != nil {
			deps.Logger.WarnContext(r.Context(), "query rejected by execution engine", "reason", execErr.Reason)
		}
		writeError(r.Context(), w, http.StatusBadRequest, "QUERY_EXECUTION_FAILED", "the generated query was rejected by the execution engine", false, nil)
	}
}

func tenantFromRequest(r *http.Request) (string, error) {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		if strings.TrimSpace(identity.TenantID) != "" {
			return identity.TenantID, nil
		}
	}
	tenantID := strings.TrimSpace(r.Header.Get("X-Tenant-ID"))
	if tenantID == "" {
		return "", fmt.Errorf("tenant context is required")
	}
	return tenantID, nil
}

func requireAnyRole(r *http.Request, roles ...string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	for _, role := range roles {
		if identity.HasRole(role) {
			return nil
		}
	}
	return fmt.Errorf("missing required role, expected one of %q", strings.Join(roles, ","))
}
