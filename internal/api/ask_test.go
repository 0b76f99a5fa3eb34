package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/queryhub/queryhub/internal/executor"
	"github.com/queryhub/queryhub/internal/orchestrator"
	"github.com/queryhub/queryhub/internal/resolve"
)

func postAsk(t *testing.T, h http.Handler, tenantID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(body))
	req.Header.Set("X-Tenant-ID", tenantID)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestAskReturnsAnswerBundle(t *testing.T) {
	asker := &fakeAsker{
		response: orchestrator.Response{
			Answer:    "The east region leads with 120.5.",
			SQL:       `SELECT region, SUM(amount) FROM "t_alice__sales" GROUP BY region`,
			TableName: "sales",
			Columns:   []string{"region", "total"},
			Rows:      [][]any{{"east", 120.5}},
			FromCache: true,
			Attempts:  1,
			Elapsed:   35 * time.Millisecond,
		},
	}
	h := NewHandler(testConfig(t, nil), Dependencies{Orchestrator: asker})

	rr := postAsk(t, h, "alice", `{"question":"total sales by region","table":"sales"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}

	if asker.lastRequest.TenantID != "alice" {
		t.Fatalf("tenant = %q", asker.lastRequest.TenantID)
	}
	if asker.lastRequest.TableHint != "sales" {
		t.Fatalf("table hint = %q", asker.lastRequest.TableHint)
	}

	var body askResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if body.Answer != "The east region leads with 120.5." {
		t.Fatalf("answer = %q", body.Answer)
	}
	if !body.FromCache {
		t.Fatal("expected from_cache true")
	}
	if body.TableName != "sales" {
		t.Fatalf("table_name = %q", body.TableName)
	}
}

func TestAskRequiresTenant(t *testing.T) {
	h := NewHandler(testConfig(t, nil), Dependencies{Orchestrator: &fakeAsker{}})

	req := httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(`{"question":"hi"}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestAskRejectsEmptyQuestion(t *testing.T) {
	h := NewHandler(testConfig(t, nil), Dependencies{Orchestrator: &fakeAsker{}})

	rr := postAsk(t, h, "alice", `{"question":"   "}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "QUESTION_REQUIRED" {
		t.Fatalf("error_code = %q", code)
	}
}

func TestAskErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"unsupported", orchestrator.ErrUnsupportedIntent, http.StatusUnprocessableEntity, "UNSUPPORTED_QUESTION"},
		{"no table", resolve.ErrNoTable, http.StatusNotFound, "TABLE_NOT_RESOLVED"},
		{"ambiguous", &resolve.AmbiguousError{Candidates: []resolve.Candidate{{TableName: "sales", Score: 0.4}}}, http.StatusUnprocessableEntity, "AMBIGUOUS_QUESTION"},
		{"cross tenant", orchestrator.ErrCrossTenant, http.StatusForbidden, "CROSS_TENANT_REJECTED"},
		{"generation timeout", orchestrator.ErrGenerationTimeout, http.StatusGatewayTimeout, "GENERATION_TIMEOUT"},
		{"generation exhausted", orchestrator.ErrGenerationExhausted, http.StatusUnprocessableEntity, "GENERATION_EXHAUSTED"},
		{"query timeout", &executor.ExecutionError{Kind: executor.KindTimeout, Reason: "deadline"}, http.StatusGatewayTimeout, "QUERY_TIMEOUT"},
		{"row limit", &executor.ExecutionError{Kind: executor.KindRowLimitExceeded, Reason: "overflow"}, http.StatusUnprocessableEntity, "ROW_LIMIT_EXCEEDED"},
		{"engine rejected", &executor.ExecutionError{Kind: executor.KindEngineRejected, Reason: "bad column"}, http.StatusBadRequest, "QUERY_EXECUTION_FAILED"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler(testConfig(t, nil), Dependencies{Orchestrator: &fakeAsker{err: tc.err}})

			rr := postAsk(t, h, "alice", `{"question":"total sales by region"}`)
			if rr.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d, body=%s", rr.Code, tc.wantStatus, rr.Body.String())
			}
			if code := errorCode(t, rr); code != tc.wantCode {
				t.Fatalf("error_code = %q, want %q", code, tc.wantCode)
			}
		})
	}
}

func TestAskHidesRawEngineAndPipelineErrorText(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		secret string
	}{
		{"engine rejected", &executor.ExecutionError{Kind: executor.KindEngineRejected, Reason: `Binder Error: column "regoin" not found in /mnt/tenants/alice/part-1.parquet`}, "Binder Error"},
		{"pipeline failure", errors.New("pgx: connection refused host=10.0.0.12"), "10.0.0.12"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler(testConfig(t, nil), Dependencies{Orchestrator: &fakeAsker{err: tc.err}})

			rr := postAsk(t, h, "alice", `{"question":"total sales by region"}`)
			if strings.Contains(rr.Body.String(), tc.secret) {
				t.Fatalf("response leaked internal error text: %s", rr.Body.String())
			}
			if code := errorCode(t, rr); code == "" {
				t.Fatal("expected a stable error code")
			}
		})
	}
}

func TestAskAmbiguousIncludesCandidates(t *testing.T) {
	ambiguous := &resolve.AmbiguousError{Candidates: []resolve.Candidate{
		{TableName: "sales", Score: 0.41},
		{TableName: "orders", Score: 0.38},
	}}
	h := NewHandler(testConfig(t, nil), Dependencies{Orchestrator: &fakeAsker{err: ambiguous}})

	rr := postAsk(t, h, "alice", `{"question":"numbers please"}`)

	var body struct {
		Context struct {
			Candidates []resolve.Candidate `json:"candidates"`
		} `json:"context"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if len(body.Context.Candidates) != 2 {
		t.Fatalf("candidates = %d", len(body.Context.Candidates))
	}
	if body.Context.Candidates[0].TableName != "sales" {
		t.Fatalf("first candidate = %q", body.Context.Candidates[0].TableName)
	}
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	code, _ := body["error_code"].(string)
	return code
}
