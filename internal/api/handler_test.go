package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/queryhub/queryhub/internal/auth"
	"github.com/queryhub/queryhub/internal/catalog"
	"github.com/queryhub/queryhub/internal/config"
	"github.com/queryhub/queryhub/internal/orchestrator"
)

func TestHealthEndpoint(t *testing.T) {
	cfg := testConfig(t, nil)

	h := NewHandler(cfg, Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestReadyEndpointReturns503WhenDependencyFails(t *testing.T) {
	cfg := testConfig(t, nil)

	h := NewHandler(cfg, Dependencies{
		Readiness: func(context.Context) error {
			return errors.New("dependency down")
		},
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestProtectedRouteRequiresAuth(t *testing.T) {
	cfg := testConfig(t, map[string]string{
		"QUERYHUB_AUTH_REQUIRED": "true",
	})
	validator, err := auth.NewStaticAPIKeyValidator("k1:alice:query")
	if err != nil {
		t.Fatalf("validator setup failed: %v", err)
	}

	h := NewHandler(cfg, Dependencies{
		AuthMiddleware: auth.Middleware(nil, validator),
		CatalogRepo:    newInMemoryCatalog(),
	})

	unauthResp := httptest.NewRecorder()
	h.ServeHTTP(unauthResp, httptest.NewRequest(http.MethodGet, "/v1/tables", nil))
	if unauthResp.Code != http.StatusUnauthorized {
		t.Fatalf("unauth status = %d", unauthResp.Code)
	}

	authReq := httptest.NewRequest(http.MethodGet, "/v1/tables", nil)
	authReq.Header.Set("X-API-Key", "k1")
	authResp := httptest.NewRecorder()
	h.ServeHTTP(authResp, authReq)
	if authResp.Code != http.StatusOK {
		t.Fatalf("auth status = %d, body=%s", authResp.Code, authResp.Body.String())
	}

	var body map[string]any
	if err := json.Unmarshal(authResp.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if body["tenant_id"] != "alice" {
		t.Fatalf("tenant_id = %v", body["tenant_id"])
	}
}

func TestCombineReadinessChecksStopsOnFirstFailure(t *testing.T) {
	order := make([]int, 0, 3)
	combined := CombineReadinessChecks(
		func(_ context.Context) error {
			order = append(order, 1)
			return nil
		},
		func(_ context.Context) error {
			order = append(order, 2)
			return errors.New("boom")
		},
		func(_ context.Context) error {
			order = append(order, 3)
			return nil
		},
	)

	err := combined(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("execution order = %#v", order)
	}
}

func testConfig(t *testing.T, overrides map[string]string) config.Config {
	t.Helper()
	cfg, err := config.Load("queryhub-api", func(key string) (string, bool) {
		value, ok := overrides[key]
		return value, ok
	})
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	return cfg
}

type inMemoryCatalog struct {
	tables map[string]map[string]catalog.TableDef
}

func newInMemoryCatalog() *inMemoryCatalog {
	return &inMemoryCatalog{tables: map[string]map[string]catalog.TableDef{}}
}

func (c *inMemoryCatalog) add(table catalog.TableDef) {
	if c.tables[table.TenantID] == nil {
		c.tables[table.TenantID] = map[string]catalog.TableDef{}
	}
	c.tables[table.TenantID][table.LogicalName] = table
}

func (c *inMemoryCatalog) GetTableByName(_ context.Context, tenantID, tableName string) (catalog.TableDef, error) {
	table, ok := c.tables[tenantID][tableName]
	if !ok {
		return catalog.TableDef{}, catalog.ErrNotFound
	}
	return table, nil
}

func (c *inMemoryCatalog) ListTables(_ context.Context, tenantID string) ([]catalog.TableDef, error) {
	defs := make([]catalog.TableDef, 0, len(c.tables[tenantID]))
	for _, table := range c.tables[tenantID] {
		defs = append(defs, table)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].LogicalName < defs[j].LogicalName })
	return defs, nil
}

type fakeAsker struct {
	lastRequest orchestrator.Request
	response    orchestrator.Response
	err         error
}

func (a *fakeAsker) Handle(_ context.Context, req orchestrator.Request) (orchestrator.Response, error) {
	a.lastRequest = req
	if a.err != nil {
		return orchestrator.Response{}, a.err
	}
	return a.response, nil
}

type fakeUploader struct {
	uploadedTenant string
	uploadedTable  string
	uploadedDesc   string
	uploadedBody   []byte
	uploadResult   catalog.TableDef
	uploadErr      error

	deletedTable string
	deleteResult bool
	deleteErr    error
}

func (u *fakeUploader) UploadCSV(_ context.Context, tenantID, tableName, description string, r io.Reader) (catalog.TableDef, error) {
	u.uploadedTenant = tenantID
	u.uploadedTable = tableName
	u.uploadedDesc = description
	body, err := io.ReadAll(r)
	if err != nil {
		return catalog.TableDef{}, err
	}
	u.uploadedBody = body
	if u.uploadErr != nil {
		return catalog.TableDef{}, u.uploadErr
	}
	return u.uploadResult, nil
}

func (u *fakeUploader) DeleteTable(_ context.Context, _, tableName string) (bool, error) {
	u.deletedTable = tableName
	return u.deleteResult, u.deleteErr
}

func salesTableDef(tenantID string) catalog.TableDef {
	return catalog.TableDef{
		TableID:      7,
		TenantID:     tenantID,
		LogicalName:  "sales",
		PhysicalName: "t_" + tenantID + "__sales",
		Columns: []catalog.Column{
			{Name: "region", Type: "VARCHAR"},
			{Name: "amount", Type: "DOUBLE"},
		},
		RowCount:  42,
		CreatedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
	}
}
