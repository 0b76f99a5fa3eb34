package resolve

import (
	"context"
	"errors"
	"testing"

	"github.com/queryhub/queryhub/internal/catalog"
	"github.com/queryhub/queryhub/internal/completion"
	"github.com/queryhub/queryhub/internal/metaindex"
)

func TestResolveHintBypassesSearch(t *testing.T) {
	repo := &fakeCatalog{tables: map[string]catalog.TableDef{
		"alice/sales": {TenantID: "alice", LogicalName: "sales", PhysicalName: "t_alice__sales"},
	}}
	index := &fakeIndex{}
	embedder := &fakeEmbedder{}

	resolver := newTestResolver(t, repo, index, embedder)
	resolution, err := resolver.Resolve(context.Background(), "alice", "total amount by region", "sales")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !resolution.FromHint {
		t.Fatal("expected FromHint=true")
	}
	if resolution.Table.PhysicalName != "t_alice__sales" {
		t.Fatalf("PhysicalName = %q", resolution.Table.PhysicalName)
	}
	if embedder.calls != 0 {
		t.Fatalf("embed calls = %d, want 0", embedder.calls)
	}
	if index.calls != 0 {
		t.Fatalf("search calls = %d, want 0", index.calls)
	}
}

func TestResolveHintForOtherTenantsTableFails(t *testing.T) {
	repo := &fakeCatalog{tables: map[string]catalog.TableDef{
		"alice/sales": {TenantID: "alice", LogicalName: "sales", PhysicalName: "t_alice__sales"},
	}}

	resolver := newTestResolver(t, repo, &fakeIndex{}, &fakeEmbedder{})
	_, err := resolver.Resolve(context.Background(), "bob", "total sales", "sales")
	if !errors.Is(err, ErrNoTable) {
		t.Fatalf("error = %v, want %v", err, ErrNoTable)
	}
}

func TestResolveSearchesWhenNoHint(t *testing.T) {
	repo := &fakeCatalog{tables: map[string]catalog.TableDef{
		"alice/sales": {TenantID: "alice", LogicalName: "sales", PhysicalName: "t_alice__sales"},
	}}
	index := &fakeIndex{matches: []metaindex.Match{
		{Entry: metaindex.Entry{TenantID: "alice", TableName: "sales"}, Score: 0.82},
		{Entry: metaindex.Entry{TenantID: "alice", TableName: "inventory"}, Score: 0.41},
	}}
	embedder := &fakeEmbedder{vector: []float32{1, 0}}

	resolver := newTestResolver(t, repo, index, embedder)
	resolution, err := resolver.Resolve(context.Background(), "alice", "total amount by region", "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if resolution.Table.LogicalName != "sales" {
		t.Fatalf("LogicalName = %q", resolution.Table.LogicalName)
	}
	if resolution.Score != 0.82 {
		t.Fatalf("Score = %f", resolution.Score)
	}
	if index.lastTenant != "alice" {
		t.Fatalf("search tenant = %q", index.lastTenant)
	}
}

func TestResolveBelowThresholdReturnsCandidates(t *testing.T) {
	index := &fakeIndex{matches: []metaindex.Match{
		{Entry: metaindex.Entry{TenantID: "alice", TableName: "sales"}, Score: 0.30},
		{Entry: metaindex.Entry{TenantID: "alice", TableName: "orders"}, Score: 0.28},
	}}

	resolver := newTestResolver(t, &fakeCatalog{}, index, &fakeEmbedder{vector: []float32{1, 0}})
	_, err := resolver.Resolve(context.Background(), "alice", "numbers please", "")

	var ambiguous *AmbiguousError
	if !errors.As(err, &ambiguous) {
		t.Fatalf("error = %v, want AmbiguousError", err)
	}
	if len(ambiguous.Candidates) != 2 {
		t.Fatalf("len(candidates) = %d", len(ambiguous.Candidates))
	}
	if ambiguous.Candidates[0].TableName != "sales" {
		t.Fatalf("candidates[0] = %q", ambiguous.Candidates[0].TableName)
	}
}

func TestResolveEmptyIndexReturnsNoTable(t *testing.T) {
	resolver := newTestResolver(t, &fakeCatalog{}, &fakeIndex{}, &fakeEmbedder{vector: []float32{1, 0}})
	_, err := resolver.Resolve(context.Background(), "alice", "total sales", "")
	if !errors.Is(err, ErrNoTable) {
		t.Fatalf("error = %v, want %v", err, ErrNoTable)
	}
}

func TestResolveRejectsForeignTenantEntry(t *testing.T) {
	index := &fakeIndex{matches: []metaindex.Match{
		{Entry: metaindex.Entry{TenantID: "bob", TableName: "sales"}, Score: 0.9},
	}}

	resolver := newTestResolver(t, &fakeCatalog{}, index, &fakeEmbedder{vector: []float32{1, 0}})
	_, err := resolver.Resolve(context.Background(), "alice", "total sales", "")
	if err == nil {
		t.Fatal("expected tenant mismatch error")
	}
}

func newTestResolver(t *testing.T, repo catalog.Repository, index metaindex.Index, embedder completion.Client) *Resolver {
	t.Helper()
	resolver, err := NewResolver(repo, index, embedder, Config{SearchK: 5, MinSimilarity: 0.35})
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}
	return resolver
}

type fakeCatalog struct {
	tables map[string]catalog.TableDef
}

func (f *fakeCatalog) HealthCheck(_ context.Context) error { return nil }

func (f *fakeCatalog) CreateTenant(_ context.Context, _ catalog.CreateTenantInput) (catalog.Tenant, error) {
	return catalog.Tenant{}, errors.New("not implemented")
}

func (f *fakeCatalog) GetTenant(_ context.Context, _ string) (catalog.Tenant, error) {
	return catalog.Tenant{}, catalog.ErrNotFound
}

func (f *fakeCatalog) UpsertTable(_ context.Context, _ catalog.UpsertTableInput) (catalog.TableDef, error) {
	return catalog.TableDef{}, errors.New("not implemented")
}

func (f *fakeCatalog) GetTableByName(_ context.Context, tenantID, logicalName string) (catalog.TableDef, error) {
	table, ok := f.tables[tenantID+"/"+logicalName]
	if !ok {
		return catalog.TableDef{}, catalog.ErrNotFound
	}
	return table, nil
}

func (f *fakeCatalog) ListTables(_ context.Context, _ string) ([]catalog.TableDef, error) {
	return nil, nil
}

func (f *fakeCatalog) DeleteTableByName(_ context.Context, _, _ string) (bool, error) {
	return false, nil
}

func (f *fakeCatalog) RegisterDataFile(_ context.Context, _ catalog.RegisterDataFileInput) (catalog.DataFile, error) {
	return catalog.DataFile{}, errors.New("not implemented")
}

func (f *fakeCatalog) ListTableFiles(_ context.Context, _, _ string) ([]catalog.DataFile, error) {
	return nil, nil
}

type fakeIndex struct {
	matches    []metaindex.Match
	calls      int
	lastTenant string
}

func (f *fakeIndex) Upsert(_ context.Context, _ metaindex.Entry) error { return nil }

func (f *fakeIndex) Delete(_ context.Context, _, _ string) error { return nil }

func (f *fakeIndex) Get(_ context.Context, _, _ string) (metaindex.Entry, error) {
	return metaindex.Entry{}, metaindex.ErrNotFound
}

func (f *fakeIndex) Search(_ context.Context, tenantID string, _ []float32, _ int) ([]metaindex.Match, error) {
	f.calls++
	f.lastTenant = tenantID
	return f.matches, nil
}

type fakeEmbedder struct {
	vector []float32
	calls  int
}

func (f *fakeEmbedder) Complete(_ context.Context, _ []completion.Message) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	f.calls++
	return f.vector, nil
}
