package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/queryhub/queryhub/internal/cache"
	"github.com/queryhub/queryhub/internal/catalog"
	"github.com/queryhub/queryhub/internal/completion"
	"github.com/queryhub/queryhub/internal/metaindex"
	"github.com/queryhub/queryhub/internal/storage"
)

const salesCSV = "region,amount\neast,10\nwest,7\n"

func TestUploadCSVCreatesEverything(t *testing.T) {
	deps := newServiceDeps()
	service := newTestService(t, deps)

	table, err := service.UploadCSV(context.Background(), "alice", "sales", "regional sales", strings.NewReader(salesCSV))
	if err != nil {
		t.Fatalf("UploadCSV() error = %v", err)
	}
	if table.PhysicalName != "t_alice__sales" {
		t.Fatalf("PhysicalName = %q", table.PhysicalName)
	}
	if deps.store.lastPutKey != "tenants/alice/tables/sales/part-00001.parquet" {
		t.Fatalf("object key = %q", deps.store.lastPutKey)
	}
	if deps.repo.lastFile.Path != deps.store.lastPutKey {
		t.Fatalf("registered path = %q", deps.repo.lastFile.Path)
	}
	entry, err := deps.index.Get(context.Background(), "alice", "sales")
	if err != nil {
		t.Fatalf("index entry missing: %v", err)
	}
	if entry.Description != "regional sales" {
		t.Fatalf("Description = %q", entry.Description)
	}
	if len(entry.Embedding) == 0 {
		t.Fatal("entry has no embedding")
	}
}

func TestUploadCSVInvalidatesCache(t *testing.T) {
	deps := newServiceDeps()
	service := newTestService(t, deps)

	key := cache.Key("alice", "total amount", "sales")
	_ = deps.cache.Put(context.Background(), key, cache.Entry{TenantID: "alice", TableName: "sales", Answer: "stale"}, time.Minute)

	if _, err := service.UploadCSV(context.Background(), "alice", "sales", "", strings.NewReader(salesCSV)); err != nil {
		t.Fatalf("UploadCSV() error = %v", err)
	}
	if _, found, _ := deps.cache.Get(context.Background(), key); found {
		t.Fatal("stale cache entry survived upload")
	}
}

func TestUploadCSVReplacesPreviousVersion(t *testing.T) {
	deps := newServiceDeps()
	service := newTestService(t, deps)

	if _, err := service.UploadCSV(context.Background(), "alice", "sales", "", strings.NewReader(salesCSV)); err != nil {
		t.Fatalf("first UploadCSV() error = %v", err)
	}
	if _, err := service.UploadCSV(context.Background(), "alice", "sales", "", strings.NewReader("region,amount\nnorth,3\n")); err != nil {
		t.Fatalf("second UploadCSV() error = %v", err)
	}
	if deps.store.deletedPrefixes[0] != "tenants/alice/tables/sales" {
		t.Fatalf("deleted prefixes = %v", deps.store.deletedPrefixes)
	}
}

func TestUploadCSVRejectsOversizedFile(t *testing.T) {
	deps := newServiceDeps()
	service := newTestService(t, deps)
	service.maxFileSize = 8

	_, err := service.UploadCSV(context.Background(), "alice", "sales", "", strings.NewReader(salesCSV))
	if err == nil {
		t.Fatal("expected size limit error")
	}
}

func TestUploadCSVRejectsInvalidTableName(t *testing.T) {
	deps := newServiceDeps()
	service := newTestService(t, deps)

	_, err := service.UploadCSV(context.Background(), "alice", "bad name!", "", strings.NewReader(salesCSV))
	if err == nil {
		t.Fatal("expected name validation error")
	}
}

func TestDeleteTableRemovesEverything(t *testing.T) {
	deps := newServiceDeps()
	service := newTestService(t, deps)

	if _, err := service.UploadCSV(context.Background(), "alice", "sales", "", strings.NewReader(salesCSV)); err != nil {
		t.Fatalf("UploadCSV() error = %v", err)
	}
	key := cache.Key("alice", "total amount", "sales")
	_ = deps.cache.Put(context.Background(), key, cache.Entry{TenantID: "alice", TableName: "sales"}, time.Minute)

	deleted, err := service.DeleteTable(context.Background(), "alice", "sales")
	if err != nil {
		t.Fatalf("DeleteTable() error = %v", err)
	}
	if !deleted {
		t.Fatal("expected deleted=true")
	}
	if _, err := deps.repo.GetTableByName(context.Background(), "alice", "sales"); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatal("catalog row survived delete")
	}
	if _, err := deps.index.Get(context.Background(), "alice", "sales"); !errors.Is(err, metaindex.ErrNotFound) {
		t.Fatal("index entry survived delete")
	}
	if _, found, _ := deps.cache.Get(context.Background(), key); found {
		t.Fatal("cache entry survived delete")
	}
}

func TestDeleteTableMissingReturnsFalse(t *testing.T) {
	deps := newServiceDeps()
	service := newTestService(t, deps)

	deleted, err := service.DeleteTable(context.Background(), "alice", "ghost")
	if err != nil {
		t.Fatalf("DeleteTable() error = %v", err)
	}
	if deleted {
		t.Fatal("expected deleted=false")
	}
}

type serviceDeps struct {
	repo  *memRepo
	store *recordingStore
	index *memIndex
	cache *cache.LocalStore
}

func newServiceDeps() *serviceDeps {
	return &serviceDeps{
		repo:  &memRepo{tables: map[string]catalog.TableDef{}},
		store: &recordingStore{},
		index: &memIndex{entries: map[string]metaindex.Entry{}},
		cache: cache.NewLocalStore(time.Minute, 64),
	}
}

func newTestService(t *testing.T, deps *serviceDeps) *Service {
	t.Helper()
	t.Cleanup(deps.cache.Stop)
	service, err := NewService(deps.repo, deps.store, deps.index, &stubEmbedder{}, deps.cache,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config{SampleRows: 5, MaxFileSize: 1 << 20})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return service
}

type memRepo struct {
	tables   map[string]catalog.TableDef
	nextID   int64
	lastFile catalog.RegisterDataFileInput
}

func (m *memRepo) HealthCheck(_ context.Context) error { return nil }

func (m *memRepo) CreateTenant(_ context.Context, in catalog.CreateTenantInput) (catalog.Tenant, error) {
	return catalog.Tenant{TenantID: in.TenantID}, nil
}

func (m *memRepo) GetTenant(_ context.Context, tenantID string) (catalog.Tenant, error) {
	return catalog.Tenant{TenantID: tenantID}, nil
}

func (m *memRepo) UpsertTable(_ context.Context, in catalog.UpsertTableInput) (catalog.TableDef, error) {
	physical, err := catalog.PhysicalTableName(in.TenantID, in.LogicalName)
	if err != nil {
		return catalog.TableDef{}, err
	}
	m.nextID++
	table := catalog.TableDef{
		TableID:      m.nextID,
		TenantID:     in.TenantID,
		LogicalName:  in.LogicalName,
		PhysicalName: physical,
		Columns:      in.Columns,
		RowCount:     in.RowCount,
	}
	m.tables[in.TenantID+"/"+in.LogicalName] = table
	return table, nil
}

func (m *memRepo) GetTableByName(_ context.Context, tenantID, logicalName string) (catalog.TableDef, error) {
	table, ok := m.tables[tenantID+"/"+logicalName]
	if !ok {
		return catalog.TableDef{}, catalog.ErrNotFound
	}
	return table, nil
}

func (m *memRepo) ListTables(_ context.Context, tenantID string) ([]catalog.TableDef, error) {
	tables := make([]catalog.TableDef, 0)
	for _, table := range m.tables {
		if table.TenantID == tenantID {
			tables = append(tables, table)
		}
	}
	return tables, nil
}

func (m *memRepo) DeleteTableByName(_ context.Context, tenantID, logicalName string) (bool, error) {
	key := tenantID + "/" + logicalName
	if _, ok := m.tables[key]; !ok {
		return false, nil
	}
	delete(m.tables, key)
	return true, nil
}

func (m *memRepo) RegisterDataFile(_ context.Context, in catalog.RegisterDataFileInput) (catalog.DataFile, error) {
	m.lastFile = in
	return catalog.DataFile{TenantID: in.TenantID, TableID: in.TableID, Path: in.Path}, nil
}

func (m *memRepo) ListTableFiles(_ context.Context, _, _ string) ([]catalog.DataFile, error) {
	return nil, nil
}

type recordingStore struct {
	lastPutKey      string
	deletedPrefixes []string
}

func (r *recordingStore) Put(_ context.Context, key string, body io.Reader, _ int64, _ storage.PutOptions) (storage.ObjectInfo, error) {
	r.lastPutKey = key
	_, _ = io.Copy(io.Discard, body)
	return storage.ObjectInfo{Key: key}, nil
}

func (r *recordingStore) Get(_ context.Context, _ string) (io.ReadCloser, error) {
	return nil, storage.ErrObjectNotFound
}

func (r *recordingStore) Stat(_ context.Context, _ string) (storage.ObjectInfo, error) {
	return storage.ObjectInfo{}, storage.ErrObjectNotFound
}

func (r *recordingStore) Delete(_ context.Context, _ string) error { return nil }

func (r *recordingStore) List(_ context.Context, _ string) ([]storage.ObjectInfo, error) {
	return nil, nil
}

func (r *recordingStore) DeletePrefix(_ context.Context, prefix string) (int, error) {
	r.deletedPrefixes = append(r.deletedPrefixes, prefix)
	return 0, nil
}

type memIndex struct {
	entries map[string]metaindex.Entry
}

func (m *memIndex) Upsert(_ context.Context, entry metaindex.Entry) error {
	m.entries[entry.TenantID+"/"+entry.TableName] = entry
	return nil
}

func (m *memIndex) Delete(_ context.Context, tenantID, tableName string) error {
	key := tenantID + "/" + tableName
	if _, ok := m.entries[key]; !ok {
		return metaindex.ErrNotFound
	}
	delete(m.entries, key)
	return nil
}

func (m *memIndex) Get(_ context.Context, tenantID, tableName string) (metaindex.Entry, error) {
	entry, ok := m.entries[tenantID+"/"+tableName]
	if !ok {
		return metaindex.Entry{}, metaindex.ErrNotFound
	}
	return entry, nil
}

func (m *memIndex) Search(_ context.Context, _ string, _ []float32, _ int) ([]metaindex.Match, error) {
	return nil, nil
}

type stubEmbedder struct{}

func (stubEmbedder) Complete(_ context.Context, _ []completion.Message) (string, error) {
	return "", errors.New("not implemented")
}

func (stubEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}
