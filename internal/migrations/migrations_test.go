package migrations

import (
	"strings"
	"testing"
	"testing/fstest"
)

func TestLoadMigrationsSortsAndPairsUpDown(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/000002_two.up.sql":   {Data: []byte("SELECT 2;")},
		"sql/000002_two.down.sql": {Data: []byte("SELECT -2;")},
		"sql/000001_one.up.sql":   {Data: []byte("SELECT 1;")},
		"sql/000001_one.down.sql": {Data: []byte("SELECT -1;")},
	}

	items, err := loadMigrations(fsys)
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d", len(items))
	}
	if items[0].Version != 1 || items[1].Version != 2 {
		t.Fatalf("unexpected migration order: %+v", items)
	}
}

func TestLoadMigrationsErrorsWhenDownMissing(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/000001_one.up.sql": {Data: []byte("SELECT 1;")},
	}
	_, err := loadMigrations(fsys)
	if err == nil {
		t.Fatal("expected error for missing down migration")
	}
	if !strings.Contains(err.Error(), "missing down SQL") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEmbeddedMigrationsAreComplete(t *testing.T) {
	items, err := loadMigrations(embeddedFS)
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(items) != 4 {
		t.Fatalf("len(items) = %d", len(items))
	}
	for i, item := range items {
		if item.Version != int64(i+1) {
			t.Fatalf("version[%d] = %d", i, item.Version)
		}
	}
}

func TestSchemaMigrationsContainRequiredTables(t *testing.T) {
	required := map[string][]string{
		"sql/000001_tenants.up.sql": {
			"CREATE TABLE IF NOT EXISTS qh_tenant",
		},
		"sql/000002_tables.up.sql": {
			"CREATE TABLE IF NOT EXISTS qh_table",
			"UNIQUE (tenant_id, logical_name)",
			"CREATE TABLE IF NOT EXISTS qh_data_file",
			"ON DELETE CASCADE",
		},
		"sql/000003_metadata.up.sql": {
			"CREATE TABLE IF NOT EXISTS qh_metadata",
			"PRIMARY KEY (tenant_id, table_name)",
		},
		"sql/000004_cache.up.sql": {
			"CREATE TABLE IF NOT EXISTS qh_cache",
			"cache_key TEXT PRIMARY KEY",
			"qh_cache_tenant_table_idx",
		},
	}

	for file, snippets := range required {
		body, err := embeddedFS.ReadFile(file)
		if err != nil {
			t.Fatalf("ReadFile(%s) error = %v", file, err)
		}
		script := string(body)
		for _, snippet := range snippets {
			if !strings.Contains(script, snippet) {
				t.Fatalf("%s missing required snippet: %s", file, snippet)
			}
		}
	}
}
