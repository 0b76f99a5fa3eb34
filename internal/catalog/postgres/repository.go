package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/queryhub/queryhub/internal/catalog"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping catalog db: %w", err)
	}
	return nil
}

func (r *Repository) CreateTenant(ctx context.Context, in catalog.CreateTenantInput) (catalog.Tenant, error) {
	if err := catalog.ValidateName(in.TenantID, "tenant id"); err != nil {
		return catalog.Tenant{}, err
	}
	status := in.Status
	if status == "" {
		status = "active"
	}

	query := `
INSERT INTO qh_tenant (tenant_id, name, status)
VALUES ($1, $2, $3)
RETURNING created_at`
	var createdAt time.Time
	if err := r.db.QueryRowContext(ctx, query, in.TenantID, in.Name, status).Scan(&createdAt); err != nil {
		return catalog.Tenant{}, fmt.Errorf("create tenant: %w", err)
	}
	return catalog.Tenant{
		TenantID:  in.TenantID,
		Name:      in.Name,
		Status:    status,
		CreatedAt: createdAt,
	}, nil
}

func (r *Repository) GetTenant(ctx context.Context, tenantID string) (catalog.Tenant, error) {
	query := `
SELECT tenant_id, name, status, created_at
FROM qh_tenant
WHERE tenant_id = $1`

	var tenant catalog.Tenant
	if err := r.db.QueryRowContext(ctx, query, tenantID).Scan(
		&tenant.TenantID,
		&tenant.Name,
		&tenant.Status,
		&tenant.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Tenant{}, catalog.ErrNotFound
		}
		return catalog.Tenant{}, fmt.Errorf("get tenant: %w", err)
	}
	return tenant, nil
}

func (r *Repository) UpsertTable(ctx context.Context, in catalog.UpsertTableInput) (catalog.TableDef, error) {
	physicalName, err := catalog.PhysicalTableName(in.TenantID, in.LogicalName)
	if err != nil {
		return catalog.TableDef{}, err
	}
	columnsJSON, err := json.Marshal(in.Columns)
	if err != nil {
		return catalog.TableDef{}, fmt.Errorf("marshal column schema: %w", err)
	}

	query := `
INSERT INTO qh_table (tenant_id, logical_name, physical_name, columns, row_count)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (tenant_id, logical_name)
DO UPDATE SET columns = EXCLUDED.columns, row_count = EXCLUDED.row_count, updated_at = now()
RETURNING table_id, created_at, updated_at`

	table := catalog.TableDef{
		TenantID:     in.TenantID,
		LogicalName:  in.LogicalName,
		PhysicalName: physicalName,
		Columns:      in.Columns,
		RowCount:     in.RowCount,
	}
	if err := r.db.QueryRowContext(ctx, query, in.TenantID, in.LogicalName, physicalName, columnsJSON, in.RowCount).Scan(
		&table.TableID,
		&table.CreatedAt,
		&table.UpdatedAt,
	); err != nil {
		return catalog.TableDef{}, fmt.Errorf("upsert table: %w", err)
	}
	return table, nil
}

func (r *Repository) GetTableByName(ctx context.Context, tenantID, logicalName string) (catalog.TableDef, error) {
	query := `
SELECT table_id, tenant_id, logical_name, physical_name, columns, row_count, created_at, updated_at
FROM qh_table
WHERE tenant_id = $1 AND logical_name = $2`

	table, err := scanTable(r.db.QueryRowContext(ctx, query, tenantID, logicalName))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.TableDef{}, catalog.ErrNotFound
		}
		return catalog.TableDef{}, fmt.Errorf("get table: %w", err)
	}
	return table, nil
}

func (r *Repository) ListTables(ctx context.Context, tenantID string) ([]catalog.TableDef, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT table_id, tenant_id, logical_name, physical_name, columns, row_count, created_at, updated_at
FROM qh_table
WHERE tenant_id = $1
ORDER BY logical_name ASC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tables := make([]catalog.TableDef, 0)
	for rows.Next() {
		table, err := scanTable(rows)
		if err != nil {
			return nil, fmt.Errorf("scan table row: %w", err)
		}
		tables = append(tables, table)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table rows: %w", err)
	}
	return tables, nil
}

func (r *Repository) DeleteTableByName(ctx context.Context, tenantID, logicalName string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
DELETE FROM qh_table
WHERE tenant_id = $1 AND logical_name = $2`, tenantID, logicalName)
	if err != nil {
		return false, fmt.Errorf("delete table: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete table rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *Repository) RegisterDataFile(ctx context.Context, in catalog.RegisterDataFileInput) (catalog.DataFile, error) {
	query := `
INSERT INTO qh_data_file (tenant_id, table_id, path, record_count, file_size_bytes)
VALUES ($1, $2, $3, $4, $5)
RETURNING file_id, created_at`

	file := catalog.DataFile{
		TenantID:      in.TenantID,
		TableID:       in.TableID,
		Path:          in.Path,
		RecordCount:   in.RecordCount,
		FileSizeBytes: in.FileSizeBytes,
	}
	if err := r.db.QueryRowContext(ctx, query, in.TenantID, in.TableID, in.Path, in.RecordCount, in.FileSizeBytes).Scan(
		&file.FileID,
		&file.CreatedAt,
	); err != nil {
		return catalog.DataFile{}, fmt.Errorf("register data file: %w", err)
	}
	return file, nil
}

func (r *Repository) ListTableFiles(ctx context.Context, tenantID, logicalName string) ([]catalog.DataFile, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT f.file_id, f.tenant_id, f.table_id, f.path, f.record_count, f.file_size_bytes, f.created_at
FROM qh_data_file f
JOIN qh_table t ON t.table_id = f.table_id
WHERE f.tenant_id = $1 AND t.tenant_id = $1 AND t.logical_name = $2
ORDER BY f.file_id ASC`, tenantID, logicalName)
	if err != nil {
		return nil, fmt.Errorf("list table files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	files := make([]catalog.DataFile, 0)
	for rows.Next() {
		var file catalog.DataFile
		if err := rows.Scan(
			&file.FileID,
			&file.TenantID,
			&file.TableID,
			&file.Path,
			&file.RecordCount,
			&file.FileSizeBytes,
			&file.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan data file row: %w", err)
		}
		files = append(files, file)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate data file rows: %w", err)
	}
	return files, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTable(row rowScanner) (catalog.TableDef, error) {
	var table catalog.TableDef
	var columnsJSON []byte
	if err := row.Scan(
		&table.TableID,
		&table.TenantID,
		&table.LogicalName,
		&table.PhysicalName,
		&columnsJSON,
		&table.RowCount,
		&table.CreatedAt,
		&table.UpdatedAt,
	); err != nil {
		return catalog.TableDef{}, err
	}
	if len(columnsJSON) > 0 {
		if err := json.Unmarshal(columnsJSON, &table.Columns); err != nil {
			return catalog.TableDef{}, fmt.Errorf("unmarshal column schema: %w", err)
		}
	}
	return table, nil
}
