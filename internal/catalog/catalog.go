package catalog

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var ErrNotFound = errors.New("catalog: not found")

// namePattern constrains tenant IDs and logical table names so that both
// are safe as object-store path components and SQL identifiers.
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

type Repository interface {
	HealthCheck(ctx context.Context) error
	CreateTenant(ctx context.Context, in CreateTenantInput) (Tenant, error)
	GetTenant(ctx context.Context, tenantID string) (Tenant, error)
	UpsertTable(ctx context.Context, in UpsertTableInput) (TableDef, error)
	GetTableByName(ctx context.Context, tenantID, logicalName string) (TableDef, error)
	ListTables(ctx context.Context, tenantID string) ([]TableDef, error)
	DeleteTableByName(ctx context.Context, tenantID, logicalName string) (bool, error)
	RegisterDataFile(ctx context.Context, in RegisterDataFileInput) (DataFile, error)
	ListTableFiles(ctx context.Context, tenantID, logicalName string) ([]DataFile, error)
}

type Tenant struct {
	TenantID  string
	Name      string
	Status    string
	CreatedAt time.Time
}

// Column describes one column of an uploaded dataset. SampleValues and
// Description feed the metadata index and the generation prompt.
type Column struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Description  string   `json:"description,omitempty"`
	SampleValues []string `json:"sample_values,omitempty"`
}

type TableDef struct {
	TableID      int64
	TenantID     string
	LogicalName  string
	PhysicalName string
	Columns      []Column
	RowCount     int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type DataFile struct {
	FileID        int64
	TenantID      string
	TableID       int64
	Path          string
	RecordCount   int64
	FileSizeBytes int64
	CreatedAt     time.Time
}

type CreateTenantInput struct {
	TenantID string
	Name     string
	Status   string
}

type UpsertTableInput struct {
	TenantID    string
	LogicalName string
	Columns     []Column
	RowCount    int64
}

type RegisterDataFileInput struct {
	TenantID      string
	TableID       int64
	Path          string
	RecordCount   int64
	FileSizeBytes int64
}

// PhysicalTableName derives the storage-layer table name for a tenant's
// logical table. ValidateName forbids "__" and a trailing "_" in either
// component, so the separator occurs exactly once and the mapping is
// injective: no two (tenant, logical) pairs share a physical name.
func PhysicalTableName(tenantID, logicalName string) (string, error) {
	if err := ValidateName(tenantID, "tenant id"); err != nil {
		return "", err
	}
	if err := ValidateName(logicalName, "table name"); err != nil {
		return "", err
	}
	return "t_" + tenantID + "__" + logicalName, nil
}

// OwnsPhysicalTable reports whether a physical table name belongs to the
// given tenant. Used as the executor-side isolation check.
func OwnsPhysicalTable(tenantID, physicalName string) bool {
	if ValidateName(tenantID, "tenant id") != nil {
		return false
	}
	prefix := "t_" + tenantID + "__"
	if len(physicalName) <= len(prefix) || physicalName[:len(prefix)] != prefix {
		return false
	}
	return ValidateName(physicalName[len(prefix):], "table name") == nil
}

func ValidateName(value, field string) error {
	if !namePattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	// "__" separates tenant from logical name in physical table names.
	// A component containing "__", or ending in "_" while the next begins
	// the separator, would let two tenants derive the same physical name.
	if strings.Contains(value, "__") || strings.HasSuffix(value, "_") {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
