package storage

import (
	"fmt"
	"path"
	"regexp"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildDataFilePath returns the object key for one parquet part of a
// tenant table. All keys for a table share the prefix returned by
// BuildTablePrefix, so deleting the prefix removes the table's data.
func BuildDataFilePath(tenantID, tableName string, sequence int) (string, error) {
	prefix, err := BuildTablePrefix(tenantID, tableName)
	if err != nil {
		return "", err
	}
	if sequence < 0 {
		return "", fmt.Errorf("sequence must be >= 0")
	}
	return path.Join(prefix, fmt.Sprintf("part-%05d.parquet", sequence)), nil
}

// BuildTablePrefix returns the object key prefix under which every data
// file of the given tenant table lives.
func BuildTablePrefix(tenantID, tableName string) (string, error) {
	if err := validatePathComponent(tenantID, "tenant id"); err != nil {
		return "", err
	}
	if err := validatePathComponent(tableName, "table name"); err != nil {
		return "", err
	}
	return path.Join("tenants", tenantID, "tables", tableName), nil
}

// BuildTenantPrefix returns the object key prefix holding all data for a
// tenant. Nothing outside this prefix is ever mounted on the tenant's
// behalf.
func BuildTenantPrefix(tenantID string) (string, error) {
	if err := validatePathComponent(tenantID, "tenant id"); err != nil {
		return "", err
	}
	return path.Join("tenants", tenantID), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
