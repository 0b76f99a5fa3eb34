package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PostgresStore is the primary cache backend, shared across processes.
// A put is a single upsert, so readers always observe either the old or
// the new entry, never a mix.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	query := `
SELECT payload
FROM qh_cache
WHERE cache_key = $1 AND expires_at > now()`

	var payload []byte
	if err := s.db.QueryRowContext(ctx, query, key).Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("unmarshal cache entry: %w", err)
	}
	return entry, true, nil
}

func (s *PostgresStore) Put(ctx context.Context, key string, entry Entry, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("ttl must be > 0")
	}
	entry.CreatedAt = time.Now().UTC()
	entry.ExpiresAt = entry.CreatedAt.Add(ttl)

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	query := `
INSERT INTO qh_cache (cache_key, tenant_id, table_name, payload, expires_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (cache_key)
DO UPDATE SET payload = EXCLUDED.payload, expires_at = EXCLUDED.expires_at, tenant_id = EXCLUDED.tenant_id, table_name = EXCLUDED.table_name`
	if _, err := s.db.ExecContext(ctx, query, key, entry.TenantID, entry.TableName, payload, entry.ExpiresAt); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) Invalidate(ctx context.Context, tenantID, tableName string) error {
	query := `
DELETE FROM qh_cache
WHERE tenant_id = $1 AND table_name = $2`
	if _, err := s.db.ExecContext(ctx, query, tenantID, tableName); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
