package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/queryhub/queryhub/internal/metaindex"
)

// Store keeps metadata entries in Postgres. Embeddings are stored as a
// JSON array and ranked in process; tenant corpora are small enough
// that a linear scan beats maintaining an external vector service.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Upsert(ctx context.Context, entry metaindex.Entry) error {
	embeddingJSON, err := json.Marshal(entry.Embedding)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}

	query := `
INSERT INTO qh_metadata (tenant_id, table_name, description, schema_text, embedding)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (tenant_id, table_name)
DO UPDATE SET description = EXCLUDED.description, schema_text = EXCLUDED.schema_text, embedding = EXCLUDED.embedding, updated_at = now()`
	if _, err := s.db.ExecContext(ctx, query, entry.TenantID, entry.TableName, entry.Description, entry.SchemaText, embeddingJSON); err != nil {
		return fmt.Errorf("upsert metadata entry: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, tenantID, tableName string) error {
	result, err := s.db.ExecContext(ctx, `
DELETE FROM qh_metadata
WHERE tenant_id = $1 AND table_name = $2`, tenantID, tableName)
	if err != nil {
		return fmt.Errorf("delete metadata entry: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete metadata rows affected: %w", err)
	}
	if affected == 0 {
		return metaindex.ErrNotFound
	}
	return nil
}

func (s *Store) Get(ctx context.Context, tenantID, tableName string) (metaindex.Entry, error) {
	query := `
SELECT tenant_id, table_name, description, schema_text, embedding
FROM qh_metadata
WHERE tenant_id = $1 AND table_name = $2`

	entry, err := scanEntry(s.db.QueryRowContext(ctx, query, tenantID, tableName))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return metaindex.Entry{}, metaindex.ErrNotFound
		}
		return metaindex.Entry{}, fmt.Errorf("get metadata entry: %w", err)
	}
	return entry, nil
}

func (s *Store) Search(ctx context.Context, tenantID string, query []float32, k int) ([]metaindex.Match, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT tenant_id, table_name, description, schema_text, embedding
FROM qh_metadata
WHERE tenant_id = $1
ORDER BY table_name ASC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load metadata entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]metaindex.Entry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan metadata row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate metadata rows: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return metaindex.RankEntries(entries, query, k)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (metaindex.Entry, error) {
	var entry metaindex.Entry
	var embeddingJSON []byte
	if err := row.Scan(
		&entry.TenantID,
		&entry.TableName,
		&entry.Description,
		&entry.SchemaText,
		&embeddingJSON,
	); err != nil {
		return metaindex.Entry{}, err
	}
	if len(embeddingJSON) > 0 {
		if err := json.Unmarshal(embeddingJSON, &entry.Embedding); err != nil {
			return metaindex.Entry{}, fmt.Errorf("unmarshal embedding: %w", err)
		}
	}
	return entry, nil
}
