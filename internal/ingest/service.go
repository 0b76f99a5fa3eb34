// Package ingest turns uploaded CSV files into queryable tenant tables:
// parquet in the object store, a catalog row, a metadata index entry,
// and a cache invalidation for the affected table.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/queryhub/queryhub/internal/cache"
	"github.com/queryhub/queryhub/internal/catalog"
	"github.com/queryhub/queryhub/internal/completion"
	"github.com/queryhub/queryhub/internal/metaindex"
	"github.com/queryhub/queryhub/internal/storage"
)

// ErrInvalidUpload marks failures caused by the uploaded file itself
// rather than by the service, so callers can report them as client
// errors.
var ErrInvalidUpload = errors.New("invalid upload")

type Config struct {
	SampleRows  int
	MaxFileSize int64
}

type Service struct {
	catalog  catalog.Repository
	store    storage.ObjectStore
	index    metaindex.Index
	embedder completion.Client
	cache    cache.Store
	logger   *slog.Logger

	sampleRows  int
	maxFileSize int64
}

func NewService(repo catalog.Repository, store storage.ObjectStore, index metaindex.Index, embedder completion.Client, cacheStore cache.Store, logger *slog.Logger, cfg Config) (*Service, error) {
	if repo == nil || store == nil || index == nil || embedder == nil || cacheStore == nil {
		return nil, fmt.Errorf("all ingest dependencies are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.SampleRows <= 0 {
		return nil, fmt.Errorf("sample rows must be > 0")
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("max file size must be > 0")
	}
	return &Service{
		catalog:     repo,
		store:       store,
		index:       index,
		embedder:    embedder,
		cache:       cacheStore,
		logger:      logger,
		sampleRows:  cfg.SampleRows,
		maxFileSize: cfg.MaxFileSize,
	}, nil
}

// UploadCSV creates or replaces a tenant table from a CSV stream.
// Re-uploading a name replaces the previous data and regenerates the
// metadata entry.
func (s *Service) UploadCSV(ctx context.Context, tenantID, logicalName, description string, r io.Reader) (catalog.TableDef, error) {
	if err := catalog.ValidateName(logicalName, "table name"); err != nil {
		return catalog.TableDef{}, fmt.Errorf("%w: %v", ErrInvalidUpload, err)
	}

	limited := io.LimitReader(r, s.maxFileSize+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return catalog.TableDef{}, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(body)) > s.maxFileSize {
		return catalog.TableDef{}, fmt.Errorf("%w: file exceeds %d byte limit", ErrInvalidUpload, s.maxFileSize)
	}

	parsed, err := ParseCSV(bytes.NewReader(body), s.sampleRows)
	if err != nil {
		return catalog.TableDef{}, fmt.Errorf("%w: %v", ErrInvalidUpload, err)
	}

	parquetBytes, err := encodeParquet(logicalName, parsed.Columns, parsed.Records)
	if err != nil {
		return catalog.TableDef{}, err
	}

	// Drop any previous version so the table is a full replace, never a
	// mix of old and new files.
	if err := s.removeTableData(ctx, tenantID, logicalName); err != nil {
		return catalog.TableDef{}, err
	}

	objectPath, err := storage.BuildDataFilePath(tenantID, logicalName, 1)
	if err != nil {
		return catalog.TableDef{}, err
	}
	if _, err := s.store.Put(ctx, objectPath, bytes.NewReader(parquetBytes), int64(len(parquetBytes)), storage.PutOptions{ContentType: "application/octet-stream"}); err != nil {
		return catalog.TableDef{}, fmt.Errorf("store parquet file: %w", err)
	}

	table, err := s.catalog.UpsertTable(ctx, catalog.UpsertTableInput{
		TenantID:    tenantID,
		LogicalName: logicalName,
		Columns:     parsed.Columns,
		RowCount:    int64(len(parsed.Records)),
	})
	if err != nil {
		return catalog.TableDef{}, err
	}
	if _, err := s.catalog.RegisterDataFile(ctx, catalog.RegisterDataFileInput{
		TenantID:      tenantID,
		TableID:       table.TableID,
		Path:          objectPath,
		RecordCount:   int64(len(parsed.Records)),
		FileSizeBytes: int64(len(parquetBytes)),
	}); err != nil {
		return catalog.TableDef{}, err
	}

	if err := s.indexTable(ctx, tenantID, logicalName, description, parsed.Columns); err != nil {
		return catalog.TableDef{}, err
	}

	if err := s.cache.Invalidate(ctx, tenantID, logicalName); err != nil {
		s.logger.WarnContext(ctx, "cache invalidation failed after upload",
			"tenant", tenantID, "table", logicalName, "error", err)
	}

	s.logger.InfoContext(ctx, "table uploaded",
		"tenant", tenantID, "table", logicalName,
		"rows", len(parsed.Records), "columns", len(parsed.Columns))
	return table, nil
}

// DeleteTable removes a table everywhere it exists: catalog, object
// store, metadata index, and cache.
func (s *Service) DeleteTable(ctx context.Context, tenantID, logicalName string) (bool, error) {
	deleted, err := s.catalog.DeleteTableByName(ctx, tenantID, logicalName)
	if err != nil {
		return false, err
	}
	if !deleted {
		return false, nil
	}

	if err := s.index.Delete(ctx, tenantID, logicalName); err != nil && !errors.Is(err, metaindex.ErrNotFound) {
		return false, fmt.Errorf("delete metadata entry: %w", err)
	}
	if err := s.cache.Invalidate(ctx, tenantID, logicalName); err != nil {
		return false, fmt.Errorf("invalidate cached answers: %w", err)
	}

	// Data files go last and best-effort: the catalog and metadata no
	// longer reference them, so a failed object delete only leaves
	// orphans, never a queryable table.
	prefix, err := storage.BuildTablePrefix(tenantID, logicalName)
	if err != nil {
		return false, err
	}
	if _, err := s.store.DeletePrefix(ctx, prefix); err != nil {
		s.logger.WarnContext(ctx, "object deletion failed after table delete",
			"tenant", tenantID, "table", logicalName, "error", err)
	}

	s.logger.InfoContext(ctx, "table deleted", "tenant", tenantID, "table", logicalName)
	return true, nil
}

func (s *Service) removeTableData(ctx context.Context, tenantID, logicalName string) error {
	_, err := s.catalog.GetTableByName(ctx, tenantID, logicalName)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	prefix, err := storage.BuildTablePrefix(tenantID, logicalName)
	if err != nil {
		return err
	}
	if _, err := s.store.DeletePrefix(ctx, prefix); err != nil {
		return fmt.Errorf("remove previous table objects: %w", err)
	}
	if _, err := s.catalog.DeleteTableByName(ctx, tenantID, logicalName); err != nil {
		return err
	}
	return nil
}

// indexTable regenerates the table's metadata entry, embedding the
// description and schema text so questions can find it.
func (s *Service) indexTable(ctx context.Context, tenantID, logicalName, description string, columns []catalog.Column) error {
	schemaText := BuildSchemaText(logicalName, columns)
	embeddingInput := schemaText
	if strings.TrimSpace(description) != "" {
		embeddingInput = strings.TrimSpace(description) + "\n" + schemaText
	}
	vector, err := s.embedder.Embed(ctx, embeddingInput)
	if err != nil {
		return fmt.Errorf("embed table metadata: %w", err)
	}
	if err := s.index.Upsert(ctx, metaindex.Entry{
		TenantID:    tenantID,
		TableName:   logicalName,
		Description: strings.TrimSpace(description),
		SchemaText:  schemaText,
		Embedding:   vector,
	}); err != nil {
		return fmt.Errorf("upsert metadata entry: %w", err)
	}
	return nil
}

// BuildSchemaText renders a compact human-readable schema summary used
// for embeddings and disambiguation messages.
func BuildSchemaText(tableName string, columns []catalog.Column) string {
	parts := make([]string, len(columns))
	for i, column := range columns {
		part := column.Name + " " + column.Type
		if len(column.SampleValues) > 0 {
			part += " (e.g. " + strings.Join(column.SampleValues, ", ") + ")"
		}
		parts[i] = part
	}
	return "table " + tableName + ": " + strings.Join(parts, "; ")
}
