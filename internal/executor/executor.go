// Package executor runs validated SQL against a tenant's data files.
// Admission is bounded by a worker pool, every query carries a time
// budget and a row limit, and cross-tenant access is refused here even
// if earlier pipeline stages were bypassed.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alitto/pond/v2"

	"github.com/queryhub/queryhub/internal/catalog"
	"github.com/queryhub/queryhub/internal/observability"
	"github.com/queryhub/queryhub/internal/storage"
)

const (
	KindTimeout          = "timeout"
	KindRowLimitExceeded = "row_limit_exceeded"
	KindEngineRejected   = "engine_rejected"
)

// ErrCrossTenant marks a refused attempt to touch another tenant's
// data. It is never retried.
var ErrCrossTenant = errors.New("cross-tenant execution refused")

type ExecutionError struct {
	Kind   string
	Reason string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed (%s): %s", e.Kind, e.Reason)
}

type Result struct {
	Columns      []string
	Rows         [][]any
	ScannedFiles int
	ScannedBytes int64
	Elapsed      time.Duration
}

type Config struct {
	RowLimit       int
	QueryTimeout   time.Duration
	MaxConcurrency int
}

type Executor struct {
	catalog  catalog.Repository
	engine   engine
	pool     pond.ResultPool[engineResult]
	rowLimit int
	timeout  time.Duration
}

func New(repo catalog.Repository, store storage.ObjectStore, cfg Config) (*Executor, error) {
	if repo == nil {
		return nil, fmt.Errorf("catalog repository is required")
	}
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if cfg.RowLimit <= 0 {
		return nil, fmt.Errorf("row limit must be > 0")
	}
	if cfg.QueryTimeout <= 0 {
		return nil, fmt.Errorf("query timeout must be > 0")
	}
	if cfg.MaxConcurrency <= 0 {
		return nil, fmt.Errorf("max concurrency must be > 0")
	}
	return &Executor{
		catalog:  repo,
		engine:   &duckdbEngine{store: store},
		pool:     pond.NewResultPool[engineResult](cfg.MaxConcurrency),
		rowLimit: cfg.RowLimit,
		timeout:  cfg.QueryTimeout,
	}, nil
}

// Execute runs the statement against the table's data files. The row
// limit is probed with one extra row: overflow is an error, never a
// silently truncated result.
func (x *Executor) Execute(ctx context.Context, tenantID string, table catalog.TableDef, sqlText string) (Result, error) {
	if table.TenantID != tenantID || !catalog.OwnsPhysicalTable(tenantID, table.PhysicalName) {
		observability.IncrementTenantViolation()
		observability.ObserveExecution("cross_tenant")
		return Result{}, fmt.Errorf("table %q: %w", table.LogicalName, ErrCrossTenant)
	}

	dataFiles, err := x.catalog.ListTableFiles(ctx, tenantID, table.LogicalName)
	if err != nil {
		return Result{}, fmt.Errorf("list table files: %w", err)
	}
	if len(dataFiles) == 0 {
		observability.ObserveExecution("rejected")
		return Result{}, &ExecutionError{Kind: KindEngineRejected, Reason: fmt.Sprintf("table %q has no data files", table.LogicalName)}
	}

	tenantPrefix, err := storage.BuildTenantPrefix(tenantID)
	if err != nil {
		return Result{}, fmt.Errorf("build tenant prefix: %w", err)
	}
	files := make([]tableFile, 0, len(dataFiles))
	for _, dataFile := range dataFiles {
		if !strings.HasPrefix(dataFile.Path, tenantPrefix+"/") {
			observability.IncrementTenantViolation()
			observability.ObserveExecution("cross_tenant")
			return Result{}, fmt.Errorf("data file %q: %w", dataFile.Path, ErrCrossTenant)
		}
		files = append(files, tableFile{
			TableName:     table.PhysicalName,
			ObjectPath:    dataFile.Path,
			FileSizeBytes: dataFile.FileSizeBytes,
		})
	}

	queryCtx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	start := time.Now()
	task := x.pool.SubmitErr(func() (engineResult, error) {
		return x.engine.execute(queryCtx, engineRequest{
			SQL:      sqlText,
			RowLimit: x.rowLimit + 1,
			Files:    files,
		})
	})
	result, err := task.Wait()
	elapsed := time.Since(start)
	if err != nil {
		// A cancelled caller is not a timed-out query.
		if ctx.Err() != nil {
			observability.ObserveExecution("canceled")
			return Result{}, fmt.Errorf("execute query: %w", ctx.Err())
		}
		if queryCtx.Err() != nil {
			observability.ObserveExecution("timeout")
			return Result{}, &ExecutionError{Kind: KindTimeout, Reason: fmt.Sprintf("query exceeded %s budget", x.timeout)}
		}
		observability.ObserveExecution("rejected")
		return Result{}, &ExecutionError{Kind: KindEngineRejected, Reason: err.Error()}
	}
	if len(result.Rows) > x.rowLimit {
		observability.ObserveExecution("row_limit")
		return Result{}, &ExecutionError{Kind: KindRowLimitExceeded, Reason: fmt.Sprintf("result exceeds %d row limit", x.rowLimit)}
	}

	observability.ObserveExecution("ok")
	return Result{
		Columns:      result.Columns,
		Rows:         result.Rows,
		ScannedFiles: result.ScannedFiles,
		ScannedBytes: result.ScannedBytes,
		Elapsed:      elapsed,
	}, nil
}
