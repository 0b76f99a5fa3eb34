// Package orchestrator sequences one question through cache probe,
// intent classification, table resolution, SQL generation with bounded
// repair, validation, execution, and answer formatting.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/queryhub/queryhub/internal/answer"
	"github.com/queryhub/queryhub/internal/cache"
	"github.com/queryhub/queryhub/internal/catalog"
	"github.com/queryhub/queryhub/internal/executor"
	"github.com/queryhub/queryhub/internal/intent"
	"github.com/queryhub/queryhub/internal/observability"
	"github.com/queryhub/queryhub/internal/resolve"
	"github.com/queryhub/queryhub/internal/sqlcheck"
	"github.com/queryhub/queryhub/internal/sqlgen"
)

// Request is one immutable question from one tenant.
type Request struct {
	TenantID  string
	Question  string
	TableHint string
}

// Response is the full answer bundle. Cached responses return the same
// bundle byte for byte.
type Response struct {
	Answer    string
	SQL       string
	TableName string
	Columns   []string
	Rows      [][]any
	FromCache bool
	Attempts  int
	Elapsed   time.Duration
}

type Resolver interface {
	Resolve(ctx context.Context, tenantID, question, hint string) (resolve.Resolution, error)
}

type Executor interface {
	Execute(ctx context.Context, tenantID string, table catalog.TableDef, sqlText string) (executor.Result, error)
}

type Dependencies struct {
	Classifier intent.Classifier
	Resolver   Resolver
	Generator  sqlgen.Generator
	Executor   Executor
	Formatter  answer.Formatter
	Cache      cache.Store
	Logger     *slog.Logger
}

type Config struct {
	MaxAttempts       int
	GenerationTimeout time.Duration
	CacheTTL          time.Duration
}

type Orchestrator struct {
	classifier intent.Classifier
	resolver   Resolver
	generator  sqlgen.Generator
	executor   Executor
	formatter  answer.Formatter
	cache      cache.Store
	logger     *slog.Logger

	maxAttempts int
	genTimeout  time.Duration
	cacheTTL    time.Duration
}

func New(deps Dependencies, cfg Config) (*Orchestrator, error) {
	if deps.Classifier == nil || deps.Resolver == nil || deps.Generator == nil ||
		deps.Executor == nil || deps.Formatter == nil || deps.Cache == nil {
		return nil, fmt.Errorf("all pipeline dependencies are required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("max attempts must be >= 1")
	}
	if cfg.GenerationTimeout <= 0 {
		return nil, fmt.Errorf("generation timeout must be > 0")
	}
	if cfg.CacheTTL <= 0 {
		return nil, fmt.Errorf("cache ttl must be > 0")
	}
	return &Orchestrator{
		classifier:  deps.Classifier,
		resolver:    deps.Resolver,
		generator:   deps.Generator,
		executor:    deps.Executor,
		formatter:   deps.Formatter,
		cache:       deps.Cache,
		logger:      deps.Logger,
		maxAttempts: cfg.MaxAttempts,
		genTimeout:  cfg.GenerationTimeout,
		cacheTTL:    cfg.CacheTTL,
	}, nil
}

// Handle runs the full pipeline for one request. The cache is written
// only after every stage has succeeded, so an abandoned or failed
// request never leaves a partial entry behind.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (Response, error) {
	start := time.Now()

	if req.TableHint != "" {
		if resp, ok, err := o.probeCache(ctx, req, req.TableHint); err != nil {
			return Response{}, err
		} else if ok {
			observability.ObservePipeline("cache_hit", time.Since(start))
			return resp, nil
		}
	}

	kind, err := o.classifier.Classify(ctx, req.Question)
	if err != nil {
		observability.ObservePipeline("error", time.Since(start))
		return Response{}, fmt.Errorf("classify question: %w", err)
	}
	if !kind.Supported() {
		observability.ObservePipeline("unsupported", time.Since(start))
		return Response{}, ErrUnsupportedIntent
	}

	resolution, err := o.resolver.Resolve(ctx, req.TenantID, req.Question, req.TableHint)
	if err != nil {
		observability.ObservePipeline("unresolved", time.Since(start))
		return Response{}, err
	}
	table := resolution.Table

	// Without a hint the key could not be computed up front; re-probe
	// now that the table is known.
	if req.TableHint == "" {
		if resp, ok, err := o.probeCache(ctx, req, table.LogicalName); err != nil {
			return Response{}, err
		} else if ok {
			observability.ObservePipeline("cache_hit", time.Since(start))
			return resp, nil
		}
	}

	validated, attempts, err := o.generateWithRepair(ctx, req, table)
	if err != nil {
		observability.ObservePipeline("generation_failed", time.Since(start))
		return Response{}, err
	}

	result, err := o.executor.Execute(ctx, req.TenantID, table, validated)
	if err != nil {
		observability.ObservePipeline("execution_failed", time.Since(start))
		return Response{}, err
	}

	summary, err := o.formatter.Format(ctx, answer.Request{
		Question:  req.Question,
		TableName: table.LogicalName,
		SQL:       validated,
		Columns:   result.Columns,
		Rows:      result.Rows,
	})
	if err != nil {
		observability.ObservePipeline("error", time.Since(start))
		return Response{}, fmt.Errorf("format answer: %w", err)
	}

	key := cache.Key(req.TenantID, req.Question, table.LogicalName)
	entry := cache.Entry{
		TenantID:  req.TenantID,
		Question:  cache.NormalizeQuestion(req.Question),
		TableName: table.LogicalName,
		SQL:       validated,
		Columns:   result.Columns,
		Rows:      result.Rows,
		Answer:    summary,
	}
	if err := o.cache.Put(ctx, key, entry, o.cacheTTL); err != nil {
		// Cache trouble never fails a computed answer.
		o.logger.WarnContext(ctx, "cache put failed", "error", err)
	}

	observability.ObservePipeline("ok", time.Since(start))
	return Response{
		Answer:    summary,
		SQL:       validated,
		TableName: table.LogicalName,
		Columns:   result.Columns,
		Rows:      result.Rows,
		Attempts:  attempts,
		Elapsed:   time.Since(start),
	}, nil
}

// probeCache returns a cached bundle when present. A hit whose stored
// tenant differs from the requester aborts the request outright.
func (o *Orchestrator) probeCache(ctx context.Context, req Request, tableName string) (Response, bool, error) {
	key := cache.Key(req.TenantID, req.Question, tableName)
	entry, found, err := o.cache.Get(ctx, key)
	if err != nil {
		o.logger.WarnContext(ctx, "cache get failed", "error", err)
		return Response{}, false, nil
	}
	if !found {
		return Response{}, false, nil
	}
	if entry.TenantID != req.TenantID {
		observability.IncrementTenantViolation()
		o.logger.ErrorContext(ctx, "cache entry tenant mismatch",
			"tenant", req.TenantID, "entry_tenant", entry.TenantID)
		return Response{}, false, fmt.Errorf("cached entry: %w", ErrCrossTenant)
	}
	return Response{
		Answer:    entry.Answer,
		SQL:       entry.SQL,
		TableName: entry.TableName,
		Columns:   entry.Columns,
		Rows:      entry.Rows,
		FromCache: true,
	}, true, nil
}

// generateWithRepair runs the bounded generate/validate loop. Each
// rejection reason is fed verbatim into the next attempt's prompt.
func (o *Orchestrator) generateWithRepair(ctx context.Context, req Request, table catalog.TableDef) (string, int, error) {
	priorError := ""
	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		observability.IncrementGenerationAttempt()

		genCtx, cancel := context.WithTimeout(ctx, o.genTimeout)
		candidate, err := o.generator.Generate(genCtx, sqlgen.Request{
			Question:   req.Question,
			Table:      table,
			PriorError: priorError,
		})
		cancel()
		if err != nil {
			// Caller cancellation is not a timeout. Only the per-attempt
			// deadline maps to ErrGenerationTimeout.
			if ctx.Err() != nil {
				return "", attempt, fmt.Errorf("generate sql: %w", ctx.Err())
			}
			if errors.Is(err, context.DeadlineExceeded) || genCtx.Err() != nil {
				return "", attempt, ErrGenerationTimeout
			}
			return "", attempt, fmt.Errorf("generate sql: %w", err)
		}

		validated, err := sqlcheck.Validate(candidate, table)
		if err == nil {
			return validated, attempt, nil
		}

		var vErr *sqlcheck.ValidationError
		if !errors.As(err, &vErr) {
			return "", attempt, fmt.Errorf("validate sql: %w", err)
		}
		if vErr.Code == sqlcheck.CodeCrossTenant {
			return "", attempt, fmt.Errorf("generated sql: %w", ErrCrossTenant)
		}
		priorError = vErr.Reason
		o.logger.InfoContext(ctx, "sql candidate rejected, retrying",
			"attempt", attempt, "code", vErr.Code, "reason", vErr.Reason)
	}
	observability.IncrementGenerationExhausted()
	return "", o.maxAttempts, fmt.Errorf("last rejection: %s: %w", priorError, ErrGenerationExhausted)
}
