// Package resolve picks the table a question is about, either from an
// explicit hint or by embedding search over the tenant's metadata.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/queryhub/queryhub/internal/catalog"
	"github.com/queryhub/queryhub/internal/completion"
	"github.com/queryhub/queryhub/internal/metaindex"
	"github.com/queryhub/queryhub/internal/observability"
)

var ErrNoTable = errors.New("no table matches the question")

// Candidate is one near-miss surfaced to the caller for disambiguation.
type Candidate struct {
	TableName string  `json:"table_name"`
	Score     float64 `json:"score"`
}

// AmbiguousError reports that no candidate cleared the similarity
// threshold. Candidates are ordered best first.
type AmbiguousError struct {
	Candidates []Candidate
}

func (e *AmbiguousError) Error() string {
	names := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		names[i] = c.TableName
	}
	return fmt.Sprintf("question does not clearly match one table, candidates: %s", strings.Join(names, ", "))
}

// Resolution carries the chosen table and how it was chosen.
type Resolution struct {
	Table    catalog.TableDef
	Score    float64
	FromHint bool
}

type Config struct {
	SearchK       int
	MinSimilarity float64
}

type Resolver struct {
	catalog       catalog.Repository
	index         metaindex.Index
	embedder      completion.Client
	searchK       int
	minSimilarity float64
}

func NewResolver(repo catalog.Repository, index metaindex.Index, embedder completion.Client, cfg Config) (*Resolver, error) {
	if repo == nil {
		return nil, fmt.Errorf("catalog repository is required")
	}
	if index == nil {
		return nil, fmt.Errorf("metadata index is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if cfg.SearchK <= 0 {
		return nil, fmt.Errorf("search k must be > 0")
	}
	if cfg.MinSimilarity < 0 || cfg.MinSimilarity > 1 {
		return nil, fmt.Errorf("min similarity must be in [0, 1]")
	}
	return &Resolver{
		catalog:       repo,
		index:         index,
		embedder:      embedder,
		searchK:       cfg.SearchK,
		minSimilarity: cfg.MinSimilarity,
	}, nil
}

// Resolve returns the table the question refers to. A hint bypasses the
// search entirely; otherwise the tenant's metadata entries are ranked by
// embedding similarity and the best match above the threshold wins.
func (r *Resolver) Resolve(ctx context.Context, tenantID, question, hint string) (Resolution, error) {
	if hint = strings.TrimSpace(hint); hint != "" {
		table, err := r.catalog.GetTableByName(ctx, tenantID, hint)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				return Resolution{}, fmt.Errorf("hinted table %q: %w", hint, ErrNoTable)
			}
			return Resolution{}, fmt.Errorf("look up hinted table: %w", err)
		}
		return Resolution{Table: table, Score: 1, FromHint: true}, nil
	}

	vector, err := r.embedder.Embed(ctx, strings.TrimSpace(question))
	if err != nil {
		return Resolution{}, fmt.Errorf("embed question: %w", err)
	}

	matches, err := r.index.Search(ctx, tenantID, vector, r.searchK)
	if err != nil {
		return Resolution{}, fmt.Errorf("search metadata index: %w", err)
	}
	if len(matches) == 0 {
		return Resolution{}, ErrNoTable
	}
	for _, match := range matches {
		if match.Entry.TenantID != tenantID {
			observability.IncrementTenantViolation()
			return Resolution{}, fmt.Errorf("metadata entry for table %q belongs to another tenant", match.Entry.TableName)
		}
	}

	best := matches[0]
	if best.Score < r.minSimilarity {
		candidates := make([]Candidate, len(matches))
		for i, match := range matches {
			candidates[i] = Candidate{TableName: match.Entry.TableName, Score: match.Score}
		}
		return Resolution{}, &AmbiguousError{Candidates: candidates}
	}

	table, err := r.catalog.GetTableByName(ctx, tenantID, best.Entry.TableName)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			// Index entry outlived its catalog row; treat as no match.
			return Resolution{}, ErrNoTable
		}
		return Resolution{}, fmt.Errorf("look up resolved table: %w", err)
	}
	return Resolution{Table: table, Score: best.Score}, nil
}
