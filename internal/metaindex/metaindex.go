// Package metaindex stores per-table schema descriptions together with
// an embedding vector and answers nearest-table searches for a tenant.
package metaindex

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
)

var ErrNotFound = errors.New("metadata entry not found")

// Entry describes one tenant table for retrieval purposes. The text
// fields feed prompt construction; Embedding is the vector computed from
// them at ingest time.
type Entry struct {
	TenantID    string
	TableName   string
	Description string
	SchemaText  string
	Embedding   []float32
}

// Match is a search hit with its cosine similarity score.
type Match struct {
	Entry Entry
	Score float64
}

type Index interface {
	Upsert(ctx context.Context, entry Entry) error
	Delete(ctx context.Context, tenantID, tableName string) error
	Get(ctx context.Context, tenantID, tableName string) (Entry, error)
	Search(ctx context.Context, tenantID string, query []float32, k int) ([]Match, error)
}

// CosineSimilarity returns the cosine of the angle between two vectors,
// or an error when dimensions differ or either vector is zero.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("embedding dimension mismatch: %d vs %d", len(a), len(b))
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, fmt.Errorf("zero-magnitude embedding")
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// RankEntries scores every entry against the query vector and returns
// the top k matches. Ties break on table name so results are stable
// across runs.
func RankEntries(entries []Entry, query []float32, k int) ([]Match, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be > 0")
	}
	matches := make([]Match, 0, len(entries))
	for _, entry := range entries {
		score, err := CosineSimilarity(entry.Embedding, query)
		if err != nil {
			return nil, fmt.Errorf("score table %q: %w", entry.TableName, err)
		}
		matches = append(matches, Match{Entry: entry, Score: score})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Entry.TableName < matches[j].Entry.TableName
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}
