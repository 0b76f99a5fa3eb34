// Package cache stores fully computed query responses keyed by
// (tenant, normalized question, table). Entries are immutable bundles;
// a write always replaces the whole entry.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// ErrUnavailable marks a cache backend that cannot currently serve.
// Callers degrade silently and never surface it to the user.
var ErrUnavailable = errors.New("cache unavailable")

// Entry is one cached pipeline result. TenantID is stored redundantly
// with the key so reads can double-check ownership.
type Entry struct {
	TenantID  string    `json:"tenant_id"`
	Question  string    `json:"question"`
	TableName string    `json:"table_name"`
	SQL       string    `json:"sql"`
	Columns   []string  `json:"columns"`
	Rows      [][]any   `json:"rows"`
	Answer    string    `json:"answer"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Put(ctx context.Context, key string, entry Entry, ttl time.Duration) error
	Invalidate(ctx context.Context, tenantID, tableName string) error
}

// Key derives the deterministic cache key for one request.
func Key(tenantID, question, tableName string) string {
	sum := sha256.Sum256([]byte(tenantID + "\n" + NormalizeQuestion(question) + "\n" + tableName))
	return hex.EncodeToString(sum[:])
}

// NormalizeQuestion canonicalizes a question so trivial phrasing
// differences share one cache slot.
func NormalizeQuestion(question string) string {
	lowered := strings.ToLower(strings.TrimSpace(question))
	lowered = strings.TrimRight(lowered, "?!. ")
	return strings.Join(strings.Fields(lowered), " ")
}
