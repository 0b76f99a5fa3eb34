package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/queryhub/queryhub/internal/observability"
)

// FailoverStore serves from the primary backend and transparently falls
// back to the local backend when the primary is unreachable. Callers
// never see ErrUnavailable from Get or Put.
type FailoverStore struct {
	primary  Store
	fallback Store
	logger   *slog.Logger
}

func NewFailoverStore(primary, fallback Store, logger *slog.Logger) *FailoverStore {
	return &FailoverStore{primary: primary, fallback: fallback, logger: logger}
}

func (s *FailoverStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	entry, found, err := s.primary.Get(ctx, key)
	if err == nil {
		if found {
			observability.ObserveCacheLookup("hit")
		} else {
			observability.ObserveCacheLookup("miss")
		}
		return entry, found, nil
	}
	if !errors.Is(err, ErrUnavailable) {
		return Entry{}, false, err
	}
	s.failover(ctx, "get", err)
	entry, found, err = s.fallback.Get(ctx, key)
	if err != nil {
		observability.ObserveCacheLookup("error")
		return Entry{}, false, nil
	}
	if found {
		observability.ObserveCacheLookup("fallback_hit")
	} else {
		observability.ObserveCacheLookup("miss")
	}
	return entry, found, nil
}

func (s *FailoverStore) Put(ctx context.Context, key string, entry Entry, ttl time.Duration) error {
	err := s.primary.Put(ctx, key, entry, ttl)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrUnavailable) {
		return err
	}
	s.failover(ctx, "put", err)
	if err := s.fallback.Put(ctx, key, entry, ttl); err != nil {
		s.logger.WarnContext(ctx, "cache fallback put failed", "error", err)
	}
	return nil
}

// Invalidate targets both backends: entries must become unreachable
// even when one side is down.
func (s *FailoverStore) Invalidate(ctx context.Context, tenantID, tableName string) error {
	primaryErr := s.primary.Invalidate(ctx, tenantID, tableName)
	if primaryErr != nil && errors.Is(primaryErr, ErrUnavailable) {
		s.failover(ctx, "invalidate", primaryErr)
		primaryErr = nil
	}
	if err := s.fallback.Invalidate(ctx, tenantID, tableName); err != nil {
		s.logger.WarnContext(ctx, "cache fallback invalidate failed", "error", err)
	}
	return primaryErr
}

func (s *FailoverStore) failover(ctx context.Context, op string, err error) {
	observability.IncrementCacheFailover()
	s.logger.WarnContext(ctx, "cache primary unavailable, using local fallback", "op", op, "error", err)
}
