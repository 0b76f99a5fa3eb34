package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// LocalStore keeps entries in process memory. It backs up the primary
// store during outages; entries are not shared across processes.
type LocalStore struct {
	cache *ttlcache.Cache[string, Entry]

	mu   sync.RWMutex
	keys map[string]map[string]map[string]struct{} // tenant -> table -> keys
}

func NewLocalStore(defaultTTL time.Duration, capacity uint64) *LocalStore {
	c := ttlcache.New(
		ttlcache.WithTTL[string, Entry](defaultTTL),
		ttlcache.WithCapacity[string, Entry](capacity),
	)
	go c.Start()
	return &LocalStore{
		cache: c,
		keys:  make(map[string]map[string]map[string]struct{}),
	}
}

func (s *LocalStore) Get(_ context.Context, key string) (Entry, bool, error) {
	item := s.cache.Get(key)
	if item == nil {
		return Entry{}, false, nil
	}
	return item.Value(), true, nil
}

func (s *LocalStore) Put(_ context.Context, key string, entry Entry, ttl time.Duration) error {
	entry.CreatedAt = time.Now().UTC()
	entry.ExpiresAt = entry.CreatedAt.Add(ttl)
	s.cache.Set(key, entry, ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	tables, ok := s.keys[entry.TenantID]
	if !ok {
		tables = make(map[string]map[string]struct{})
		s.keys[entry.TenantID] = tables
	}
	keys, ok := tables[entry.TableName]
	if !ok {
		keys = make(map[string]struct{})
		tables[entry.TableName] = keys
	}
	keys[key] = struct{}{}
	return nil
}

func (s *LocalStore) Invalidate(_ context.Context, tenantID, tableName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tables, ok := s.keys[tenantID]
	if !ok {
		return nil
	}
	for key := range tables[tableName] {
		s.cache.Delete(key)
	}
	delete(tables, tableName)
	return nil
}

func (s *LocalStore) Stop() {
	s.cache.Stop()
}
