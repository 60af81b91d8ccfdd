package storage

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/dharsanguruparan/ragctl/internal/model"
)

// DefaultMemoryTTL matches the lifetime of the tokens the server issues.
const DefaultMemoryTTL = 24 * time.Hour

// MemoryStore keeps the record in process memory, so it only outlives a
// logout/login cycle within one process.
type MemoryStore struct {
	cache *cache.Cache
	key   string
}

// NewMemoryStore constructs a MemoryStore whose record expires after ttl
// (DefaultMemoryTTL when ttl <= 0).
func NewMemoryStore(key string, ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultMemoryTTL
	}
	if key == "" {
		key = DefaultKey
	}
	return &MemoryStore{
		cache: cache.New(ttl, 10*time.Minute),
		key:   key,
	}
}

// Get returns a copy of the stored record.
func (m *MemoryStore) Get(ctx context.Context) (model.Record, error) {
	if x, found := m.cache.Get(m.key); found {
		return x.(model.Record), nil
	}
	return model.Record{}, ErrNotFound
}

// Set stores the record with the default expiration.
func (m *MemoryStore) Set(ctx context.Context, rec model.Record) error {
	m.cache.Set(m.key, rec, cache.DefaultExpiration)
	return nil
}

// Clear drops the record.
func (m *MemoryStore) Clear(ctx context.Context) error {
	m.cache.Delete(m.key)
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
