package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const (
	// Default lifetime of an entry in the in-memory cache.
	DefaultMemoryExpiration = 1 * time.Hour
	// Default interval between purges of expired entries.
	DefaultMemoryCleanupInterval = 10 * time.Minute
)

// MemoryCache implements Cache interface with a process-local store that
// expires entries.
type MemoryCache struct {
	store      *gocache.Cache
	expiration time.Duration
	cleanup    time.Duration
}

type MemoryCacheOption func(*MemoryCache)

// Set the lifetime of cached entries; a negative value means entries never
// expire.
func WithMemoryExpiration(expiration time.Duration) MemoryCacheOption {
	return func(m *MemoryCache) {
		m.expiration = expiration
	}
}

// Set the interval between purges of expired entries.
func WithMemoryCleanupInterval(interval time.Duration) MemoryCacheOption {
	return func(m *MemoryCache) {
		m.cleanup = interval
	}
}

// Return a new Cache implementation that keeps values in process memory.
func NewMemoryCache(options ...MemoryCacheOption) *MemoryCache {
	cache := &MemoryCache{
		expiration: DefaultMemoryExpiration,
		cleanup:    DefaultMemoryCleanupInterval,
	}
	for _, option := range options {
		option(cache)
	}
	expiration := cache.expiration
	if expiration < 0 {
		expiration = gocache.NoExpiration
	}
	cache.store = gocache.New(expiration, cache.cleanup)
	return cache
}

// Returns the string value stored under key, if present, or an empty string.
func (m *MemoryCache) GetValue(_ context.Context, key string) (string, error) {
	value, ok := m.store.Get(key)
	if !ok {
		return "", nil
	}
	if s, ok := value.(string); ok {
		return s, nil
	}
	return "", nil
}

// Store the string key:value pair with the default expiration.
func (m *MemoryCache) SetValue(_ context.Context, key string, value string) error {
	m.store.SetDefault(key, value)
	return nil
}

// Returns the number of entries held, including any that have expired but
// have not been purged.
func (m *MemoryCache) Len() int {
	return m.store.ItemCount()
}
