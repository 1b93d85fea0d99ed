package fallback

import (
	"context"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/maypok86/otter/v2/stats"
)

const (
	defaultMemoryCapacity = 1024
	defaultMemoryTTL      = 5 * time.Minute
)

// MemoryStore keeps fallback responses in an in-process otter cache with
// write-based expiry, so reads never extend a stale entry's life.
type MemoryStore struct {
	cache *otter.Cache[string, interface{}]
}

// NewMemoryStore builds an in-memory store. capacity bounds the entry count;
// defaultTTL applies to entries written without an explicit TTL.
func NewMemoryStore(capacity int, defaultTTL time.Duration) (*MemoryStore, error) {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	if defaultTTL <= 0 {
		defaultTTL = defaultMemoryTTL
	}

	opts := &otter.Options[string, interface{}]{
		MaximumSize:      capacity,
		StatsRecorder:    stats.NewCounter(),
		ExpiryCalculator: otter.ExpiryWriting[string, interface{}](defaultTTL),
	}

	cache, err := otter.New(opts)
	if err != nil {
		return nil, err
	}

	return &MemoryStore{cache: cache}, nil
}

// Get returns the response stored under key, or ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, key string) (interface{}, error) {
	value, ok := s.cache.GetIfPresent(key)
	if !ok {
		return nil, ErrNotFound
	}
	return value, nil
}

// Set stores value under key. A positive ttl overrides the store default.
func (s *MemoryStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	s.cache.Set(key, value)
	if ttl > 0 {
		s.cache.SetExpiresAfter(key, ttl)
	}
	return nil
}

// Delete removes the response stored under key.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.cache.Invalidate(key)
	return nil
}

// Close stops the cache's background goroutines.
func (s *MemoryStore) Close() error {
	s.cache.StopAllGoroutines()
	return nil
}
