package cache

import (
	"context"
	"path"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryBackend is an in-process backend. Suited to single-instance
// deployments and tests; expired entries are swept in the background.
type MemoryBackend struct {
	store *gocache.Cache
}

// NewMemoryBackend creates a memory backend sweeping expired entries
// at the given interval.
func NewMemoryBackend(cleanupInterval time.Duration) *MemoryBackend {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	return &MemoryBackend{
		store: gocache.New(gocache.NoExpiration, cleanupInterval),
	}
}

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := b.store.Get(key)
	if !ok {
		return nil, false, nil
	}
	return v.([]byte), true, nil
}

func (b *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	// Copy: entries are immutable once written.
	buf := make([]byte, len(value))
	copy(buf, value)
	b.store.Set(key, buf, ttl)
	return nil
}

func (b *MemoryBackend) DeleteMatching(_ context.Context, pattern string) (int, error) {
	removed := 0
	for key, item := range b.store.Items() {
		if item.Expired() {
			continue
		}
		if ok, _ := path.Match(pattern, key); ok {
			b.store.Delete(key)
			removed++
		}
	}
	return removed, nil
}

func (b *MemoryBackend) Close() error {
	b.store.Flush()
	return nil
}
