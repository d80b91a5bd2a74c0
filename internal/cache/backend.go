package cache

import (
	"context"
	"time"
)

// Backend is the cache store contract. Implementations must be safe
// for concurrent use.
type Backend interface {
	// Get returns the stored value and whether the key was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value with a TTL. A zero TTL means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// DeleteMatching removes every key matching the glob pattern and
	// returns how many were removed.
	DeleteMatching(ctx context.Context, pattern string) (int, error)

	Close() error
}
