package cache

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Config tunes the overlay.
type Config struct {
	// Namespace prefixes every key, isolating this application's
	// entries on a shared backend.
	Namespace string `yaml:"namespace"`

	// DefaultTTL applies when the caller does not specify one.
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Namespace: "rdsguard", DefaultTTL: 30 * time.Second}
}

// Stats is a point-in-time snapshot of overlay counters.
type Stats struct {
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Invalidations int64   `json:"invalidations"`
	BackendErrors int64   `json:"backend_errors"`
	HitRate       float64 `json:"hit_rate"`
}

// Overlay is the read-through cache in front of the pool. Only
// read-only query results belong here; the session layer routes
// mutations past it and invalidates by entity on success. A failing
// backend degrades the overlay to pass-through: the loader runs and
// the caller never sees the cache error.
type Overlay struct {
	backend Backend
	cfg     Config
	logger  *zap.Logger
	sf      singleflight.Group

	hits          atomic.Int64
	misses        atomic.Int64
	invalidations atomic.Int64
	backendErrors atomic.Int64
}

// New creates an overlay over the given backend.
func New(backend Backend, cfg Config, logger *zap.Logger) *Overlay {
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultConfig().Namespace
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultConfig().DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Overlay{backend: backend, cfg: cfg, logger: logger}
}

// Read returns the cached value for the fingerprint, or falls back to
// the loader and stores its result. Concurrent misses on the same key
// share one loader call. The returned bool reports a cache hit.
func (o *Overlay) Read(ctx context.Context, fp Fingerprint, ttl time.Duration, loader func(ctx context.Context) ([]byte, error)) ([]byte, bool, error) {
	if ttl <= 0 {
		ttl = o.cfg.DefaultTTL
	}
	key := o.cfg.Namespace + ":" + fp.Key()

	stored, found, err := o.backend.Get(ctx, key)
	if err != nil {
		o.backendErrors.Add(1)
		o.logger.Warn("cache get failed, falling back to loader",
			zap.String("key", key), zap.Error(err))
		value, err := loader(ctx)
		return value, false, err
	}
	if found {
		value, err := decode(stored)
		if err == nil {
			o.hits.Add(1)
			return value, true, nil
		}
		// Undecodable entry: drop it and reload.
		o.logger.Warn("cache entry corrupt, reloading", zap.String("key", key), zap.Error(err))
		_, _ = o.backend.DeleteMatching(ctx, key)
	}

	o.misses.Add(1)
	v, err, _ := o.sf.Do(key, func() (any, error) {
		value, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		if err := o.backend.Set(ctx, key, encode(value), ttl); err != nil {
			o.backendErrors.Add(1)
			o.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
		}
		return value, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.([]byte), false, nil
}

// Invalidate removes every entry whose fingerprint touches the given
// entity. Called after a successful mutation.
func (o *Overlay) Invalidate(ctx context.Context, entity string) (int, error) {
	pattern := o.cfg.Namespace + ":" + entity + ":*"
	n, err := o.backend.DeleteMatching(ctx, pattern)
	if err != nil {
		o.backendErrors.Add(1)
		o.logger.Warn("cache invalidation failed",
			zap.String("entity", entity), zap.Error(err))
		return n, err
	}
	o.invalidations.Add(int64(n))
	o.logger.Debug("cache invalidated",
		zap.String("entity", entity), zap.Int("entries", n))
	return n, nil
}

// Stats returns overlay counters.
func (o *Overlay) Stats() Stats {
	hits := o.hits.Load()
	misses := o.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{
		Hits:          hits,
		Misses:        misses,
		Invalidations: o.invalidations.Load(),
		BackendErrors: o.backendErrors.Load(),
		HitRate:       rate,
	}
}
