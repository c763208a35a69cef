package cache

import (
	"context"
	"errors"
	"time"
)

// LayeredCache implements a two-level cache: L1 in memory, L2 any persistent Service
// (sqlite or Redis). Writes go through both; reads fall back to L2 and backfill L1.
type LayeredCache struct {
	memCache    *MemoryCache
	persistent  Service
	backfillTTL time.Duration
}

func NewLayeredCache(persistent Service, opts ...LayeredOption) *LayeredCache {
	cfg := &LayeredConfig{
		BackfillTTL: time.Minute,
	}

	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Memory == nil {
		cfg.Memory = NewMemoryCache()
	}

	return &LayeredCache{
		memCache:    cfg.Memory,
		persistent:  persistent,
		backfillTTL: cfg.BackfillTTL,
	}
}

// Memory exposes L1.
func (lc *LayeredCache) Memory() *MemoryCache { return lc.memCache }

// Persistent exposes L2.
func (lc *LayeredCache) Persistent() Service { return lc.persistent }

// Set writes L2 first so a failed persistent write never leaves an L1-only entry.
func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if err := lc.persistent.Set(ctx, key, value, expiration); err != nil {
		return err
	}
	return lc.memCache.Set(ctx, key, value, expiration)
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	_, err := lc.GetWithTier(ctx, key, dest)
	return err
}

// GetWithTier is Get that also reports which tier answered ("memory" or "persistent").
func (lc *LayeredCache) GetWithTier(ctx context.Context, key string, dest interface{}) (string, error) {
	if err := lc.memCache.Get(ctx, key, dest); err == nil {
		return TierMemory, nil
	}

	if err := lc.persistent.Get(ctx, key, dest); err != nil {
		return "", err
	}

	ttl := lc.backfillTTL
	if r, ok := lc.persistent.(TTLReader); ok {
		left, err := r.TTL(ctx, key)
		switch {
		case errors.Is(err, ErrCacheMiss):
			return "", ErrCacheMiss
		case err == nil && left > 0:
			ttl = left
		}
	}
	_ = lc.memCache.Set(ctx, key, dest, ttl)
	return TierPersistent, nil
}

const (
	TierMemory     = "memory"
	TierPersistent = "persistent"
)

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = lc.memCache.Delete(ctx, keys...)
	return lc.persistent.Delete(ctx, keys...)
}

func (lc *LayeredCache) DeleteByPattern(ctx context.Context, pattern string) error {
	if err := lc.memCache.DeleteByPattern(ctx, pattern); err != nil {
		return err
	}
	return lc.persistent.DeleteByPattern(ctx, pattern)
}

func (lc *LayeredCache) Exists(ctx context.Context, keys ...string) (bool, error) {
	if ok, _ := lc.memCache.Exists(ctx, keys...); ok {
		return true, nil
	}
	return lc.persistent.Exists(ctx, keys...)
}

// Close closes both cache layers.
func (lc *LayeredCache) Close() error {
	_ = lc.memCache.Close()
	return lc.persistent.Close()
}
