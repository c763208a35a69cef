// Package cache stores validated consensus prices, one key per pair, in a memory
// tier backed by a persistent tier.
package cache

import (
	"context"
	"errors"
	"time"

	"FxGuard/internal/domain/models"
	pkgcache "FxGuard/pkg/cache"
	"FxGuard/pkg/logger"
)

const keyPrefix = "validated_price"

// Store is the subset of pkg/cache.LayeredCache the price cache needs.
type Store interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	GetWithTier(ctx context.Context, key string, dest interface{}) (string, error)
	Delete(ctx context.Context, keys ...string) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

type lookupRecorder interface {
	RecordCacheLookup(tier, result string)
}

// PriceCache implements repository.PriceCache.
type PriceCache struct {
	store   Store
	ttl     time.Duration
	log     *logger.Logger
	metrics lookupRecorder
	now     func() time.Time
}

func NewPriceCache(store Store, ttl time.Duration, log *logger.Logger, metrics lookupRecorder) *PriceCache {
	return &PriceCache{store: store, ttl: ttl, log: log.With("price_cache"), metrics: metrics, now: time.Now}
}

func Key(pair models.CurrencyPair) string {
	return pkgcache.GenerateKey(keyPrefix, string(pair))
}

func (c *PriceCache) TTL() time.Duration { return c.ttl }

// Get returns a live entry. Expired entries are deleted and reported absent; backend
// errors are logged and reported as a miss.
func (c *PriceCache) Get(ctx context.Context, pair models.CurrencyPair) (models.CacheEntry, bool) {
	var entry models.CacheEntry
	tier, err := c.store.GetWithTier(ctx, Key(pair), &entry)
	if err != nil {
		if !errors.Is(err, pkgcache.ErrCacheMiss) {
			c.log.Warn("price cache read failed", logger.String("pair", pair.String()), logger.Error(err))
			c.metrics.RecordCacheLookup("any", "error")
		} else {
			c.metrics.RecordCacheLookup("any", "miss")
		}
		return models.CacheEntry{}, false
	}

	// Backends expire on their own clock; CachedAt is authoritative.
	if entry.Expired(c.now(), c.ttl) {
		if err := c.store.Delete(ctx, Key(pair)); err != nil {
			c.log.Warn("price cache delete failed", logger.String("pair", pair.String()), logger.Error(err))
		}
		c.metrics.RecordCacheLookup(tier, "expired")
		return models.CacheEntry{}, false
	}

	c.metrics.RecordCacheLookup(tier, "hit")
	return entry, true
}

// Set writes through both tiers with the remaining lifetime of entry.
func (c *PriceCache) Set(ctx context.Context, pair models.CurrencyPair, entry models.CacheEntry) error {
	if entry.CachedAt.IsZero() {
		entry.CachedAt = c.now().UTC()
	}
	ttl := c.ttl - c.now().Sub(entry.CachedAt)
	if ttl <= 0 {
		return nil
	}
	return c.store.Set(ctx, Key(pair), entry, ttl)
}

// Clear drops every cached pair from both tiers.
func (c *PriceCache) Clear(ctx context.Context) error {
	return c.store.DeleteByPattern(ctx, pkgcache.BuildPattern(keyPrefix))
}
