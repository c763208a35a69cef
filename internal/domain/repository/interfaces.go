package repository

import (
	"context"
	"time"

	"FxGuard/internal/domain/models"
)

// SourceAdapter wraps one third-party price lookup. Fetch performs a single outbound
// call with no retry and no caching; every failure is returned as an error value.
type SourceAdapter interface {
	Name() string
	// Priority is a soft launch-order hint; lower runs first.
	Priority() int
	Fetch(ctx context.Context, pair models.CurrencyPair) (models.PriceObservation, error)
}

// PriceCache is the two-tier validated-price cache.
type PriceCache interface {
	Get(ctx context.Context, pair models.CurrencyPair) (models.CacheEntry, bool)
	Set(ctx context.Context, pair models.CurrencyPair, entry models.CacheEntry) error
	Clear(ctx context.Context) error
	TTL() time.Duration
}

// ValidationStore keeps an append-only audit trail of validation outcomes.
type ValidationStore interface {
	Init(ctx context.Context) error
	Save(ctx context.Context, rec models.ValidationRecord) error
	Recent(ctx context.Context, pair models.CurrencyPair, limit int) ([]models.ValidationRecord, error)
	Health(ctx context.Context) error
	Close() error
}

// ResultPublisher announces accepted prices to downstream signal generation.
type ResultPublisher interface {
	PublishResult(ctx context.Context, result models.ValidationResult) error
	Close() error
}

// SignalPublisher forwards enforced signal batches and their rejections.
type SignalPublisher interface {
	PublishSignals(ctx context.Context, signal models.SignalData) error
	PublishRejections(ctx context.Context, rejections []models.AlertRejection) error
}

type Metrics interface {
	RecordValidation(pair, result string)
	RecordSourceFetch(source, result string, seconds float64)
	RecordCacheLookup(tier, result string)
	RecordConsensus(pair string, price, variance float64)
	RecordRejection(pair, reason string)
}
