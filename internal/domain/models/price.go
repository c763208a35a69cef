package models

import (
	"math"
	"time"
)

// PriceObservation is one successful adapter reading. Not persisted.
type PriceObservation struct {
	Pair       CurrencyPair `json:"pair"`
	Price      float64      `json:"price"`
	Source     string       `json:"source"`
	ObservedAt time.Time    `json:"observed_at"`
}

// Usable reports whether the observation can take part in consensus for pair.
func (o PriceObservation) Usable(pair CurrencyPair) bool {
	return o.Pair == pair && o.Price > 0 && !math.IsInf(o.Price, 0) && !math.IsNaN(o.Price)
}

type Reason string

const (
	ReasonCached              Reason = "cached"
	ReasonValidated           Reason = "validated"
	ReasonInsufficientSources Reason = "insufficient sources"
	ReasonOutOfRange          Reason = "out of range"
	ReasonHighVariance        Reason = "high variance"
	ReasonUnboundedPair       Reason = "no bounds configured"
)

// ValidationResult is returned to callers for every validation request.
// ConsensusPrice is nil whenever IsValid is false.
type ValidationResult struct {
	Pair           CurrencyPair `json:"pair"`
	ConsensusPrice *float64     `json:"consensus_price"`
	SourcesCount   int          `json:"sources_count"`
	Variance       float64      `json:"variance"`
	IsValid        bool         `json:"is_valid"`
	Reason         Reason       `json:"reason"`
	Detail         string       `json:"detail,omitempty"`
	Sources        []string     `json:"sources,omitempty"`
	ValidatedAt    time.Time    `json:"validated_at"`
}

// Price returns the consensus price when the result is valid.
func (r ValidationResult) Price() (float64, bool) {
	if !r.IsValid || r.ConsensusPrice == nil {
		return 0, false
	}
	return *r.ConsensusPrice, true
}

// CacheEntry is what the cache layer stores per pair.
type CacheEntry struct {
	Price        float64   `json:"price"`
	SourcesCount int       `json:"sources_count"`
	Variance     float64   `json:"variance"`
	Sources      []string  `json:"sources,omitempty"`
	CachedAt     time.Time `json:"cached_at"`
}

// Expired reports whether the entry is past ttl at now. A zero ttl never expires.
func (e CacheEntry) Expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return !now.Before(e.CachedAt.Add(ttl))
}

// Result wraps a cache hit as a ValidationResult.
func (e CacheEntry) Result(pair CurrencyPair) ValidationResult {
	price := e.Price
	return ValidationResult{
		Pair:           pair,
		ConsensusPrice: &price,
		SourcesCount:   e.SourcesCount,
		Variance:       e.Variance,
		IsValid:        true,
		Reason:         ReasonCached,
		Sources:        e.Sources,
		ValidatedAt:    e.CachedAt,
	}
}

// ValidationStats summarises validator configuration and runtime counters.
type ValidationStats struct {
	CacheTTL       time.Duration    `json:"cache_ttl"`
	MinSources     int              `json:"min_sources"`
	MaxVariance    float64          `json:"max_variance"`
	BatchTimeout   time.Duration    `json:"batch_timeout"`
	Sources        []string         `json:"sources"`
	SupportedPairs []CurrencyPair   `json:"supported_pairs"`
	Outcomes       map[Reason]int64 `json:"outcomes"`
}
