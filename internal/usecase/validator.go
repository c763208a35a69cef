package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"FxGuard/internal/domain/bounds"
	"FxGuard/internal/domain/models"
	domrepo "FxGuard/internal/domain/repository"
	"FxGuard/internal/service/sources"
	"FxGuard/pkg/logger"
)

// ErrHistoryDisabled is returned by History when no ValidationStore is wired.
var ErrHistoryDisabled = errors.New("validation history is not enabled")

type ValidatorConfig struct {
	MinSources     int
	MaxVariance    float64
	BatchTimeout   time.Duration
	MaxConcurrency int
	Precision      int
}

// DefaultValidatorConfig: 3 sources within 0.8% of their mean, 30s per batch.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MinSources:     3,
		MaxVariance:    0.008,
		BatchTimeout:   30 * time.Second,
		MaxConcurrency: 8,
		Precision:      5,
	}
}

type ValidatorOption func(*Validator)

// WithValidationStore records every fetched outcome (cache hits excluded).
func WithValidationStore(s domrepo.ValidationStore) ValidatorOption {
	return func(v *Validator) { v.store = s }
}

// WithResultPublisher announces every accepted consensus price.
func WithResultPublisher(p domrepo.ResultPublisher) ValidatorOption {
	return func(v *Validator) { v.publisher = p }
}

func WithValidatorMetrics(m domrepo.Metrics) ValidatorOption {
	return func(v *Validator) { v.metrics = m }
}

// Validator turns independent per-source readings into a consensus price, or
// explains why it could not. It never returns errors: callers branch on IsValid.
type Validator struct {
	cfg       ValidatorConfig
	adapters  []domrepo.SourceAdapter
	table     *bounds.Table
	cache     domrepo.PriceCache
	store     domrepo.ValidationStore
	publisher domrepo.ResultPublisher
	metrics   domrepo.Metrics
	log       *logger.Logger
	now       func() time.Time

	flights  singleflight.Group
	outcomes sync.Map // models.Reason -> *atomic.Int64
}

func NewValidator(
	cfg ValidatorConfig,
	adapters []domrepo.SourceAdapter,
	table *bounds.Table,
	cache domrepo.PriceCache,
	log *logger.Logger,
	opts ...ValidatorOption,
) *Validator {
	def := DefaultValidatorConfig()
	if cfg.MinSources <= 0 {
		cfg.MinSources = def.MinSources
	}
	if cfg.MaxVariance <= 0 {
		cfg.MaxVariance = def.MaxVariance
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = def.BatchTimeout
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}
	if cfg.Precision <= 0 {
		cfg.Precision = def.Precision
	}

	ordered := append([]domrepo.SourceAdapter(nil), adapters...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority() < ordered[j].Priority() })

	v := &Validator{
		cfg:      cfg,
		adapters: ordered,
		table:    table,
		cache:    cache,
		metrics:  nopMetrics{},
		log:      log.With("validator"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// flightGrace covers the cache, history and publish calls after the fetch batch.
const flightGrace = 10 * time.Second

// Validate returns the validated price for pair. Concurrent calls for the same pair
// share one cache lookup and one fetch batch. The batch does not inherit the
// caller's cancellation; a caller that gives up gets a rejection of its own while
// the others still receive the shared result.
func (v *Validator) Validate(ctx context.Context, pair models.CurrencyPair) models.ValidationResult {
	ch := v.flights.DoChan(string(pair), func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), v.cfg.BatchTimeout+flightGrace)
		defer cancel()
		return v.validate(fctx, pair), nil
	})
	select {
	case r := <-ch:
		return r.Val.(models.ValidationResult)
	case <-ctx.Done():
		return models.ValidationResult{
			Pair:        pair,
			Reason:      models.ReasonInsufficientSources,
			Detail:      fmt.Sprintf("request abandoned: %v", ctx.Err()),
			ValidatedAt: v.now().UTC(),
		}
	}
}

func (v *Validator) validate(ctx context.Context, pair models.CurrencyPair) models.ValidationResult {
	if entry, ok := v.cache.Get(ctx, pair); ok {
		res := entry.Result(pair)
		v.count(res)
		return res
	}

	started := v.now()
	observations := v.collect(ctx, pair)
	res := v.decide(pair, observations)
	res.ValidatedAt = v.now().UTC()

	if price, ok := res.Price(); ok {
		entry := models.CacheEntry{
			Price:        price,
			SourcesCount: res.SourcesCount,
			Variance:     res.Variance,
			Sources:      res.Sources,
			CachedAt:     res.ValidatedAt,
		}
		if err := v.cache.Set(ctx, pair, entry); err != nil {
			v.log.Warn("cache write failed", logger.String("pair", pair.String()), logger.Error(err))
		}
		v.metrics.RecordConsensus(pair.String(), price, res.Variance)
		v.log.Info("price validated",
			logger.String("pair", pair.String()),
			logger.Float64("price", price),
			logger.Int("sources", res.SourcesCount),
			logger.Float64("variance", res.Variance),
			logger.Duration("took_ms", v.now().Sub(started)),
		)
	} else {
		v.log.Warn("price rejected",
			logger.String("pair", pair.String()),
			logger.String("reason", string(res.Reason)),
			logger.String("detail", res.Detail),
			logger.Int("sources", res.SourcesCount),
		)
	}

	v.count(res)
	v.record(ctx, res)
	return res
}

// decide applies the acceptance rules, in order, to the collected observations.
func (v *Validator) decide(pair models.CurrencyPair, observations []models.PriceObservation) models.ValidationResult {
	res := models.ValidationResult{Pair: pair, SourcesCount: len(observations), Sources: sourceNames(observations)}

	if len(observations) < v.cfg.MinSources {
		res.Reason = models.ReasonInsufficientSources
		res.Detail = fmt.Sprintf("insufficient valid sources (%d/%d)", len(observations), v.cfg.MinSources)
		return res
	}

	// One out-of-range reading rejects the whole batch.
	for _, o := range observations {
		ok, configured := v.table.InRange(pair, o.Price)
		if ok {
			continue
		}
		if !configured {
			res.Reason = models.ReasonUnboundedPair
			res.Detail = fmt.Sprintf("no valid range configured for %s", pair)
			return res
		}
		r, _ := v.table.Range(pair)
		res.Reason = models.ReasonOutOfRange
		res.Detail = fmt.Sprintf("%s returned %g outside [%g, %g]", o.Source, o.Price, r.Min, r.Max)
		return res
	}

	mean, variance := spread(observations)
	res.Variance = variance
	if variance > v.cfg.MaxVariance {
		res.Reason = models.ReasonHighVariance
		res.Detail = fmt.Sprintf("price variance %.3f%% exceeds %.3f%%", variance*100, v.cfg.MaxVariance*100)
		return res
	}

	consensus := round(mean, v.cfg.Precision)
	if r, ok := v.table.Range(pair); ok && !r.Contains(consensus) {
		res.Reason = models.ReasonOutOfRange
		res.Detail = fmt.Sprintf("consensus %g outside [%g, %g]", consensus, r.Min, r.Max)
		return res
	}
	res.ConsensusPrice = &consensus
	res.IsValid = true
	res.Reason = models.ReasonValidated
	return res
}

type fetchOutcome struct {
	source string
	obs    models.PriceObservation
	err    error
	took   time.Duration
}

// collect fans out to every adapter. Adapters are started in priority order as
// concurrency slots free up; whatever has not answered when the batch deadline hits
// counts as failed.
func (v *Validator) collect(ctx context.Context, pair models.CurrencyPair) []models.PriceObservation {
	if len(v.adapters) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, v.cfg.BatchTimeout)
	defer cancel()

	results := make(chan fetchOutcome, len(v.adapters))
	slots := make(chan struct{}, v.cfg.MaxConcurrency)

	go func() {
		for _, a := range v.adapters {
			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				return
			}
			go func(a domrepo.SourceAdapter) {
				defer func() { <-slots }()
				results <- v.fetchOne(ctx, a, pair)
			}(a)
		}
	}()

	observations := make([]models.PriceObservation, 0, len(v.adapters))
	pending := make(map[string]int, len(v.adapters))
	for _, a := range v.adapters {
		pending[a.Name()]++
	}

	for remaining := len(v.adapters); remaining > 0; remaining-- {
		select {
		case out := <-results:
			if pending[out.source]--; pending[out.source] == 0 {
				delete(pending, out.source)
			}
			if out.err != nil {
				v.metrics.RecordSourceFetch(out.source, string(sources.KindOf(out.err)), out.took.Seconds())
				v.log.Debug("source failed", logger.String("source", out.source), logger.String("pair", pair.String()), logger.Error(out.err))
				continue
			}
			if !out.obs.Usable(pair) {
				v.metrics.RecordSourceFetch(out.source, "malformed", out.took.Seconds())
				v.log.Debug("source returned unusable observation", logger.String("source", out.source), logger.Float64("price", out.obs.Price))
				continue
			}
			v.metrics.RecordSourceFetch(out.source, "ok", out.took.Seconds())
			observations = append(observations, out.obs)
		case <-ctx.Done():
			for name := range pending {
				v.metrics.RecordSourceFetch(name, string(sources.KindTimeout), v.cfg.BatchTimeout.Seconds())
			}
			v.log.Warn("batch deadline reached",
				logger.String("pair", pair.String()),
				logger.Int("pending", remaining),
				logger.Int("collected", len(observations)),
			)
			return observations
		}
	}
	return observations
}

func (v *Validator) fetchOne(ctx context.Context, a domrepo.SourceAdapter, pair models.CurrencyPair) (out fetchOutcome) {
	start := v.now()
	out.source = a.Name()
	defer func() {
		if r := recover(); r != nil {
			out.err = &sources.FetchError{Source: a.Name(), Pair: pair, Kind: sources.KindNetwork, Err: fmt.Errorf("panic: %v", r)}
		}
		out.took = v.now().Sub(start)
	}()
	out.obs, out.err = a.Fetch(ctx, pair)
	return out
}

func (v *Validator) record(ctx context.Context, res models.ValidationResult) {
	if v.store != nil {
		if err := v.store.Save(ctx, models.RecordOf(res)); err != nil {
			v.log.Warn("validation history write failed", logger.String("pair", res.Pair.String()), logger.Error(err))
		}
	}
	if v.publisher != nil && res.IsValid {
		if err := v.publisher.PublishResult(ctx, res); err != nil {
			v.log.Warn("validation publish failed", logger.String("pair", res.Pair.String()), logger.Error(err))
		}
	}
}

func (v *Validator) count(res models.ValidationResult) {
	c, _ := v.outcomes.LoadOrStore(res.Reason, new(atomic.Int64))
	c.(*atomic.Int64).Add(1)
	v.metrics.RecordValidation(res.Pair.String(), string(res.Reason))
}

// ValidatePrices validates every pair concurrently.
func (v *Validator) ValidatePrices(ctx context.Context, pairs []models.CurrencyPair) map[models.CurrencyPair]models.ValidationResult {
	out := make(map[models.CurrencyPair]models.ValidationResult, len(pairs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.cfg.MaxConcurrency)
	for _, p := range pairs {
		g.Go(func() error {
			res := v.Validate(gctx, p)
			mu.Lock()
			out[p] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	valid := 0
	for _, r := range out {
		if r.IsValid {
			valid++
		}
	}
	v.log.Info("batch validation finished", logger.Int("pairs", len(pairs)), logger.Int("valid", valid))
	return out
}

// ValidatedPrices returns consensus prices for the pairs that validated; the rest
// are omitted, never defaulted.
func (v *Validator) ValidatedPrices(ctx context.Context, pairs []models.CurrencyPair) map[models.CurrencyPair]float64 {
	prices := make(map[models.CurrencyPair]float64, len(pairs))
	for pair, res := range v.ValidatePrices(ctx, pairs) {
		if price, ok := res.Price(); ok {
			prices[pair] = price
		}
	}
	return prices
}

// SinglePrice is Validate reduced to (price, ok).
func (v *Validator) SinglePrice(ctx context.Context, pair models.CurrencyPair) (float64, bool) {
	return v.Validate(ctx, pair).Price()
}

// ClearCache drops every cached validated price.
func (v *Validator) ClearCache(ctx context.Context) error {
	if err := v.cache.Clear(ctx); err != nil {
		return fmt.Errorf("clear price cache: %w", err)
	}
	v.log.Info("price cache cleared")
	return nil
}

// Health reports the history store's health; nil when no store is wired.
func (v *Validator) Health(ctx context.Context) error {
	if v.store == nil {
		return nil
	}
	return v.store.Health(ctx)
}

func (v *Validator) HistoryEnabled() bool { return v.store != nil }

// SourceCount is the number of configured adapters.
func (v *Validator) SourceCount() int { return len(v.adapters) }

func (v *Validator) Stats() models.ValidationStats {
	names := make([]string, len(v.adapters))
	for i, a := range v.adapters {
		names[i] = a.Name()
	}
	outcomes := make(map[models.Reason]int64)
	v.outcomes.Range(func(k, val interface{}) bool {
		outcomes[k.(models.Reason)] = val.(*atomic.Int64).Load()
		return true
	})
	return models.ValidationStats{
		CacheTTL:       v.cache.TTL(),
		MinSources:     v.cfg.MinSources,
		MaxVariance:    v.cfg.MaxVariance,
		BatchTimeout:   v.cfg.BatchTimeout,
		Sources:        names,
		SupportedPairs: v.table.Pairs(),
		Outcomes:       outcomes,
	}
}

// History returns recent persisted outcomes for pair, newest first.
func (v *Validator) History(ctx context.Context, pair models.CurrencyPair, limit int) ([]models.ValidationRecord, error) {
	if v.store == nil {
		return nil, ErrHistoryDisabled
	}
	return v.store.Recent(ctx, pair, limit)
}

// spread returns the mean and the largest relative deviation from it.
func spread(observations []models.PriceObservation) (mean, variance float64) {
	for _, o := range observations {
		mean += o.Price
	}
	mean /= float64(len(observations))
	for _, o := range observations {
		if d := math.Abs(o.Price-mean) / mean; d > variance {
			variance = d
		}
	}
	return mean, variance
}

func round(x float64, places int) float64 {
	scale := math.Pow10(places)
	return math.Round(x*scale) / scale
}

func sourceNames(observations []models.PriceObservation) []string {
	names := make([]string, len(observations))
	for i, o := range observations {
		names[i] = o.Source
	}
	sort.Strings(names)
	return names
}

type nopMetrics struct{}

func (nopMetrics) RecordValidation(string, string)           {}
func (nopMetrics) RecordSourceFetch(string, string, float64) {}
func (nopMetrics) RecordCacheLookup(string, string)          {}
func (nopMetrics) RecordConsensus(string, float64, float64)  {}
func (nopMetrics) RecordRejection(string, string)            {}
