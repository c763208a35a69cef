package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FxGuard/internal/domain/bounds"
	"FxGuard/internal/domain/models"
	domrepo "FxGuard/internal/domain/repository"
	"FxGuard/pkg/logger"
)

type stubAdapter struct {
	name     string
	priority int
	price    float64
	err      error
	panics   bool
	block    bool
	release  chan struct{}
	order    *callOrder
	calls    atomic.Int32
}

func (s *stubAdapter) Name() string  { return s.name }
func (s *stubAdapter) Priority() int { return s.priority }

func (s *stubAdapter) Fetch(ctx context.Context, pair models.CurrencyPair) (models.PriceObservation, error) {
	s.calls.Add(1)
	if s.order != nil {
		s.order.add(s.name)
	}
	if s.block {
		<-ctx.Done()
		return models.PriceObservation{}, ctx.Err()
	}
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return models.PriceObservation{}, ctx.Err()
		}
	}
	if s.panics {
		panic("adapter exploded")
	}
	if s.err != nil {
		return models.PriceObservation{}, s.err
	}
	return models.PriceObservation{Pair: pair, Price: s.price, Source: s.name, ObservedAt: time.Now()}, nil
}

type callOrder struct {
	mu    sync.Mutex
	names []string
}

func (c *callOrder) add(name string) {
	c.mu.Lock()
	c.names = append(c.names, name)
	c.mu.Unlock()
}

type memPriceCache struct {
	mu      sync.Mutex
	entries map[models.CurrencyPair]models.CacheEntry
	sets    int
}

func newMemPriceCache() *memPriceCache {
	return &memPriceCache{entries: make(map[models.CurrencyPair]models.CacheEntry)}
}

func (m *memPriceCache) Get(_ context.Context, pair models.CurrencyPair) (models.CacheEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[pair]
	return e, ok
}

func (m *memPriceCache) Set(_ context.Context, pair models.CurrencyPair, e models.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[pair] = e
	m.sets++
	return nil
}

func (m *memPriceCache) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[models.CurrencyPair]models.CacheEntry)
	return nil
}

func (m *memPriceCache) TTL() time.Duration { return 5 * time.Minute }

type recordingStore struct {
	mu      sync.Mutex
	records []models.ValidationRecord
}

func (r *recordingStore) Init(context.Context) error { return nil }
func (r *recordingStore) Save(_ context.Context, rec models.ValidationRecord) error {
	r.mu.Lock()
	r.records = append(r.records, rec)
	r.mu.Unlock()
	return nil
}
func (r *recordingStore) Recent(_ context.Context, pair models.CurrencyPair, limit int) ([]models.ValidationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ValidationRecord
	for i := len(r.records) - 1; i >= 0 && len(out) < limit; i-- {
		if r.records[i].Pair == pair {
			out = append(out, r.records[i])
		}
	}
	return out, nil
}
func (r *recordingStore) Health(context.Context) error { return nil }
func (r *recordingStore) Close() error                 { return nil }

type recordingPublisher struct {
	mu      sync.Mutex
	results []models.ValidationResult
}

func (p *recordingPublisher) PublishResult(_ context.Context, res models.ValidationResult) error {
	p.mu.Lock()
	p.results = append(p.results, res)
	p.mu.Unlock()
	return nil
}
func (p *recordingPublisher) Close() error { return nil }

func adapters(prices ...float64) []*stubAdapter {
	names := []string{"alpha", "bravo", "charlie", "delta", "echo"}
	out := make([]*stubAdapter, len(prices))
	for i, p := range prices {
		out[i] = &stubAdapter{name: names[i], priority: i + 1, price: p}
	}
	return out
}

func asSources(in []*stubAdapter) []domrepo.SourceAdapter {
	out := make([]domrepo.SourceAdapter, len(in))
	for i, a := range in {
		out[i] = a
	}
	return out
}

func newTestValidator(t *testing.T, srcs []*stubAdapter, cache domrepo.PriceCache, opts ...ValidatorOption) *Validator {
	t.Helper()
	cfg := DefaultValidatorConfig()
	cfg.BatchTimeout = 2 * time.Second
	return NewValidator(cfg, asSources(srcs), bounds.Default(), cache, logger.Nop(), opts...)
}

func TestValidateConsensus(t *testing.T) {
	cache := newMemPriceCache()
	store := &recordingStore{}
	pub := &recordingPublisher{}
	v := newTestValidator(t, adapters(1.1720, 1.1725, 1.1718), cache,
		WithValidationStore(store), WithResultPublisher(pub))

	res := v.Validate(context.Background(), "EURUSD")

	require.True(t, res.IsValid)
	price, ok := res.Price()
	require.True(t, ok)
	assert.InDelta(t, 1.17210, price, 1e-9)
	assert.Equal(t, 3, res.SourcesCount)
	assert.Equal(t, models.ReasonValidated, res.Reason)
	assert.Less(t, res.Variance, 0.008)
	assert.Equal(t, []string{"alpha", "bravo", "charlie"}, res.Sources)

	entry, ok := cache.Get(context.Background(), "EURUSD")
	require.True(t, ok)
	assert.InDelta(t, 1.17210, entry.Price, 1e-9)

	require.Len(t, store.records, 1)
	assert.True(t, store.records[0].IsValid)
	require.Len(t, pub.results, 1)
}

func TestValidateSecondCallIsCached(t *testing.T) {
	srcs := adapters(1.1720, 1.1725, 1.1718)
	v := newTestValidator(t, srcs, newMemPriceCache())

	first := v.Validate(context.Background(), "EURUSD")
	second := v.Validate(context.Background(), "EURUSD")

	require.True(t, first.IsValid)
	require.True(t, second.IsValid)
	assert.Equal(t, models.ReasonCached, second.Reason)
	assert.Equal(t, *first.ConsensusPrice, *second.ConsensusPrice)
	for _, a := range srcs {
		assert.EqualValues(t, 1, a.calls.Load(), a.name)
	}
}

func TestValidateInsufficientSources(t *testing.T) {
	cache := newMemPriceCache()
	srcs := adapters(1.1720, 1.1725, 1.1718)
	srcs[2].err = errors.New("boom")
	v := newTestValidator(t, srcs, cache)

	res := v.Validate(context.Background(), "EURUSD")

	assert.False(t, res.IsValid)
	assert.Nil(t, res.ConsensusPrice)
	assert.Equal(t, models.ReasonInsufficientSources, res.Reason)
	assert.Equal(t, 2, res.SourcesCount)
	assert.Contains(t, res.Detail, "2/3")
	assert.Zero(t, cache.sets)
}

func TestValidateOutOfRangePoisonsBatch(t *testing.T) {
	cache := newMemPriceCache()
	store := &recordingStore{}
	pub := &recordingPublisher{}
	v := newTestValidator(t, adapters(150.10, 150.20, 400.0), cache,
		WithValidationStore(store), WithResultPublisher(pub))

	res := v.Validate(context.Background(), "USDJPY")

	assert.False(t, res.IsValid)
	assert.Equal(t, models.ReasonOutOfRange, res.Reason)
	assert.Contains(t, res.Detail, "charlie")
	assert.Zero(t, cache.sets)
	require.Len(t, store.records, 1)
	assert.False(t, store.records[0].IsValid)
	assert.Empty(t, pub.results)
}

func TestValidateHighVariance(t *testing.T) {
	v := newTestValidator(t, adapters(1.16, 1.17, 1.19), newMemPriceCache())

	res := v.Validate(context.Background(), "EURUSD")

	assert.False(t, res.IsValid)
	assert.Equal(t, models.ReasonHighVariance, res.Reason)
	assert.Greater(t, res.Variance, 0.008)
}

func TestValidateDropsUnusableObservations(t *testing.T) {
	srcs := adapters(1.1720, 1.1725, 1.1718, 0)
	v := newTestValidator(t, srcs, newMemPriceCache())

	res := v.Validate(context.Background(), "EURUSD")

	require.True(t, res.IsValid)
	assert.Equal(t, 3, res.SourcesCount)
}

func TestValidateDeadlineKeepsPartialResults(t *testing.T) {
	srcs := adapters(1.1720, 1.1725, 1.1718, 1.1721)
	srcs[3].block = true

	cfg := DefaultValidatorConfig()
	cfg.BatchTimeout = 100 * time.Millisecond
	v := NewValidator(cfg, asSources(srcs), bounds.Default(), newMemPriceCache(), logger.Nop())

	start := time.Now()
	res := v.Validate(context.Background(), "EURUSD")

	assert.Less(t, time.Since(start), time.Second)
	require.True(t, res.IsValid)
	assert.Equal(t, 3, res.SourcesCount)
	assert.NotContains(t, res.Sources, "delta")
}

func TestValidateRecoversAdapterPanic(t *testing.T) {
	srcs := adapters(1.1720, 1.1725, 1.1718, 1.1721)
	srcs[0].panics = true
	v := newTestValidator(t, srcs, newMemPriceCache())

	res := v.Validate(context.Background(), "EURUSD")

	require.True(t, res.IsValid)
	assert.Equal(t, 3, res.SourcesCount)
	assert.NotContains(t, res.Sources, "alpha")
}

func TestValidateLaunchesInPriorityOrder(t *testing.T) {
	order := &callOrder{}
	srcs := []*stubAdapter{
		{name: "slow-tier", priority: 4, price: 1.1720, order: order},
		{name: "primary", priority: 1, price: 1.1721, order: order},
		{name: "secondary", priority: 2, price: 1.1722, order: order},
	}
	cfg := DefaultValidatorConfig()
	cfg.MaxConcurrency = 1
	v := NewValidator(cfg, asSources(srcs), bounds.Default(), newMemPriceCache(), logger.Nop())

	res := v.Validate(context.Background(), "EURUSD")

	require.True(t, res.IsValid)
	assert.Equal(t, []string{"primary", "secondary", "slow-tier"}, order.names)
}

func TestValidateSharesConcurrentBatches(t *testing.T) {
	release := make(chan struct{})
	srcs := adapters(1.1720, 1.1725, 1.1718)
	for _, a := range srcs {
		a.release = release
	}
	v := newTestValidator(t, srcs, newMemPriceCache())

	var wg sync.WaitGroup
	results := make([]models.ValidationResult, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = v.Validate(context.Background(), "EURUSD")
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, r := range results {
		require.True(t, r.IsValid)
		assert.InDelta(t, 1.17210, *r.ConsensusPrice, 1e-9)
	}
	for _, a := range srcs {
		assert.EqualValues(t, 1, a.calls.Load(), a.name)
	}
}

func TestValidateUnboundedPair(t *testing.T) {
	srcs := adapters(10.61, 10.62, 10.60)

	lenient := newTestValidator(t, srcs, newMemPriceCache())
	res := lenient.Validate(context.Background(), "SEKNOK")
	require.True(t, res.IsValid)
	assert.InDelta(t, 10.61, *res.ConsensusPrice, 1e-9)

	strictTable := bounds.Default().With(bounds.WithStrict(true))
	strict := NewValidator(DefaultValidatorConfig(), asSources(adapters(10.61, 10.62, 10.60)), strictTable, newMemPriceCache(), logger.Nop())
	res = strict.Validate(context.Background(), "SEKNOK")
	assert.False(t, res.IsValid)
	assert.Equal(t, models.ReasonUnboundedPair, res.Reason)
}

func TestValidatedPricesOmitsFailures(t *testing.T) {
	// USDJPY readings fall outside its band, EURUSD validate.
	srcs := []*stubAdapter{
		{name: "a", priority: 1},
		{name: "b", priority: 2},
		{name: "c", priority: 3},
	}
	prices := map[models.CurrencyPair][]float64{
		"EURUSD": {1.1720, 1.1725, 1.1718},
		"USDJPY": {110, 110, 110},
	}
	multi := make([]domrepo.SourceAdapter, len(srcs))
	for i, s := range srcs {
		multi[i] = &pairAdapter{name: s.name, priority: s.priority, idx: i, prices: prices}
	}
	v := NewValidator(DefaultValidatorConfig(), multi, bounds.Default(), newMemPriceCache(), logger.Nop())

	got := v.ValidatedPrices(context.Background(), []models.CurrencyPair{"EURUSD", "USDJPY"})

	require.Len(t, got, 1)
	assert.InDelta(t, 1.17210, got["EURUSD"], 1e-9)
	_, ok := got["USDJPY"]
	assert.False(t, ok)

	price, ok := v.SinglePrice(context.Background(), "EURUSD")
	assert.True(t, ok)
	assert.InDelta(t, 1.17210, price, 1e-9)
}

type pairAdapter struct {
	name     string
	priority int
	idx      int
	prices   map[models.CurrencyPair][]float64
}

func (p *pairAdapter) Name() string  { return p.name }
func (p *pairAdapter) Priority() int { return p.priority }
func (p *pairAdapter) Fetch(_ context.Context, pair models.CurrencyPair) (models.PriceObservation, error) {
	list, ok := p.prices[pair]
	if !ok {
		return models.PriceObservation{}, errors.New("unsupported")
	}
	return models.PriceObservation{Pair: pair, Price: list[p.idx], Source: p.name, ObservedAt: time.Now()}, nil
}

func TestStatsAndClearCache(t *testing.T) {
	cache := newMemPriceCache()
	store := &recordingStore{}
	v := newTestValidator(t, adapters(1.1720, 1.1725, 1.1718), cache, WithValidationStore(store))
	ctx := context.Background()

	v.Validate(ctx, "EURUSD")
	v.Validate(ctx, "EURUSD")
	require.NoError(t, v.ClearCache(ctx))
	v.Validate(ctx, "EURUSD")

	stats := v.Stats()
	assert.Equal(t, 3, stats.MinSources)
	assert.Equal(t, 0.008, stats.MaxVariance)
	assert.Equal(t, 5*time.Minute, stats.CacheTTL)
	assert.Equal(t, []string{"alpha", "bravo", "charlie"}, stats.Sources)
	assert.Contains(t, stats.SupportedPairs, models.CurrencyPair("EURUSD"))
	assert.EqualValues(t, 2, stats.Outcomes[models.ReasonValidated])
	assert.EqualValues(t, 1, stats.Outcomes[models.ReasonCached])

	history, err := v.History(ctx, "EURUSD", 10)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestHistoryWithoutStore(t *testing.T) {
	v := newTestValidator(t, adapters(1.1720, 1.1725, 1.1718), newMemPriceCache())

	_, err := v.History(context.Background(), "EURUSD", 5)

	assert.ErrorIs(t, err, ErrHistoryDisabled)
	assert.NoError(t, v.Health(context.Background()))
	assert.Equal(t, 3, v.SourceCount())
}

func TestValidateZeroConfigKeepsPrecision(t *testing.T) {
	v := NewValidator(ValidatorConfig{}, asSources(adapters(1.1720, 1.1725, 1.1718)), bounds.Default(), newMemPriceCache(), logger.Nop())

	res := v.Validate(context.Background(), "EURUSD")

	require.True(t, res.IsValid)
	assert.InDelta(t, 1.17210, *res.ConsensusPrice, 1e-9)
}

func TestValidateRejectsConsensusRoundedOutOfBand(t *testing.T) {
	table := bounds.New(bounds.WithRange("EURUSD", 1.17204, 1.17250))
	cfg := DefaultValidatorConfig()
	cfg.Precision = 3
	v := NewValidator(cfg, asSources(adapters(1.17205, 1.17206, 1.17207)), table, newMemPriceCache(), logger.Nop())

	res := v.Validate(context.Background(), "EURUSD")

	assert.False(t, res.IsValid)
	assert.Nil(t, res.ConsensusPrice)
	assert.Equal(t, models.ReasonOutOfRange, res.Reason)
	assert.Contains(t, res.Detail, "consensus")
}

func TestValidateCancelledCallerDoesNotFailSharedBatch(t *testing.T) {
	release := make(chan struct{})
	srcs := adapters(1.1720, 1.1725, 1.1718)
	for _, a := range srcs {
		a.release = release
	}
	store := &recordingStore{}
	v := newTestValidator(t, srcs, newMemPriceCache(), WithValidationStore(store))

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan models.ValidationResult, 1)
	go func() { first <- v.Validate(ctx, "EURUSD") }()
	time.Sleep(20 * time.Millisecond)

	second := make(chan models.ValidationResult, 1)
	go func() { second <- v.Validate(context.Background(), "EURUSD") }()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case res := <-first:
		assert.False(t, res.IsValid)
		assert.Nil(t, res.ConsensusPrice)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(release)
	res := <-second
	require.True(t, res.IsValid)
	assert.InDelta(t, 1.17210, *res.ConsensusPrice, 1e-9)

	for _, a := range srcs {
		assert.EqualValues(t, 1, a.calls.Load(), a.name)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.records, 1)
	assert.True(t, store.records[0].IsValid)
}
