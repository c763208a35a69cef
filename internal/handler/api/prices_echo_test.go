package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FxGuard/internal/domain/bounds"
	"FxGuard/internal/domain/models"
	domrepo "FxGuard/internal/domain/repository"
	"FxGuard/internal/usecase"
	"FxGuard/pkg/logger"
	"FxGuard/pkg/metrics"
)

type quoteAdapter struct {
	name   string
	quotes map[models.CurrencyPair]float64
}

func (q quoteAdapter) Name() string  { return q.name }
func (q quoteAdapter) Priority() int { return 1 }
func (q quoteAdapter) Fetch(_ context.Context, pair models.CurrencyPair) (models.PriceObservation, error) {
	p, ok := q.quotes[pair]
	if !ok {
		return models.PriceObservation{}, context.DeadlineExceeded
	}
	return models.PriceObservation{Pair: pair, Price: p, Source: q.name, ObservedAt: time.Now()}, nil
}

type mapCache struct {
	m map[models.CurrencyPair]models.CacheEntry
}

func (c *mapCache) Get(_ context.Context, p models.CurrencyPair) (models.CacheEntry, bool) {
	e, ok := c.m[p]
	return e, ok
}
func (c *mapCache) Set(_ context.Context, p models.CurrencyPair, e models.CacheEntry) error {
	c.m[p] = e
	return nil
}
func (c *mapCache) Clear(context.Context) error {
	c.m = map[models.CurrencyPair]models.CacheEntry{}
	return nil
}
func (c *mapCache) TTL() time.Duration { return time.Minute }

func newTestServer(t *testing.T) (*echo.Echo, *mapCache) {
	t.Helper()
	quotes := []map[models.CurrencyPair]float64{
		{"EURUSD": 1.1720, "GBPUSD": 1.2710},
		{"EURUSD": 1.1725, "GBPUSD": 1.2712},
		{"EURUSD": 1.1718},
	}
	adapters := make([]domrepo.SourceAdapter, len(quotes))
	for i, q := range quotes {
		adapters[i] = quoteAdapter{name: string(rune('a' + i)), quotes: q}
	}
	cache := &mapCache{m: map[models.CurrencyPair]models.CacheEntry{}}
	table := bounds.Default()
	v := usecase.NewValidator(usecase.DefaultValidatorConfig(), adapters, table, cache, logger.Nop())
	enf := usecase.NewEnforcer(table, logger.Nop(), metrics.Nop{})

	e := echo.New()
	NewPricesEchoHandler(logger.Nop(), v, enf, []models.CurrencyPair{"EURUSD", "GBPUSD"}).RegisterRoutes(e)
	return e, cache
}

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func do(t *testing.T, e *echo.Echo, method, target, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func TestPriceEndpoint(t *testing.T) {
	e, _ := newTestServer(t)

	rec, env := do(t, e, http.MethodGet, "/api/prices/eur-usd", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var res models.ValidationResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.True(t, res.IsValid)
	assert.Equal(t, models.CurrencyPair("EURUSD"), res.Pair)
	assert.InDelta(t, 1.17210, *res.ConsensusPrice, 1e-9)
}

func TestPriceEndpointReportsRejection(t *testing.T) {
	e, _ := newTestServer(t)

	rec, env := do(t, e, http.MethodGet, "/api/prices/GBPUSD", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var res models.ValidationResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.False(t, res.IsValid)
	assert.Nil(t, res.ConsensusPrice)
	assert.Equal(t, models.ReasonInsufficientSources, res.Reason)
}

func TestPriceEndpointRejectsBadPair(t *testing.T) {
	e, _ := newTestServer(t)

	rec, _ := do(t, e, http.MethodGet, "/api/prices/EUR1SD", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, e, http.MethodGet, "/api/prices/EU", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPricesEndpoint(t *testing.T) {
	e, _ := newTestServer(t)

	rec, env := do(t, e, http.MethodGet, "/api/prices?pairs=eurusd,GBPUSD,EURUSD", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var out pricesResponse
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, 2, out.Total)
	assert.Equal(t, 1, out.Valid)
	assert.True(t, out.Results["EURUSD"].IsValid)
}

func TestClearCacheEndpoint(t *testing.T) {
	e, cache := newTestServer(t)
	do(t, e, http.MethodGet, "/api/prices/EURUSD", "")
	require.Len(t, cache.m, 1)

	rec, _ := do(t, e, http.MethodDelete, "/api/prices/cache", "")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, cache.m)
}

func TestValidateSignalsEndpoint(t *testing.T) {
	e, _ := newTestServer(t)
	body := `{"source":"scanner","forex_alerts":[
		{"pair":"EURUSD","entry_price":1.0950,"confidence":0.9},
		{"pair":"GBPUSD","entry_price":1.2710,"confidence":1.7}
	]}`

	rec, env := do(t, e, http.MethodPost, "/api/signals/validate", body)

	require.Equal(t, http.StatusOK, rec.Code)
	var out signalResponse
	require.NoError(t, json.Unmarshal(env.Data, &out))
	require.Len(t, out.Signal.ForexAlerts, 1)
	assert.True(t, out.Signal.HasRealData)
	assert.Equal(t, 1.0, *out.Signal.ForexAlerts[0].Confidence)
	require.Len(t, out.Rejections, 1)
	assert.Equal(t, models.RejectBanned, out.Rejections[0].Reason)
}

func TestValidateSignalsEndpointRequiresAlerts(t *testing.T) {
	e, _ := newTestServer(t)

	rec, _ := do(t, e, http.MethodPost, "/api/signals/validate", `{"source":"x"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryDisabled(t *testing.T) {
	e, _ := newTestServer(t)

	rec, _ := do(t, e, http.MethodGet, "/api/prices/EURUSD/history", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatsAndHealth(t *testing.T) {
	e, _ := newTestServer(t)
	do(t, e, http.MethodGet, "/api/prices/EURUSD", "")

	rec, env := do(t, e, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats models.ValidationStats
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, 3, stats.MinSources)
	assert.EqualValues(t, 1, stats.Outcomes[models.ReasonValidated])

	rec, env = do(t, e, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var h healthResponse
	require.NoError(t, json.Unmarshal(env.Data, &h))
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "disabled", h.History)
	assert.Equal(t, 3, h.Sources)
}
