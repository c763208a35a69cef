package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FxGuard/internal/domain/models"
	"FxGuard/internal/service/ratelimit"
	xhttp "FxGuard/pkg/http"
)

func serve(t *testing.T, status int, body string, check func(r *http.Request)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func testClient() *xhttp.Client {
	return xhttp.NewClient(xhttp.WithTimeout(2 * time.Second))
}

func TestProvidersParsePrice(t *testing.T) {
	type ctor func(Params, *xhttp.Client, *ratelimit.Limiter) *RESTAdapter

	cases := []struct {
		name  string
		ctor  ctor
		pair  models.CurrencyPair
		body  string
		want  float64
		check func(t *testing.T, r *http.Request)
	}{
		{
			name: NameExchangeRate, ctor: NewExchangeRate, pair: "EURUSD",
			body: `{"result":"success","base_code":"EUR","target_code":"USD","conversion_rate":1.1721}`,
			want: 1.1721,
			check: func(t *testing.T, r *http.Request) {
				assert.Equal(t, "/v6/k/pair/EUR/USD", r.URL.Path)
			},
		},
		{
			name: NameFixer, ctor: NewFixer, pair: "GBPUSD",
			body: `{"success":true,"base":"EUR","rates":{"GBP":0.8600,"USD":1.1610}}`,
			want: 1.1610 / 0.8600,
			check: func(t *testing.T, r *http.Request) {
				assert.Equal(t, "GBP,USD", r.URL.Query().Get("symbols"))
				assert.Equal(t, "k", r.URL.Query().Get("access_key"))
			},
		},
		{
			name: NameExchangeRatesAPI, ctor: NewExchangeRatesAPI, pair: "EURUSD",
			body: `{"success":true,"base":"EUR","rates":{"USD":1.1720}}`,
			want: 1.1720,
		},
		{
			name: NameCurrencyAPI, ctor: NewCurrencyAPI, pair: "USDJPY",
			body: `{"meta":{},"data":{"JPY":{"code":"JPY","value":149.72}}}`,
			want: 149.72,
			check: func(t *testing.T, r *http.Request) {
				assert.Equal(t, "USD", r.URL.Query().Get("base_currency"))
				assert.Equal(t, "JPY", r.URL.Query().Get("currencies"))
			},
		},
		{
			name: NameFreeCurrency, ctor: NewFreeCurrency, pair: "USDCAD",
			body: `{"data":{"CAD":1.3791}}`,
			want: 1.3791,
		},
		{
			name: NameAlphaVantage, ctor: NewAlphaVantage, pair: "EURUSD",
			body: `{"Realtime Currency Exchange Rate":{"1. From_Currency Code":"EUR","5. Exchange Rate":"1.17250000"}}`,
			want: 1.1725,
			check: func(t *testing.T, r *http.Request) {
				assert.Equal(t, "CURRENCY_EXCHANGE_RATE", r.URL.Query().Get("function"))
			},
		},
		{
			name: NameTwelveData, ctor: NewTwelveData, pair: "EURUSD",
			body: `{"price":"1.17180"}`,
			want: 1.1718,
			check: func(t *testing.T, r *http.Request) {
				assert.Equal(t, "EUR/USD", r.URL.Query().Get("symbol"))
			},
		},
		{
			name: NameYahoo, ctor: NewYahoo, pair: "USDJPY",
			body: `{"chart":{"result":[{"meta":{"symbol":"JPY=X","regularMarketPrice":149.81}}],"error":null}}`,
			want: 149.81,
			check: func(t *testing.T, r *http.Request) {
				assert.Equal(t, "/v8/finance/chart/JPY=X", r.URL.Path)
			},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			base := serve(t, http.StatusOK, c.body, func(r *http.Request) {
				if c.check != nil {
					c.check(t, r)
				}
			})
			a := c.ctor(Params{APIKey: "k", BaseURL: base, Priority: 2}, testClient(), nil)

			obs, err := a.Fetch(context.Background(), c.pair)
			require.NoError(t, err)
			assert.Equal(t, c.name, obs.Source)
			assert.Equal(t, c.pair, obs.Pair)
			assert.InDelta(t, c.want, obs.Price, 1e-9)
			assert.False(t, obs.ObservedAt.IsZero())
			assert.Equal(t, 2, a.Priority())
		})
	}
}

func TestProviderFailuresAreTyped(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		ctor   func(Params, *xhttp.Client, *ratelimit.Limiter) *RESTAdapter
		want   ErrorKind
	}{
		{"http 401", http.StatusUnauthorized, `{}`, NewCurrencyAPI, KindAuth},
		{"http 429", http.StatusTooManyRequests, `{}`, NewFreeCurrency, KindRateLimited},
		{"http 500", http.StatusInternalServerError, `oops`, NewYahoo, KindStatus},
		{"not json", http.StatusOK, `<html>`, NewYahoo, KindParse},
		{"missing price", http.StatusOK, `{"data":{}}`, NewFreeCurrency, KindParse},
		{"zero price", http.StatusOK, `{"data":{"USD":0}}`, NewFreeCurrency, KindParse},
		{"exchangerate bad key", http.StatusOK, `{"result":"error","error-type":"invalid-key"}`, NewExchangeRate, KindAuth},
		{"fixer quota", http.StatusOK, `{"success":false,"error":{"code":104,"info":"limit"}}`, NewFixer, KindRateLimited},
		{"alphavantage note", http.StatusOK, `{"Note":"Thank you for using Alpha Vantage"}`, NewAlphaVantage, KindRateLimited},
		{"twelvedata error", http.StatusOK, `{"code":401,"message":"bad key","status":"error"}`, NewTwelveData, KindAuth},
		{"yahoo not found", http.StatusOK, `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data"}}}`, NewYahoo, KindUnsupported},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			base := serve(t, c.status, c.body, nil)
			a := c.ctor(Params{APIKey: "k", BaseURL: base}, testClient(), nil)

			_, err := a.Fetch(context.Background(), "EURUSD")
			require.Error(t, err)
			var fe *FetchError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, c.want, fe.Kind, err.Error())
			assert.Equal(t, models.CurrencyPair("EURUSD"), fe.Pair)
		})
	}
}

func TestProviderTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	a := NewYahoo(Params{BaseURL: srv.URL}, testClient(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := a.Fetch(ctx, "EURUSD")
	assert.Equal(t, KindTimeout, KindOf(err))
}

func TestProviderLocalQuota(t *testing.T) {
	hits := 0
	base := serve(t, http.StatusOK, `{"data":{"USD":1.17}}`, func(*http.Request) { hits++ })

	lim := ratelimit.New()
	lim.Register(NameFreeCurrency, 10, 1)
	a := NewFreeCurrency(Params{APIKey: "k", BaseURL: base}, testClient(), lim)

	_, err := a.Fetch(context.Background(), "EURUSD")
	require.NoError(t, err)
	_, err = a.Fetch(context.Background(), "EURUSD")
	assert.Equal(t, KindRateLimited, KindOf(err))
	assert.Equal(t, 1, hits)
}

func TestYahooSymbol(t *testing.T) {
	assert.Equal(t, "EURUSD=X", YahooSymbol("EURUSD"))
	assert.Equal(t, "JPY=X", YahooSymbol("USDJPY"))
	assert.Equal(t, "CHF=X", YahooSymbol("USDCHF"))
	assert.Equal(t, "GBPJPY=X", YahooSymbol("GBPJPY"))
}
