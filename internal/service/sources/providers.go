package sources

import (
	"fmt"
	"net/url"

	"github.com/tidwall/gjson"

	"FxGuard/internal/domain/models"
	"FxGuard/internal/service/ratelimit"
	xhttp "FxGuard/pkg/http"
)

// Provider names double as config keys and metric labels.
const (
	NameExchangeRate     = "exchangerate"
	NameFixer            = "fixer"
	NameCurrencyAPI      = "currencyapi"
	NameFreeCurrency     = "freecurrency"
	NameExchangeRatesAPI = "exchangeratesapi"
	NameAlphaVantage     = "alphavantage"
	NameTwelveData       = "twelvedata"
	NameYahoo            = "yahoo"
)

// Params carries what every REST provider needs.
type Params struct {
	APIKey   string
	BaseURL  string
	Priority int
}

func (p Params) base(def string) string {
	if p.BaseURL != "" {
		return p.BaseURL
	}
	return def
}

func get(u string, query url.Values) *xhttp.RequestOptions {
	return &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		URL:         u,
		Headers:     map[string]string{"Accept": "application/json"},
		QueryParams: query,
	}
}

// NewExchangeRate queries exchangerate-api.com's pair endpoint.
func NewExchangeRate(p Params, client *xhttp.Client, limiter *ratelimit.Limiter) *RESTAdapter {
	base := p.base("https://v6.exchangerate-api.com")
	return newRESTAdapter(endpoint{
		name:     NameExchangeRate,
		priority: p.Priority,
		request: func(pair models.CurrencyPair) (*xhttp.RequestOptions, error) {
			return get(fmt.Sprintf("%s/v6/%s/pair/%s/%s", base, url.PathEscape(p.APIKey), pair.Base(), pair.Quote()), nil), nil
		},
		extract: func(doc gjson.Result, pair models.CurrencyPair) (float64, error) {
			if doc.Get("result").String() != "success" {
				kind := KindStatus
				switch doc.Get("error-type").String() {
				case "invalid-key", "inactive-account":
					kind = KindAuth
				case "quota-reached":
					kind = KindRateLimited
				case "unsupported-code":
					kind = KindUnsupported
				}
				return 0, apiFailure(NameExchangeRate, pair, kind, doc, "error-type")
			}
			return number(doc, "conversion_rate")
		},
	}, client, limiter)
}

// eurCross computes base/quote from a EUR-based rates table, which is all the free
// fixer.io and exchangeratesapi.io plans serve.
func eurCross(name string) func(doc gjson.Result, pair models.CurrencyPair) (float64, error) {
	return func(doc gjson.Result, pair models.CurrencyPair) (float64, error) {
		if !doc.Get("success").Bool() {
			kind := KindStatus
			switch doc.Get("error.code").Int() {
			case 101, 102, 103, 105:
				kind = KindAuth
			case 104:
				kind = KindRateLimited
			case 201, 202:
				kind = KindUnsupported
			}
			return 0, apiFailure(name, pair, kind, doc, "error.info", "error.type")
		}

		rate := func(ccy string) (float64, error) {
			if ccy == "EUR" {
				return 1, nil
			}
			return number(doc, "rates."+ccy)
		}
		b, err := rate(pair.Base())
		if err != nil {
			return 0, err
		}
		q, err := rate(pair.Quote())
		if err != nil {
			return 0, err
		}
		if b <= 0 {
			return 0, fmt.Errorf("non-positive EUR%s rate", pair.Base())
		}
		return q / b, nil
	}
}

func eurRequest(u, key string) func(pair models.CurrencyPair) (*xhttp.RequestOptions, error) {
	return func(pair models.CurrencyPair) (*xhttp.RequestOptions, error) {
		return get(u, url.Values{
			"access_key": {key},
			"symbols":    {pair.Base() + "," + pair.Quote()},
		}), nil
	}
}

// NewFixer queries data.fixer.io.
func NewFixer(p Params, client *xhttp.Client, limiter *ratelimit.Limiter) *RESTAdapter {
	return newRESTAdapter(endpoint{
		name:     NameFixer,
		priority: p.Priority,
		request:  eurRequest(p.base("http://data.fixer.io")+"/api/latest", p.APIKey),
		extract:  eurCross(NameFixer),
	}, client, limiter)
}

// NewExchangeRatesAPI queries api.exchangeratesapi.io.
func NewExchangeRatesAPI(p Params, client *xhttp.Client, limiter *ratelimit.Limiter) *RESTAdapter {
	return newRESTAdapter(endpoint{
		name:     NameExchangeRatesAPI,
		priority: p.Priority,
		request:  eurRequest(p.base("https://api.exchangeratesapi.io")+"/v1/latest", p.APIKey),
		extract:  eurCross(NameExchangeRatesAPI),
	}, client, limiter)
}

// NewCurrencyAPI queries api.currencyapi.com.
func NewCurrencyAPI(p Params, client *xhttp.Client, limiter *ratelimit.Limiter) *RESTAdapter {
	u := p.base("https://api.currencyapi.com") + "/v3/latest"
	return newRESTAdapter(endpoint{
		name:     NameCurrencyAPI,
		priority: p.Priority,
		request: func(pair models.CurrencyPair) (*xhttp.RequestOptions, error) {
			return get(u, url.Values{
				"apikey":        {p.APIKey},
				"base_currency": {pair.Base()},
				"currencies":    {pair.Quote()},
			}), nil
		},
		extract: func(doc gjson.Result, pair models.CurrencyPair) (float64, error) {
			return number(doc, "data."+pair.Quote()+".value")
		},
	}, client, limiter)
}

// NewFreeCurrency queries api.freecurrencyapi.com.
func NewFreeCurrency(p Params, client *xhttp.Client, limiter *ratelimit.Limiter) *RESTAdapter {
	u := p.base("https://api.freecurrencyapi.com") + "/v1/latest"
	return newRESTAdapter(endpoint{
		name:     NameFreeCurrency,
		priority: p.Priority,
		request: func(pair models.CurrencyPair) (*xhttp.RequestOptions, error) {
			return get(u, url.Values{
				"apikey":        {p.APIKey},
				"base_currency": {pair.Base()},
				"currencies":    {pair.Quote()},
			}), nil
		},
		extract: func(doc gjson.Result, pair models.CurrencyPair) (float64, error) {
			return number(doc, "data."+pair.Quote())
		},
	}, client, limiter)
}

// NewAlphaVantage uses the CURRENCY_EXCHANGE_RATE function.
func NewAlphaVantage(p Params, client *xhttp.Client, limiter *ratelimit.Limiter) *RESTAdapter {
	u := p.base("https://www.alphavantage.co") + "/query"
	return newRESTAdapter(endpoint{
		name:     NameAlphaVantage,
		priority: p.Priority,
		request: func(pair models.CurrencyPair) (*xhttp.RequestOptions, error) {
			return get(u, url.Values{
				"function":      {"CURRENCY_EXCHANGE_RATE"},
				"from_currency": {pair.Base()},
				"to_currency":   {pair.Quote()},
				"apikey":        {p.APIKey},
			}), nil
		},
		extract: func(doc gjson.Result, pair models.CurrencyPair) (float64, error) {
			// Throttled replies are 200s carrying only a Note or Information text.
			if doc.Get("Note").Exists() || doc.Get("Information").Exists() {
				return 0, apiFailure(NameAlphaVantage, pair, KindRateLimited, doc, "Note", "Information")
			}
			if doc.Get("Error Message").Exists() {
				return 0, apiFailure(NameAlphaVantage, pair, KindUnsupported, doc, "Error Message")
			}
			return number(doc, `Realtime Currency Exchange Rate.5\. Exchange Rate`)
		},
	}, client, limiter)
}

// NewTwelveData uses the /price endpoint.
func NewTwelveData(p Params, client *xhttp.Client, limiter *ratelimit.Limiter) *RESTAdapter {
	u := p.base("https://api.twelvedata.com") + "/price"
	return newRESTAdapter(endpoint{
		name:     NameTwelveData,
		priority: p.Priority,
		request: func(pair models.CurrencyPair) (*xhttp.RequestOptions, error) {
			return get(u, url.Values{
				"symbol": {pair.Slashed()},
				"apikey": {p.APIKey},
			}), nil
		},
		extract: func(doc gjson.Result, pair models.CurrencyPair) (float64, error) {
			if doc.Get("status").String() == "error" {
				kind := KindStatus
				switch doc.Get("code").Int() {
				case 401, 403:
					kind = KindAuth
				case 429:
					kind = KindRateLimited
				case 400, 404:
					kind = KindUnsupported
				}
				return 0, apiFailure(NameTwelveData, pair, kind, doc, "message")
			}
			return number(doc, "price")
		},
	}, client, limiter)
}

// YahooSymbol maps a pair onto Yahoo Finance's ticker: USD-based pairs are quoted
// as "<QUOTE>=X", everything else as "<PAIR>=X".
func YahooSymbol(pair models.CurrencyPair) string {
	if pair.Base() == "USD" {
		return pair.Quote() + "=X"
	}
	return string(pair) + "=X"
}

// NewYahoo reads regularMarketPrice from the v8 chart endpoint. No key required.
func NewYahoo(p Params, client *xhttp.Client, limiter *ratelimit.Limiter) *RESTAdapter {
	base := p.base("https://query1.finance.yahoo.com")
	return newRESTAdapter(endpoint{
		name:     NameYahoo,
		priority: p.Priority,
		request: func(pair models.CurrencyPair) (*xhttp.RequestOptions, error) {
			return get(base+"/v8/finance/chart/"+url.PathEscape(YahooSymbol(pair)), url.Values{
				"interval": {"1m"},
				"range":    {"1d"},
			}), nil
		},
		extract: func(doc gjson.Result, pair models.CurrencyPair) (float64, error) {
			if e := doc.Get("chart.error"); e.Exists() && e.Type != gjson.Null {
				return 0, apiFailure(NameYahoo, pair, KindUnsupported, doc, "chart.error.description", "chart.error.code")
			}
			return number(doc, "chart.result.0.meta.regularMarketPrice")
		},
	}, client, limiter)
}
