package sources

import (
	"sort"

	"FxGuard/internal/domain/repository"
	"FxGuard/internal/service/ratelimit"
	"FxGuard/pkg/config"
	xhttp "FxGuard/pkg/http"
	"FxGuard/pkg/logger"
)

type factory func(Params, *xhttp.Client, *ratelimit.Limiter) *RESTAdapter

type registration struct {
	name       string
	cfg        config.SourceConfig
	needsKey   bool
	newAdapter factory
}

// Registry is the fixed set of adapters registered at startup. An adapter that is
// disabled or has no API key is simply absent.
type Registry struct {
	adapters []repository.SourceAdapter
}

// NewRegistry builds the REST adapters from cfg. stream, when non-nil, is appended.
func NewRegistry(cfg *config.Config, limiter *ratelimit.Limiter, log *logger.Logger, stream *FinnhubStream) *Registry {
	s := cfg.Sources
	regs := []registration{
		{NameYahoo, s.Yahoo, false, NewYahoo},
		{NameAlphaVantage, s.AlphaVantage, true, NewAlphaVantage},
		{NameTwelveData, s.TwelveData, true, NewTwelveData},
		{NameExchangeRate, s.ExchangeRate, true, NewExchangeRate},
		{NameFreeCurrency, s.FreeCurrency, true, NewFreeCurrency},
		{NameCurrencyAPI, s.CurrencyAPI, true, NewCurrencyAPI},
		{NameFixer, s.Fixer, true, NewFixer},
		{NameExchangeRatesAPI, s.ExchangeRatesAPI, true, NewExchangeRatesAPI},
	}

	r := &Registry{}
	for _, reg := range regs {
		if !reg.cfg.Enabled {
			log.Debug("source disabled", logger.String("source", reg.name))
			continue
		}
		if reg.needsKey && reg.cfg.APIKey == "" {
			log.Debug("source not registered: no api key", logger.String("source", reg.name))
			continue
		}

		limiter.Register(reg.name, reg.cfg.DailyLimit, reg.cfg.Burst)
		client := xhttp.NewClient(xhttp.WithTimeout(reg.cfg.Timeout), xhttp.WithUserAgent(s.UserAgent))
		r.Add(reg.newAdapter(Params{
			APIKey:   reg.cfg.APIKey,
			BaseURL:  reg.cfg.BaseURL,
			Priority: reg.cfg.Priority,
		}, client, limiter))
	}
	if stream != nil {
		r.Add(stream)
	}

	log.Info("price sources registered", logger.Strings("sources", r.Names()))
	return r
}

// NewStaticRegistry wraps an explicit adapter list.
func NewStaticRegistry(adapters ...repository.SourceAdapter) *Registry {
	r := &Registry{}
	for _, a := range adapters {
		r.Add(a)
	}
	return r
}

// Add registers a keeping the list ordered by priority; ties keep insertion order.
func (r *Registry) Add(a repository.SourceAdapter) {
	r.adapters = append(r.adapters, a)
	sort.SliceStable(r.adapters, func(i, j int) bool {
		return r.adapters[i].Priority() < r.adapters[j].Priority()
	})
}

// Adapters returns the registered adapters in priority order.
func (r *Registry) Adapters() []repository.SourceAdapter {
	out := make([]repository.SourceAdapter, len(r.adapters))
	copy(out, r.adapters)
	return out
}

func (r *Registry) Names() []string {
	names := make([]string, len(r.adapters))
	for i, a := range r.adapters {
		names[i] = a.Name()
	}
	return names
}

func (r *Registry) Len() int { return len(r.adapters) }
