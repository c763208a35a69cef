package sources

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/tidwall/gjson"

	"FxGuard/internal/domain/models"
	"FxGuard/internal/service/ratelimit"
	xhttp "FxGuard/pkg/http"
)

// endpoint describes one REST provider: how to build the request for a pair and
// where the price sits in the JSON reply.
type endpoint struct {
	name     string
	priority int
	request  func(pair models.CurrencyPair) (*xhttp.RequestOptions, error)
	extract  func(doc gjson.Result, pair models.CurrencyPair) (float64, error)
}

// RESTAdapter implements repository.SourceAdapter for JSON-over-HTTP providers.
type RESTAdapter struct {
	ep      endpoint
	client  *xhttp.Client
	limiter *ratelimit.Limiter
	now     func() time.Time
}

func newRESTAdapter(ep endpoint, client *xhttp.Client, limiter *ratelimit.Limiter) *RESTAdapter {
	if limiter == nil {
		limiter = ratelimit.New()
	}
	return &RESTAdapter{ep: ep, client: client, limiter: limiter, now: time.Now}
}

func (a *RESTAdapter) Name() string  { return a.ep.name }
func (a *RESTAdapter) Priority() int { return a.ep.priority }

func (a *RESTAdapter) Fetch(ctx context.Context, pair models.CurrencyPair) (models.PriceObservation, error) {
	fail := func(kind ErrorKind, err error) (models.PriceObservation, error) {
		return models.PriceObservation{}, newFetchError(a.ep.name, pair, kind, err)
	}

	opts, err := a.ep.request(pair)
	if err != nil {
		return fail(KindUnsupported, err)
	}
	if !a.limiter.Allow(a.ep.name) {
		return fail(KindRateLimited, errQuotaExhausted)
	}

	body, err := a.client.SendAndRead(ctx, opts)
	if err != nil {
		return fail(classify(err), err)
	}
	if !gjson.ValidBytes(body) {
		return fail(KindParse, errors.New("response is not valid JSON"))
	}

	price, err := a.ep.extract(gjson.ParseBytes(body), pair)
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			return models.PriceObservation{}, fe
		}
		return fail(KindParse, err)
	}
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return fail(KindParse, fmt.Errorf("non-positive price %v", price))
	}

	return models.PriceObservation{
		Pair:       pair,
		Price:      price,
		Source:     a.ep.name,
		ObservedAt: a.now().UTC(),
	}, nil
}

// number reads a JSON number or numeric string at path.
func number(doc gjson.Result, path string) (float64, error) {
	v := doc.Get(path)
	if !v.Exists() {
		return 0, fmt.Errorf("%w at %q", errMissingPrice, path)
	}
	switch v.Type {
	case gjson.Number:
		return v.Float(), nil
	case gjson.String:
		f := gjson.Parse(v.Str)
		if f.Type != gjson.Number {
			return 0, fmt.Errorf("%q is not numeric: %q", path, v.Str)
		}
		return f.Float(), nil
	}
	return 0, fmt.Errorf("%q has unexpected type %s", path, v.Type)
}

// apiFailure builds the error for a provider that reports failure inside a 200 reply.
func apiFailure(name string, pair models.CurrencyPair, kind ErrorKind, doc gjson.Result, msgPaths ...string) error {
	msg := "provider reported failure"
	for _, p := range msgPaths {
		if v := doc.Get(p); v.Exists() && v.String() != "" {
			msg = v.String()
			break
		}
	}
	return newFetchError(name, pair, kind, errors.New(msg))
}
