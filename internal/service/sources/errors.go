package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"FxGuard/internal/domain/models"
	xhttp "FxGuard/pkg/http"
)

type ErrorKind string

const (
	KindNetwork     ErrorKind = "network"
	KindStatus      ErrorKind = "status"
	KindParse       ErrorKind = "parse"
	KindAuth        ErrorKind = "auth"
	KindRateLimited ErrorKind = "rate_limited"
	KindUnsupported ErrorKind = "unsupported"
	KindTimeout     ErrorKind = "timeout"
	KindStale       ErrorKind = "stale"
)

// FetchError is the only error type adapters return.
type FetchError struct {
	Source string
	Pair   models.CurrencyPair
	Kind   ErrorKind
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Source, e.Pair, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func newFetchError(source string, pair models.CurrencyPair, kind ErrorKind, err error) *FetchError {
	return &FetchError{Source: source, Pair: pair, Kind: kind, Err: err}
}

// KindOf extracts the kind of a fetch failure; unknown errors are network errors.
func KindOf(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindNetwork
}

var (
	errUnsupportedPair = errors.New("pair not supported by source")
	errQuotaExhausted  = errors.New("local quota exhausted")
	errMissingPrice    = errors.New("price missing from response")
)

// classify maps a transport error onto a kind.
func classify(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	var se *xhttp.StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return KindAuth
		case http.StatusTooManyRequests:
			return KindRateLimited
		}
		return KindStatus
	}
	return KindNetwork
}
