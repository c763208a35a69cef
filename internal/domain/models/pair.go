package models

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidPair = errors.New("invalid currency pair")

// CurrencyPair is a 6-letter code, base then quote (EURUSD buys EUR, sells USD).
type CurrencyPair string

// ParsePair normalises "eur/usd", "EUR_USD", "EUR-USD" and "eurusd" to EURUSD.
func ParsePair(s string) (CurrencyPair, error) {
	cleaned := strings.NewReplacer("/", "", "_", "", "-", "", " ", "").Replace(strings.TrimSpace(s))
	cleaned = strings.ToUpper(cleaned)
	if len(cleaned) != 6 {
		return "", fmt.Errorf("%w: %q", ErrInvalidPair, s)
	}
	for _, r := range cleaned {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("%w: %q", ErrInvalidPair, s)
		}
	}
	if cleaned[:3] == cleaned[3:] {
		return "", fmt.Errorf("%w: %q has identical legs", ErrInvalidPair, s)
	}
	return CurrencyPair(cleaned), nil
}

// ParsePairs parses every entry and fails on the first invalid one.
func ParsePairs(raw []string) ([]CurrencyPair, error) {
	out := make([]CurrencyPair, 0, len(raw))
	for _, s := range raw {
		p, err := ParsePair(s)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (p CurrencyPair) String() string { return string(p) }

func (p CurrencyPair) Base() string {
	if len(p) != 6 {
		return ""
	}
	return string(p[:3])
}

func (p CurrencyPair) Quote() string {
	if len(p) != 6 {
		return ""
	}
	return string(p[3:])
}

// Slashed renders EUR/USD.
func (p CurrencyPair) Slashed() string {
	return p.Base() + "/" + p.Quote()
}

func (p CurrencyPair) IsJPY() bool { return p.Quote() == "JPY" }

// Pip is the standard price increment: 0.01 for JPY-quoted pairs, 0.0001 otherwise.
func (p CurrencyPair) Pip() float64 {
	if p.IsJPY() {
		return 0.01
	}
	return 0.0001
}
