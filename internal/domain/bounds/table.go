// Package bounds holds the per-pair sanity ranges and the deny-list of literal prices
// known to come from hardcoded fallbacks rather than a live market.
package bounds

import (
	"math"
	"sort"

	"FxGuard/internal/domain/models"
)

// DefaultTolerance is the absolute distance at which a price matches a banned literal.
const DefaultTolerance = 0.001

// Range is an inclusive [Min, Max] price band.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func (r Range) Contains(price float64) bool {
	return price >= r.Min && price <= r.Max
}

// Table is read-only after construction and safe for concurrent use.
type Table struct {
	ranges    map[models.CurrencyPair]Range
	banned    map[models.CurrencyPair][]float64
	tolerance float64
	strict    bool
}

type Option func(*Table)

// WithRange adds or replaces the band for pair.
func WithRange(pair models.CurrencyPair, min, max float64) Option {
	return func(t *Table) {
		t.ranges[pair] = Range{Min: min, Max: max}
	}
}

// WithBanned replaces the deny-list for pair.
func WithBanned(pair models.CurrencyPair, prices ...float64) Option {
	return func(t *Table) {
		t.banned[pair] = append([]float64(nil), prices...)
	}
}

func WithTolerance(tol float64) Option {
	return func(t *Table) {
		if tol > 0 {
			t.tolerance = tol
		}
	}
}

// WithStrict makes pairs without a configured band fail InRange.
func WithStrict(strict bool) Option {
	return func(t *Table) {
		t.strict = strict
	}
}

// WithoutDefaults starts from an empty table. Must be the first option.
func WithoutDefaults() Option {
	return func(t *Table) {
		t.ranges = make(map[models.CurrencyPair]Range)
		t.banned = make(map[models.CurrencyPair][]float64)
	}
}

// New builds a table from the curated defaults plus opts.
func New(opts ...Option) *Table {
	t := &Table{
		ranges:    defaultRanges(),
		banned:    defaultBanned(),
		tolerance: DefaultTolerance,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Default returns the curated table.
func Default() *Table { return New() }

// InRange reports whether price is acceptable for pair and whether pair has a
// configured band at all. Unconfigured pairs pass unless the table is strict.
func (t *Table) InRange(pair models.CurrencyPair, price float64) (ok bool, configured bool) {
	r, found := t.ranges[pair]
	if !found {
		return !t.strict, false
	}
	return r.Contains(price), true
}

// Range returns the band for pair.
func (t *Table) Range(pair models.CurrencyPair) (Range, bool) {
	r, ok := t.ranges[pair]
	return r, ok
}

// IsBanned reports whether price matches a deny-listed literal for pair.
func (t *Table) IsBanned(pair models.CurrencyPair, price float64) bool {
	for _, b := range t.banned[pair] {
		if math.Abs(price-b) < t.tolerance {
			return true
		}
	}
	return false
}

// Pairs lists configured pairs in lexical order.
func (t *Table) Pairs() []models.CurrencyPair {
	out := make([]models.CurrencyPair, 0, len(t.ranges))
	for p := range t.ranges {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (t *Table) Strict() bool { return t.strict }

// With returns a copy of t with opts applied on top. t itself is unchanged.
func (t *Table) With(opts ...Option) *Table {
	cp := &Table{
		ranges:    make(map[models.CurrencyPair]Range, len(t.ranges)),
		banned:    make(map[models.CurrencyPair][]float64, len(t.banned)),
		tolerance: t.tolerance,
		strict:    t.strict,
	}
	for k, v := range t.ranges {
		cp.ranges[k] = v
	}
	for k, v := range t.banned {
		cp.banned[k] = append([]float64(nil), v...)
	}
	for _, opt := range opts {
		opt(cp)
	}
	return cp
}
