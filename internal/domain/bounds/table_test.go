package bounds

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"FxGuard/internal/domain/models"
)

func TestDefaultTable(t *testing.T) {
	tb := Default()

	cases := []struct {
		pair       string
		price      float64
		ok, config bool
	}{
		{"EURUSD", 1.1721, true, true},
		{"EURUSD", 1.15, true, true},
		{"EURUSD", 1.20, true, true},
		{"EURUSD", 1.0950, false, true},
		{"USDJPY", 400, false, true},
		{"USDJPY", 149.5, true, true},
		{"XAUUSD", 2400, true, false},
	}
	for _, c := range cases {
		ok, configured := tb.InRange(models.CurrencyPair(c.pair), c.price)
		assert.Equal(t, c.ok, ok, "%s %v", c.pair, c.price)
		assert.Equal(t, c.config, configured, "%s %v", c.pair, c.price)
	}
}

func TestStrictRejectsUnbounded(t *testing.T) {
	tb := New(WithStrict(true))
	ok, configured := tb.InRange("XAUUSD", 2400)
	assert.False(t, ok)
	assert.False(t, configured)
}

func TestIsBanned(t *testing.T) {
	tb := Default()

	assert.True(t, tb.IsBanned("EURUSD", 1.0950))
	assert.True(t, tb.IsBanned("EURUSD", 1.0955))
	assert.True(t, tb.IsBanned("EURUSD", 1.09))
	assert.False(t, tb.IsBanned("EURUSD", 1.1720))
	assert.True(t, tb.IsBanned("USDJPY", 110.0))
	assert.False(t, tb.IsBanned("GBPUSD", 1.0950))
}

func TestWithCopiesTable(t *testing.T) {
	base := Default()
	derived := base.With(WithRange("EURUSD", 1.0, 1.3), WithBanned("EURUSD"))

	ok, _ := derived.InRange("EURUSD", 1.05)
	assert.True(t, ok)
	assert.False(t, derived.IsBanned("EURUSD", 1.0950))

	ok, _ = base.InRange("EURUSD", 1.05)
	assert.False(t, ok)
	assert.True(t, base.IsBanned("EURUSD", 1.0950))
}

func TestWithoutDefaults(t *testing.T) {
	tb := New(WithoutDefaults(), WithRange("EURUSD", 1, 2))
	assert.Len(t, tb.Pairs(), 1)
	assert.False(t, tb.IsBanned("EURUSD", 1.0950))
}
