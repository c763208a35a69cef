package models

import "time"

// SignalData is a finished batch of trading alerts awaiting delivery.
type SignalData struct {
	ForexAlerts []ForexAlert `json:"forex_alerts"`
	HasRealData bool         `json:"has_real_data"`
	GeneratedAt time.Time    `json:"generated_at,omitempty"`
	Source      string       `json:"source,omitempty"`
}

// ForexAlert is one trade idea. Zero price fields are treated as absent.
type ForexAlert struct {
	Pair       CurrencyPair `json:"pair"`
	Direction  string       `json:"direction,omitempty"`
	Timeframe  string       `json:"timeframe,omitempty"`
	EntryPrice float64      `json:"entry_price,omitempty"`
	ExitPrice  float64      `json:"exit_price,omitempty"`
	StopLoss   float64      `json:"stop_loss,omitempty"`
	TakeProfit float64      `json:"take_profit,omitempty"`
	High       float64      `json:"high,omitempty"`
	Low        float64      `json:"low,omitempty"`
	Average    float64      `json:"average,omitempty"`

	Confidence                   *float64 `json:"confidence,omitempty"`
	WeeklyAchievementProbability *float64 `json:"weekly_achievement_probability,omitempty"`
	SignalCategory               string   `json:"signal_category,omitempty"`
	Reasons                      []string `json:"reasons,omitempty"`
}

// PriceField is a named price-bearing field of an alert.
type PriceField struct {
	Name  string
	Value float64
}

// PriceFields lists every price-bearing field, including absent (zero) ones.
func (a ForexAlert) PriceFields() []PriceField {
	return []PriceField{
		{"entry_price", a.EntryPrice},
		{"exit_price", a.ExitPrice},
		{"stop_loss", a.StopLoss},
		{"take_profit", a.TakeProfit},
		{"high", a.High},
		{"low", a.Low},
		{"average", a.Average},
	}
}

// Signal categories emitted by the scoring layer.
const (
	CategoryStrong         = "Strong"
	CategoryMedium         = "Medium"
	CategoryWeak           = "Weak"
	CategoryStrongEnhanced = "Strong (Enhanced)"
	CategoryMediumEnhanced = "Medium (Enhanced)"
	CategoryWeakEnhanced   = "Weak (Enhanced)"
)

func IsKnownCategory(c string) bool {
	switch c {
	case CategoryStrong, CategoryMedium, CategoryWeak,
		CategoryStrongEnhanced, CategoryMediumEnhanced, CategoryWeakEnhanced:
		return true
	}
	return false
}

type RejectionReason string

const (
	RejectBanned     RejectionReason = "banned literal"
	RejectOutOfRange RejectionReason = "out of range"
	RejectInvalid    RejectionReason = "invalid price"
	RejectBadPair    RejectionReason = "invalid pair"
)

// AlertRejection describes why an alert was dropped by enforcement.
type AlertRejection struct {
	Pair   CurrencyPair    `json:"pair"`
	Field  string          `json:"field"`
	Value  float64         `json:"value"`
	Reason RejectionReason `json:"reason"`
	At     time.Time       `json:"at"`
}

// ValidationRecord is one persisted validation outcome.
type ValidationRecord struct {
	Pair           CurrencyPair `json:"pair"`
	ConsensusPrice float64      `json:"consensus_price"`
	SourcesCount   int          `json:"sources_count"`
	Variance       float64      `json:"variance"`
	IsValid        bool         `json:"is_valid"`
	Reason         string       `json:"reason"`
	Sources        []string     `json:"sources"`
	ValidatedAt    time.Time    `json:"validated_at"`
}

// RecordOf flattens a result for storage.
func RecordOf(r ValidationResult) ValidationRecord {
	price, _ := r.Price()
	return ValidationRecord{
		Pair:           r.Pair,
		ConsensusPrice: price,
		SourcesCount:   r.SourcesCount,
		Variance:       r.Variance,
		IsValid:        r.IsValid,
		Reason:         string(r.Reason),
		Sources:        r.Sources,
		ValidatedAt:    r.ValidatedAt,
	}
}
