package bounds

import "FxGuard/internal/domain/models"

// Bands reflect the trading range of the last few years with headroom on each side.
func defaultRanges() map[models.CurrencyPair]Range {
	return map[models.CurrencyPair]Range{
		"EURUSD": {1.15, 1.20},
		"GBPUSD": {1.25, 1.35},
		"USDJPY": {130.0, 160.0},
		"USDCAD": {1.30, 1.45},
		"USDCHF": {0.80, 1.05},
		"AUDUSD": {0.60, 0.75},
		"NZDUSD": {0.55, 0.70},
		"EURJPY": {160.0, 180.0},
		"GBPJPY": {180.0, 200.0},
		"CHFJPY": {165.0, 190.0},
		"EURGBP": {0.80, 0.95},
		"AUDCAD": {0.85, 1.05},
	}
}

// Literals that upstream code used as hardcoded fallbacks.
func defaultBanned() map[models.CurrencyPair][]float64 {
	return map[models.CurrencyPair][]float64{
		"EURUSD": {1.0950, 1.095, 1.09},
		"GBPUSD": {1.2650},
		"USDJPY": {110.0},
	}
}
