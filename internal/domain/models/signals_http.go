package models

// Requests for the HTTP API. Bound with echo, defaulted with creasty/defaults and
// checked with validator tags.

type PriceRequest struct {
	Pair string `param:"pair" validate:"required,min=6,max=7"`
}

type PricesRequest struct {
	Pairs string `query:"pairs" validate:"omitempty,max=512"`
}

type HistoryRequest struct {
	Pair  string `param:"pair" validate:"required,min=6,max=7"`
	Limit int    `query:"limit" default:"50" validate:"gte=1,lte=1000"`
}

type SignalValidateRequest struct {
	ForexAlerts []ForexAlert `json:"forex_alerts" validate:"required"`
	Source      string       `json:"source"`
}
