package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain repository.Metrics using Prometheus.
type Recorder struct {
	validations   *prometheus.CounterVec
	sourceFetches *prometheus.CounterVec
	fetchLatency  *prometheus.HistogramVec
	cacheLookups  *prometheus.CounterVec
	variance      *prometheus.GaugeVec
	lastPrice     *prometheus.GaugeVec
	rejections    *prometheus.CounterVec
}

// New registers collectors on the default registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers collectors on reg. Tests pass prometheus.NewRegistry().
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		validations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fxguard_validations_total",
				Help: "Validation outcomes per pair",
			},
			[]string{"pair", "result"},
		),
		sourceFetches: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fxguard_source_fetch_total",
				Help: "Adapter fetches by outcome",
			},
			[]string{"source", "result"},
		),
		fetchLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fxguard_source_fetch_seconds",
				Help:    "Adapter fetch duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"source"},
		),
		cacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fxguard_cache_lookups_total",
				Help: "Validated-price cache lookups by tier and result",
			},
			[]string{"tier", "result"},
		),
		variance: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fxguard_consensus_variance",
				Help: "Max relative deviation from the mean of the last accepted batch",
			},
			[]string{"pair"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fxguard_last_consensus_price",
				Help: "Last accepted consensus price",
			},
			[]string{"pair"},
		),
		rejections: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fxguard_enforcement_rejections_total",
				Help: "Alerts dropped by signal enforcement",
			},
			[]string{"pair", "reason"},
		),
	}
}

func (r *Recorder) RecordValidation(pair, result string) {
	r.validations.WithLabelValues(pair, result).Inc()
}

func (r *Recorder) RecordSourceFetch(source, result string, seconds float64) {
	r.sourceFetches.WithLabelValues(source, result).Inc()
	r.fetchLatency.WithLabelValues(source).Observe(seconds)
}

func (r *Recorder) RecordCacheLookup(tier, result string) {
	r.cacheLookups.WithLabelValues(tier, result).Inc()
}

func (r *Recorder) RecordConsensus(pair string, price, variance float64) {
	r.lastPrice.WithLabelValues(pair).Set(price)
	r.variance.WithLabelValues(pair).Set(variance)
}

func (r *Recorder) RecordRejection(pair, reason string) {
	r.rejections.WithLabelValues(pair, reason).Inc()
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordValidation(string, string)           {}
func (Nop) RecordSourceFetch(string, string, float64) {}
func (Nop) RecordCacheLookup(string, string)          {}
func (Nop) RecordConsensus(string, float64, float64)  {}
func (Nop) RecordRejection(string, string)            {}
