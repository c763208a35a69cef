package usecase

import (
	"context"
	"math"
	"time"

	"FxGuard/internal/domain/bounds"
	"FxGuard/internal/domain/models"
	domrepo "FxGuard/internal/domain/repository"
	"FxGuard/pkg/logger"
)

// Enforcer is the last check on finished signals before delivery. It only consults
// the bounds table, so it also catches prices that never went through the Validator.
type Enforcer struct {
	table   *bounds.Table
	log     *logger.Logger
	metrics domrepo.Metrics
	now     func() time.Time
}

func NewEnforcer(table *bounds.Table, log *logger.Logger, metrics domrepo.Metrics) *Enforcer {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Enforcer{table: table, log: log.With("enforcer"), metrics: metrics, now: time.Now}
}

// ValidateForexPrice checks a single price. The reason is empty when ok.
func (e *Enforcer) ValidateForexPrice(pair models.CurrencyPair, price float64) (bool, models.RejectionReason) {
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return false, models.RejectInvalid
	}
	if e.table.IsBanned(pair, price) {
		return false, models.RejectBanned
	}
	if ok, _ := e.table.InRange(pair, price); !ok {
		return false, models.RejectOutOfRange
	}
	return true, ""
}

// ValidateSignalData returns a cleaned copy of signal: alerts carrying a banned,
// out-of-range or malformed price are dropped, score fields are clamped to [0,1],
// and HasRealData reflects whether anything survived. The input is not modified and
// a second pass over the output changes nothing.
func (e *Enforcer) ValidateSignalData(ctx context.Context, signal models.SignalData) (models.SignalData, []models.AlertRejection) {
	out := signal
	out.ForexAlerts = make([]models.ForexAlert, 0, len(signal.ForexAlerts))
	var rejections []models.AlertRejection

	for _, alert := range signal.ForexAlerts {
		if ctx.Err() != nil {
			break
		}
		clean, rej, ok := e.checkAlert(alert)
		if !ok {
			rejections = append(rejections, rej)
			e.metrics.RecordRejection(rej.Pair.String(), string(rej.Reason))
			e.log.Warn("alert rejected",
				logger.String("pair", rej.Pair.String()),
				logger.String("field", rej.Field),
				logger.Float64("value", rej.Value),
				logger.String("reason", string(rej.Reason)),
			)
			continue
		}
		out.ForexAlerts = append(out.ForexAlerts, clean)
	}

	if err := ctx.Err(); err != nil {
		e.log.Warn("signal enforcement interrupted, delivering nothing",
			logger.Int("checked", len(out.ForexAlerts)+len(rejections)),
			logger.Error(err),
		)
		out.ForexAlerts = []models.ForexAlert{}
	}
	out.HasRealData = len(out.ForexAlerts) > 0
	if len(rejections) > 0 {
		e.log.Info("signal enforcement finished",
			logger.Int("kept", len(out.ForexAlerts)),
			logger.Int("rejected", len(rejections)),
		)
	}
	return out, rejections
}

func (e *Enforcer) checkAlert(alert models.ForexAlert) (models.ForexAlert, models.AlertRejection, bool) {
	pair, err := models.ParsePair(string(alert.Pair))
	if err != nil {
		return alert, models.AlertRejection{Pair: alert.Pair, Field: "pair", Reason: models.RejectBadPair, At: e.now().UTC()}, false
	}
	alert.Pair = pair

	for _, f := range alert.PriceFields() {
		if f.Value == 0 {
			continue
		}
		if ok, reason := e.ValidateForexPrice(pair, f.Value); !ok {
			return alert, models.AlertRejection{Pair: pair, Field: f.Name, Value: f.Value, Reason: reason, At: e.now().UTC()}, false
		}
	}

	alert.Confidence = clampUnit(alert.Confidence)
	alert.WeeklyAchievementProbability = clampUnit(alert.WeeklyAchievementProbability)

	if alert.SignalCategory != "" && !models.IsKnownCategory(alert.SignalCategory) {
		e.log.Warn("unknown signal category", logger.String("pair", pair.String()), logger.String("category", alert.SignalCategory))
	}
	return alert, models.AlertRejection{}, true
}

// clampUnit returns a fresh pointer so the caller's value is never aliased.
func clampUnit(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	switch {
	case math.IsNaN(c):
		c = 0
	case c < 0:
		c = 0
	case c > 1:
		c = 1
	}
	return &c
}
