package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"FxGuard/internal/domain/models"
	domrepo "FxGuard/internal/domain/repository"
	"FxGuard/pkg/logger"
)

// SignalFilter consumes raw signal batches, enforces them and forwards the clean
// result. A batch with nothing left is not forwarded at all.
type SignalFilter struct {
	topic     string
	enforcer  *Enforcer
	publisher domrepo.SignalPublisher
	log       *logger.Logger
}

func NewSignalFilter(topic string, enforcer *Enforcer, publisher domrepo.SignalPublisher, log *logger.Logger) *SignalFilter {
	return &SignalFilter{topic: topic, enforcer: enforcer, publisher: publisher, log: log.With("signal_filter")}
}

func (f *SignalFilter) Topic() string { return f.topic }

// Handle returns an error for undecodable payloads and failed publishes so the
// consumer retries and eventually dead-letters them.
func (f *SignalFilter) Handle(ctx context.Context, data []byte) error {
	var in models.SignalData
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("decode signal batch: %w", err)
	}

	out, rejections := f.enforcer.ValidateSignalData(ctx, in)

	if err := f.publisher.PublishRejections(ctx, rejections); err != nil {
		return fmt.Errorf("publish rejections: %w", err)
	}
	if !out.HasRealData {
		f.log.Warn("signal batch suppressed, no alert passed enforcement",
			logger.String("source", in.Source),
			logger.Int("alerts", len(in.ForexAlerts)),
			logger.Int("rejected", len(rejections)),
		)
		return nil
	}
	if err := f.publisher.PublishSignals(ctx, out); err != nil {
		return fmt.Errorf("publish clean signals: %w", err)
	}

	f.log.Info("signal batch forwarded",
		logger.String("source", out.Source),
		logger.Int("alerts", len(out.ForexAlerts)),
		logger.Int("rejected", len(rejections)),
	)
	return nil
}
