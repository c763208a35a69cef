package usecase

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FxGuard/internal/domain/models"
	"FxGuard/pkg/logger"
)

type countingValidator struct {
	runs atomic.Int32
}

func (c *countingValidator) ValidatePrices(_ context.Context, pairs []models.CurrencyPair) map[models.CurrencyPair]models.ValidationResult {
	c.runs.Add(1)
	out := make(map[models.CurrencyPair]models.ValidationResult, len(pairs))
	for _, p := range pairs {
		if p == "USDJPY" {
			out[p] = models.ValidationResult{Pair: p, Reason: models.ReasonOutOfRange}
			continue
		}
		price := 1.0
		out[p] = models.ValidationResult{Pair: p, IsValid: true, ConsensusPrice: &price, Reason: models.ReasonValidated}
	}
	return out
}

func TestSchedulerRunOnceSummarises(t *testing.T) {
	v := &countingValidator{}
	s, err := NewScheduler(SchedulerConfig{Specs: []string{"0 6 * * *"}}, v, []models.CurrencyPair{"GBPUSD", "EURUSD", "USDJPY"}, logger.Nop())
	require.NoError(t, err)

	sum := s.RunOnce(context.Background())

	assert.Equal(t, []models.CurrencyPair{"EURUSD", "GBPUSD"}, sum.Valid)
	assert.Equal(t, map[models.CurrencyPair]models.Reason{"USDJPY": models.ReasonOutOfRange}, sum.Rejected)
	assert.Equal(t, sum.Valid, s.LastRun().Valid)
}

func TestSchedulerRejectsBadSpecAndTimezone(t *testing.T) {
	_, err := NewScheduler(SchedulerConfig{Specs: []string{"every day"}}, &countingValidator{}, nil, logger.Nop())
	assert.Error(t, err)

	_, err = NewScheduler(SchedulerConfig{Specs: []string{"@daily"}, Timezone: "Mars/Olympus"}, &countingValidator{}, nil, logger.Nop())
	assert.Error(t, err)
}

func TestSchedulerRunOnStart(t *testing.T) {
	v := &countingValidator{}
	s, err := NewScheduler(SchedulerConfig{Specs: []string{"@every 1h"}, Timezone: "UTC", RunOnStart: true}, v, []models.CurrencyPair{"EURUSD"}, logger.Nop())
	require.NoError(t, err)

	s.Start(context.Background())
	assert.Eventually(t, func() bool { return v.runs.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}
