package repository

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FxGuard/internal/domain/models"
	pkgch "FxGuard/pkg/clickhouse"
	pkgkafka "FxGuard/pkg/kafka"
	"FxGuard/pkg/logger"
)

// arrayConverter lets []string arguments reach the mock the way clickhouse-go accepts them.
type arrayConverter struct{}

func (arrayConverter) ConvertValue(v interface{}) (driver.Value, error) {
	if s, ok := v.([]string); ok {
		return s, nil
	}
	return driver.DefaultParameterConverter.ConvertValue(v)
}

func newMockStore(t *testing.T) (*ClickHouseValidationStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.ValueConverterOption(arrayConverter{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewClickHouseValidationStore(pkgch.NewClientFromDB(db, "fxguard"), logger.Nop()), mock
}

func TestClickHouseStoreSave(t *testing.T) {
	store, mock := newMockStore(t)
	ts := time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO fxguard\.price_validations`).
		WithArgs(sqlmock.AnyArg(), ts, "EURUSD", 1.1721, int64(3), 0.0004, int64(1), "validated", []string{"a", "b", "c"}).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Save(context.Background(), models.ValidationRecord{
		Pair:           "EURUSD",
		ConsensusPrice: 1.1721,
		SourcesCount:   3,
		Variance:       0.0004,
		IsValid:        true,
		Reason:         "validated",
		Sources:        []string{"a", "b", "c"},
		ValidatedAt:    ts,
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClickHouseStoreSaveRejectedOutcome(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO fxguard\.price_validations`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "USDJPY", 0.0, int64(2), 0.0, int64(0), "insufficient sources", []string{}).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Save(context.Background(), models.ValidationRecord{Pair: "USDJPY", SourcesCount: 2, Reason: "insufficient sources"})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClickHouseStoreRecent(t *testing.T) {
	store, mock := newMockStore(t)
	ts := time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)

	rows := mock.NewRows([]string{"validated_at", "pair", "consensus_price", "sources_count", "variance", "is_valid", "reason", "sources"}).
		AddRow(ts, "EURUSD", 1.1721, uint8(3), 0.0004, uint8(1), "validated", []string{"a", "b", "c"}).
		AddRow(ts.Add(-time.Hour), "EURUSD", 0.0, uint8(1), 0.0, uint8(0), "insufficient sources", []string{"a"})
	mock.ExpectQuery(`(?s)SELECT validated_at, pair .* FROM fxguard\.price_validations`).
		WithArgs("EURUSD", 10).
		WillReturnRows(rows)

	got, err := store.Recent(context.Background(), "EURUSD", 10)

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].IsValid)
	assert.Equal(t, 3, got[0].SourcesCount)
	assert.Equal(t, []string{"a", "b", "c"}, got[0].Sources)
	assert.False(t, got[1].IsValid)
	assert.Equal(t, "insufficient sources", got[1].Reason)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClickHouseStoreInitCreatesSchema(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`CREATE DATABASE IF NOT EXISTS fxguard`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS fxguard\.price_validations`).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.Init(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

type captureWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error { return nil }

func newCaptureProducer(t *testing.T) (*pkgkafka.Producer, *captureWriter) {
	t.Helper()
	w := &captureWriter{}
	p, err := pkgkafka.NewProducer(pkgkafka.WithWriter(w))
	require.NoError(t, err)
	return p, w
}

func header(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestKafkaResultPublisher(t *testing.T) {
	p, w := newCaptureProducer(t)
	pub := NewKafkaResultPublisher(p, "fx.prices.validated")
	price := 1.17210

	require.NoError(t, pub.PublishResult(context.Background(), models.ValidationResult{
		Pair: "EURUSD", ConsensusPrice: &price, IsValid: true, SourcesCount: 3, Reason: models.ReasonValidated,
	}))
	require.NoError(t, pub.PublishResult(context.Background(), models.ValidationResult{Pair: "GBPUSD", Reason: models.ReasonHighVariance}))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "EURUSD", string(msg.Key))

	var ev PriceEvent
	require.NoError(t, json.Unmarshal(msg.Value, &ev))
	assert.Equal(t, 1.17210, ev.Price)
	assert.Equal(t, 3, ev.SourcesCount)
	assert.NotEmpty(t, ev.EventID)
	assert.Equal(t, ev.EventID, header(msg, "event_id"))
}

func TestKafkaSignalPublisher(t *testing.T) {
	p, w := newCaptureProducer(t)
	pub := NewKafkaSignalPublisher(p, "fx.signals.clean", "fx.signals.rejected")
	ctx := context.Background()

	require.NoError(t, pub.PublishSignals(ctx, models.SignalData{Source: "scanner", HasRealData: true}))
	require.NoError(t, pub.PublishRejections(ctx, nil))
	require.NoError(t, pub.PublishRejections(ctx, []models.AlertRejection{
		{Pair: "EURUSD", Field: "entry_price", Value: 1.095, Reason: models.RejectBanned},
		{Pair: "USDJPY", Field: "take_profit", Value: 300, Reason: models.RejectOutOfRange},
	}))

	require.Len(t, w.msgs, 3)
	assert.Equal(t, "fx.signals.clean", w.msgs[0].Topic)
	assert.Equal(t, "fx.signals.rejected", w.msgs[1].Topic)
	assert.Equal(t, "USDJPY", string(w.msgs[2].Key))
	assert.NotEqual(t, header(w.msgs[1], "event_id"), header(w.msgs[2], "event_id"))
}
