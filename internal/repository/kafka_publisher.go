package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"FxGuard/internal/domain/models"
	domrepo "FxGuard/internal/domain/repository"
	pkgkafka "FxGuard/pkg/kafka"
)

// PriceEvent is the wire form of an accepted consensus price.
type PriceEvent struct {
	EventID      string              `json:"event_id"`
	Pair         models.CurrencyPair `json:"pair"`
	Price        float64             `json:"price"`
	SourcesCount int                 `json:"sources_count"`
	Variance     float64             `json:"variance"`
	Sources      []string            `json:"sources"`
	ValidatedAt  time.Time           `json:"validated_at"`
}

// KafkaResultPublisher announces accepted prices keyed by pair.
type KafkaResultPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

var _ domrepo.ResultPublisher = (*KafkaResultPublisher)(nil)

func NewKafkaResultPublisher(producer *pkgkafka.Producer, topic string) *KafkaResultPublisher {
	return &KafkaResultPublisher{producer: producer, topic: topic}
}

// PublishResult ignores invalid results.
func (p *KafkaResultPublisher) PublishResult(ctx context.Context, res models.ValidationResult) error {
	price, ok := res.Price()
	if !ok {
		return nil
	}
	id := uuid.NewString()
	return p.producer.PublishBatch(ctx, p.topic, []pkgkafka.Message{{
		Key: []byte(res.Pair),
		Value: PriceEvent{
			EventID:      id,
			Pair:         res.Pair,
			Price:        price,
			SourcesCount: res.SourcesCount,
			Variance:     res.Variance,
			Sources:      res.Sources,
			ValidatedAt:  res.ValidatedAt,
		},
		Headers: map[string]string{"event_id": id},
	}})
}

// Close closes the shared producer.
func (p *KafkaResultPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// KafkaSignalPublisher forwards enforced batches and their rejections.
type KafkaSignalPublisher struct {
	producer        *pkgkafka.Producer
	cleanTopic      string
	rejectionsTopic string
}

var _ domrepo.SignalPublisher = (*KafkaSignalPublisher)(nil)

func NewKafkaSignalPublisher(producer *pkgkafka.Producer, cleanTopic, rejectionsTopic string) *KafkaSignalPublisher {
	return &KafkaSignalPublisher{producer: producer, cleanTopic: cleanTopic, rejectionsTopic: rejectionsTopic}
}

func (p *KafkaSignalPublisher) PublishSignals(ctx context.Context, signal models.SignalData) error {
	id := uuid.NewString()
	return p.producer.PublishBatch(ctx, p.cleanTopic, []pkgkafka.Message{{
		Key:     []byte(signal.Source),
		Value:   signal,
		Headers: map[string]string{"event_id": id},
	}})
}

// PublishRejections writes one message per rejection, keyed by pair.
func (p *KafkaSignalPublisher) PublishRejections(ctx context.Context, rejections []models.AlertRejection) error {
	if len(rejections) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(rejections))
	for i, r := range rejections {
		msgs[i] = pkgkafka.Message{
			Key:     []byte(r.Pair),
			Value:   r,
			Headers: map[string]string{"event_id": uuid.NewString()},
		}
	}
	return p.producer.PublishBatch(ctx, p.rejectionsTopic, msgs)
}
