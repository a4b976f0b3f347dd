package repository

import (
	"context"

	"ChargeFit/internal/domain/models"
	pkgkafka "ChargeFit/pkg/kafka"
)

type batchProducer interface {
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
}

// KafkaResultPublisher implements ResultPublisher for Kafka. Records are
// keyed by event id so the fits of one event land on one partition.
type KafkaResultPublisher struct {
	producer batchProducer
	topic    string
}

func NewKafkaResultPublisher(producer *pkgkafka.Producer, topic string) *KafkaResultPublisher {
	return &KafkaResultPublisher{producer: producer, topic: topic}
}

func (p *KafkaResultPublisher) PublishBatch(ctx context.Context, records []models.FitRecord) error {
	if len(records) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(records))
	for i, rec := range records {
		key := rec.EventID
		if key == "" {
			key = rec.ID
		}
		msgs[i] = pkgkafka.Message{Key: []byte(key), Value: rec}
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}
