// Package events publishes transaction outcomes for downstream consumers.
// Publishing is strictly best-effort: a broker failure never fails the
// transaction that produced the event.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

type TransactionCompleted struct {
	IdempotencyToken string          `json:"idempotency_token"`
	AccountID        string          `json:"account_id"`
	Direction        string          `json:"direction"`
	Amount           decimal.Decimal `json:"amount"`
	ResultingBalance decimal.Decimal `json:"resulting_balance"`
	OccurredAt       time.Time       `json:"occurred_at"`
}

type Publisher interface {
	PublishTransactionCompleted(ctx context.Context, event TransactionCompleted) error
}

type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

func (p *KafkaPublisher) PublishTransactionCompleted(ctx context.Context, event TransactionCompleted) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		// Keyed by account so per-account events stay ordered within a partition.
		Key:   []byte(event.AccountID),
		Value: data,
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NoopPublisher is used when Kafka is not configured and in tests.
type NoopPublisher struct{}

func (NoopPublisher) PublishTransactionCompleted(context.Context, TransactionCompleted) error {
	return nil
}
