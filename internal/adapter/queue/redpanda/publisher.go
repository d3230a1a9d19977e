// Package redpanda streams usage events to a Redpanda/Kafka topic for
// downstream analytics. Publishing is fire-and-forget: the dispatch path
// never waits on the broker.
package redpanda

import (
	"encoding/json"
	"fmt"

	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/prxatt/kiro-ai-gateway/internal/domain"
)

// Publisher implements domain.UsagePublisher over a franz-go client.
type Publisher struct {
	client *kgo.Client
	topic  string
}

// NewPublisher connects to the given brokers. The topic must already exist
// or the cluster must allow auto-creation.
func NewPublisher(brokers []string, topic string) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=redpanda.NewPublisher: no seed brokers")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.AllowAutoTopicCreation(),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("op=redpanda.NewPublisher: %w", err)
	}
	return &Publisher{client: client, topic: topic}, nil
}

// PublishUsage emits one usage event, keyed by user so per-user events stay
// ordered within a partition. Delivery failures are logged, not returned to
// the caller's request path.
func (p *Publisher) PublishUsage(ctx domain.Context, rec domain.UsageRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("op=redpanda.publish: %w", err)
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(rec.UserID),
		Value: payload,
	}
	p.client.Produce(ctx, record, func(r *kgo.Record, err error) {
		if err != nil {
			slog.Warn("usage event delivery failed",
				slog.String("topic", p.topic),
				slog.String("user_id", rec.UserID),
				slog.Any("error", err))
		}
	})
	return nil
}

// Close flushes pending records and releases the client.
func (p *Publisher) Close() {
	p.client.Close()
}
