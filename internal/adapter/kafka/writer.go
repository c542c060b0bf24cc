package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/tinglebot/weather-service/internal/config"
	"github.com/tinglebot/weather-service/internal/domain"
)

// messageWriter is the subset of kafkago.Writer used by Publisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher produces weather announcements to a Kafka topic.
// It implements announce.Publisher.
type Publisher struct {
	writer messageWriter
	logger *slog.Logger
}

// NewPublisher creates a Kafka producer for the configured announcement topic.
func NewPublisher(cfg *config.Config, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaAnnounceTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Publisher{writer: w, logger: logger}
}

// Publish writes one announcement, keyed by village so a village's posts stay
// ordered within a partition.
func (p *Publisher) Publish(ctx context.Context, a domain.Announcement) error {
	msg, err := serializeToMessage(a)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s announcement for %s: %w", a.Kind, a.Village, err)
	}
	p.logger.Debug("announcement published", "village", a.Village, "kind", a.Kind, "period_start", a.PeriodStart)
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage marshals an Announcement into a Kafka message.
func serializeToMessage(a domain.Announcement) (kafkago.Message, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize announcement: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(a.Village),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "kind", Value: []byte(a.Kind)},
			{Key: "period_start", Value: []byte(a.PeriodStart.UTC().Format(time.RFC3339))},
		},
	}, nil
}
