package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/firewatch-sync/internal/config"
	"github.com/couchcryptid/firewatch-sync/internal/domain"
)

// Writer publishes user notifications to a Kafka topic.
// It implements domain.Notifier.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates an async Kafka producer for the notification topic.
// Delivery failures are logged; notifications are never retried.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaNotifyTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion: func(msgs []kafkago.Message, err error) {
			if err != nil {
				logger.Error("notification publish failed", "messages", len(msgs), "error", err)
			}
		},
	}
	return &Writer{writer: w, logger: logger}
}

// Notify enqueues n for publishing, keyed by identity so one user's
// notifications stay ordered on a partition.
func (w *Writer) Notify(ctx context.Context, n domain.Notification) {
	msg, err := serializeToMessage(n)
	if err != nil {
		w.logger.Error("notification not published", "operation", n.Operation, "error", err)
		return
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		w.logger.Error("notification not published", "operation", n.Operation, "error", err)
	}
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a Notification into a Kafka message.
func serializeToMessage(n domain.Notification) (kafkago.Message, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize notification: %w", err)
	}
	kind := n.Kind
	if kind == "" {
		kind = string(n.Level)
	}
	return kafkago.Message{
		Key:   []byte(n.Identity),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "kind", Value: []byte(kind)},
			{Key: "created_at", Value: []byte(n.At.Format(time.RFC3339))},
		},
	}, nil
}
