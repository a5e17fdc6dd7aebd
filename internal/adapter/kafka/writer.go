package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/couchcryptid/weather-warehouse-etl/internal/notify"
	kafkago "github.com/segmentio/kafka-go"
)

const writeTimeout = 10 * time.Second

// Notifier publishes stage notifications to a Kafka topic.
// It implements notify.Sink.
type Notifier struct {
	writer *kafkago.Writer
}

// NewNotifier creates a Kafka producer for the notification topic.
func NewNotifier(brokers []string, topic string) *Notifier {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		WriteTimeout:           writeTimeout,
		AllowAutoTopicCreation: true,
	}
	return &Notifier{writer: w}
}

// Name returns the sink identifier.
func (n *Notifier) Name() string { return "kafka" }

// Notify publishes msg keyed by its execution id, so every notification of
// one execution lands on the same partition.
func (n *Notifier) Notify(ctx context.Context, msg notify.Message) error {
	m, err := serializeToMessage(msg)
	if err != nil {
		return err
	}
	if err := n.writer.WriteMessages(ctx, m); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

func (n *Notifier) Close() error {
	return n.writer.Close()
}

// serializeToMessage marshals a notification into a Kafka message.
func serializeToMessage(msg notify.Message) (kafkago.Message, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize notification: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(msg.ExecutionID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "process", Value: []byte(msg.Process)},
			{Key: "status", Value: []byte(msg.Status)},
			{Key: "sent_at", Value: []byte(msg.Timestamp.Format(time.RFC3339))},
		},
	}, nil
}
