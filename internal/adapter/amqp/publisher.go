// Package amqp publishes stage notifications to a durable RabbitMQ queue.
package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/couchcryptid/weather-warehouse-etl/internal/notify"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultQueue receives notifications when no queue is configured.
const DefaultQueue = "weather-etl-notifications"

// Publisher is a notify.Sink. Notifications are rare, so each one opens its
// own connection and channel and closes them before returning.
type Publisher struct {
	url   string
	queue string
	dial  func(url string) (*amqp.Connection, error)
}

// NewPublisher creates a Publisher for the broker at url.
func NewPublisher(url, queue string) *Publisher {
	if queue == "" {
		queue = DefaultQueue
	}
	return &Publisher{url: url, queue: queue, dial: amqp.Dial}
}

// Name identifies the sink in metrics and logs.
func (p *Publisher) Name() string { return "amqp" }

// Notify declares the queue and publishes msg as a persistent JSON message.
func (p *Publisher) Notify(ctx context.Context, msg notify.Message) error {
	pub, err := publishing(msg)
	if err != nil {
		return err
	}

	conn, err := p.dial(p.url)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open amqp channel: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", p.queue, err)
	}
	if err := ch.PublishWithContext(ctx, "", p.queue, false, false, pub); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

func publishing(msg notify.Message) (amqp.Publishing, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("serialize notification: %w", err)
	}
	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     msg.ID,
		CorrelationId: msg.ExecutionID,
		Timestamp:     msg.Timestamp,
		Type:          msg.Status,
		Headers: amqp.Table{
			"process": msg.Process,
			"sent_at": msg.Timestamp.Format(time.RFC3339),
		},
		Body: body,
	}, nil
}
