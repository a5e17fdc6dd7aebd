// Package notify delivers stage outcome messages to operators.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/weather-warehouse-etl/internal/observability"
	"github.com/google/uuid"
)

// Message is one stage notification.
type Message struct {
	ID          string    `json:"id"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
	ExecutionID string    `json:"execution_id"`
	Process     string    `json:"process"`
	Status      string    `json:"status"`
	Attempt     int       `json:"attempt"`
	MaxAttempts int       `json:"max_attempts"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewMessage stamps a message with a fresh id.
func NewMessage(subject, body string, ts time.Time) Message {
	return Message{ID: uuid.NewString(), Subject: subject, Body: body, Timestamp: ts.UTC()}
}

// Notifier delivers messages.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Sink is a named Notifier.
type Sink interface {
	Notifier
	Name() string
}

// Multi fans a message out to every sink. One failing sink does not stop
// delivery to the others.
type Multi struct {
	sinks   []Sink
	metrics *observability.Metrics
}

// NewMulti creates a fan-out over sinks.
func NewMulti(metrics *observability.Metrics, sinks ...Sink) *Multi {
	return &Multi{sinks: sinks, metrics: metrics}
}

// Notify sends msg to every sink and joins the delivery errors.
func (m *Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Notify(ctx, msg); err != nil {
			m.metrics.NotifyErrors.WithLabelValues(s.Name()).Inc()
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// LogSink writes messages to the structured log.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Name returns the sink identifier.
func (s *LogSink) Name() string { return "log" }

// Notify logs the message at info, or error for a failed status.
func (s *LogSink) Notify(ctx context.Context, msg Message) error {
	level := slog.LevelInfo
	if msg.Status == "failed" {
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, msg.Subject,
		"message_id", msg.ID,
		"execution_id", msg.ExecutionID,
		"process", msg.Process,
		"status", msg.Status,
		"attempt", msg.Attempt,
		"body", msg.Body,
	)
	return nil
}
