// Package kafka publishes event lifecycle changes to a Kafka topic as an
// optional, best-effort change feed for downstream consumers.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/Joboufra/v16-tracker-ingestor/internal/domain"
)

// Writer produces change-feed messages. It implements the poller's Syncer
// boundary alongside the Elasticsearch client.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a producer for the configured change-feed topic.
func NewWriter(brokers []string, topic string, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.LeastBytes{},
		RequiredAcks:           kafkago.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return &Writer{writer: w, logger: logger}
}

// Name identifies this sink in logs and metrics.
func (w *Writer) Name() string { return "kafka" }

// Persist publishes the cycle's active upserts and newly-lost events in one
// WriteMessages call. Events are keyed by identity so a compacted topic keeps
// the latest state per incident.
func (w *Writer) Persist(ctx context.Context, active, lost []domain.Event, lostAt time.Time) error {
	msgs := make([]kafkago.Message, 0, len(active)+len(lost))
	for _, event := range active {
		msg, err := Message(event, nil)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	for _, event := range lost {
		msg, err := Message(event, &lostAt)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return nil
	}
	return w.writer.WriteMessages(ctx, msgs...)
}

// Close flushes and closes the producer.
func (w *Writer) Close() error {
	return w.writer.Close()
}

// Message marshals an event into a change-feed message. lostAt is non-nil
// only for events that transitioned to lost this cycle.
func Message(event domain.Event, lostAt *time.Time) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize event %s: %w", event.ID, err)
	}
	headers := []kafkago.Header{
		{Key: "estado", Value: []byte(event.Status)},
	}
	if lostAt != nil {
		headers = append(headers, kafkago.Header{
			Key: "lost_at", Value: []byte(lostAt.Format(time.RFC3339)),
		})
	}
	return kafkago.Message{
		Key:     []byte(event.ID),
		Value:   data,
		Headers: headers,
	}, nil
}
