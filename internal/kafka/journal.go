// Package kafka writes the durable event journal: every broadcast emitted on
// the realtime channel is also produced to a Kafka topic for audit and
// out-of-band consumption. The realtime path never depends on it.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"github.com/Markk-dev/Temet-sub000/internal/domain"
)

const journalTopic = "board.events"

// Journal appends board events to the durable feed.
type Journal interface {
	Record(ctx context.Context, workspaceID string, ev domain.Event) error
	Close() error
}

type journal struct {
	writer *kafka.Writer
}

// NewJournal creates a Journal connected to the given brokers. Messages are
// keyed by workspace id so one workspace's history stays ordered within a
// partition.
func NewJournal(brokers []string) Journal {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  journalTopic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		MaxAttempts:            3,
		WriteTimeout:           10 * time.Second,
		ReadTimeout:            10 * time.Second,
		AllowAutoTopicCreation: true,
	}
	return &journal{writer: w}
}

func (j *journal) Record(ctx context.Context, workspaceID string, ev domain.Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal journal event %s: %w", ev.Type, err)
	}

	// Inject the active trace context into message headers so out-of-band
	// consumers can continue the trace.
	headers := make(HeaderCarrier, 0)
	otel.GetTextMapPropagator().Inject(ctx, &headers)

	err = j.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(workspaceID),
		Value:   value,
		Headers: []kafka.Header(headers),
		Time:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("journal %s for workspace %s: %w", ev.Type, workspaceID, err)
	}
	return nil
}

func (j *journal) Close() error {
	return j.writer.Close()
}
