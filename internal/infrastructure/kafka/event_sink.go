package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/honeynil/CurrencyExchangeTochka/internal/notify"
	"github.com/segmentio/kafka-go"
)

// EventSink publishes notifications as domain events keyed by transaction id.
type EventSink struct {
	producer KafkaProducer
	topic    string
}

func NewEventSink(producer KafkaProducer, topic string) *EventSink {
	return &EventSink{producer: producer, topic: topic}
}

func (s *EventSink) Notify(ctx context.Context, n notify.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", n.EventType, err)
	}

	key := strconv.FormatInt(n.TransactionID, 10)
	if n.TransactionID == 0 {
		key = "branch-" + strconv.FormatInt(n.BranchID, 10)
	}
	headers := []kafka.Header{
		{Key: "event_type", Value: []byte(n.EventType)},
		{Key: "audience", Value: []byte(n.Audience)},
	}
	if err := s.producer.Send(ctx, s.topic, key, payload, headers...); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", n.EventType, err)
	}
	return nil
}
