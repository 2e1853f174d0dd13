package rabbitmq

import (
	"context"
	"fmt"

	"github.com/honeynil/CurrencyExchangeTochka/internal/notify"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, body interface{}) error
}

// NotificationSink forwards notifications to the mail and push workers that
// consume the exchange.
type NotificationSink struct {
	publisher Publisher
}

func NewNotificationSink(publisher Publisher) *NotificationSink {
	return &NotificationSink{publisher: publisher}
}

// RoutingKey is "<audience>.<event_type>", e.g. "admin.critical_stock".
func RoutingKey(n notify.Notification) string {
	return string(n.Audience) + "." + string(n.EventType)
}

func (s *NotificationSink) Notify(ctx context.Context, n notify.Notification) error {
	key := RoutingKey(n)
	if err := s.publisher.Publish(ctx, key, n); err != nil {
		return fmt.Errorf("failed to publish %s: %w", key, err)
	}
	return nil
}
