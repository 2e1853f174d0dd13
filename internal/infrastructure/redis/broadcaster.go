package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/honeynil/CurrencyExchangeTochka/internal/notify"
)

// Broadcaster pushes notifications to Redis pub/sub channels so that branch
// dashboards and customer sessions receive them live.
type Broadcaster struct {
	client RedisClient
	prefix string
}

func NewBroadcaster(client RedisClient, prefix string) *Broadcaster {
	if prefix == "" {
		prefix = "exchange"
	}
	return &Broadcaster{client: client, prefix: prefix}
}

// Channel returns the channel a notification is published on.
func (b *Broadcaster) Channel(n notify.Notification) string {
	switch n.Audience {
	case notify.AudienceCustomer:
		return fmt.Sprintf("%s:user:%d", b.prefix, n.UserID)
	case notify.AudienceBranch:
		return fmt.Sprintf("%s:branch:%d", b.prefix, n.BranchID)
	default:
		return b.prefix + ":admin"
	}
}

func (b *Broadcaster) Notify(ctx context.Context, n notify.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal %s notification: %w", n.EventType, err)
	}
	channel := b.Channel(n)
	if err := b.client.Publish(ctx, channel, payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}
