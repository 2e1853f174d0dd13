package redis

import (
	"context"
	"fmt"
	"time"
)

// AlertDeduper remembers which alerts were already raised so each is sent once per window.
type AlertDeduper struct {
	client RedisClient
	ttl    time.Duration
}

func NewAlertDeduper(client RedisClient, ttl time.Duration) *AlertDeduper {
	return &AlertDeduper{client: client, ttl: ttl}
}

// FirstSeen reports whether kind has not been raised for the transaction within the window.
func (d *AlertDeduper) FirstSeen(ctx context.Context, kind string, transactionID int64) (bool, error) {
	key := fmt.Sprintf("alert:%s:%d", kind, transactionID)
	first, err := d.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), d.ttl)
	if err != nil {
		return false, fmt.Errorf("failed to record alert %s: %w", key, err)
	}
	return first, nil
}

// IdempotencyStore maps client-supplied request keys onto the transaction codes they produced.
type IdempotencyStore struct {
	client RedisClient
	ttl    time.Duration
}

func NewIdempotencyStore(client RedisClient, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{client: client, ttl: ttl}
}

// Claim takes ownership of key. It returns false when another request already holds it.
func (s *IdempotencyStore) Claim(ctx context.Context, key string) (bool, error) {
	return s.client.SetNX(ctx, idempotencyKey(key), "", s.ttl)
}

// Complete records the transaction code created for key.
func (s *IdempotencyStore) Complete(ctx context.Context, key, transactionCode string) error {
	return s.client.Set(ctx, idempotencyKey(key), transactionCode, s.ttl)
}

// Release drops an unfinished claim so the client can retry.
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, idempotencyKey(key))
}

// Result returns the transaction code stored for key; it is empty while the first request is in flight.
func (s *IdempotencyStore) Result(ctx context.Context, key string) (string, error) {
	return s.client.Get(ctx, idempotencyKey(key))
}

func idempotencyKey(key string) string {
	return "idempotency:reservation:" + key
}
