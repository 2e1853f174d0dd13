package redis_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/honeynil/CurrencyExchangeTochka/internal/infrastructure/redis"
	"github.com/honeynil/CurrencyExchangeTochka/internal/infrastructure/redis/mocks"
	"github.com/honeynil/CurrencyExchangeTochka/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcaster_Channel(t *testing.T) {
	b := redis.NewBroadcaster(nil, "")

	assert.Equal(t, "exchange:user:7", b.Channel(notify.Notification{Audience: notify.AudienceCustomer, UserID: 7, BranchID: 1}))
	assert.Equal(t, "exchange:branch:1", b.Channel(notify.Notification{Audience: notify.AudienceBranch, UserID: 7, BranchID: 1}))
	assert.Equal(t, "exchange:admin", b.Channel(notify.Notification{Audience: notify.AudienceAdmin, BranchID: 1}))
}

func TestBroadcaster_Notify(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	client := mocks.NewMockRedisClient(ctrl)
	b := redis.NewBroadcaster(client, "fx")
	n := notify.Notification{
		Audience:        notify.AudienceBranch,
		EventType:       notify.EventReservationCreated,
		TransactionCode: "EX-ABC",
		BranchID:        4,
	}

	t.Run("Publishes", func(t *testing.T) {
		client.EXPECT().Publish(gomock.Any(), "fx:branch:4", gomock.Any()).
			DoAndReturn(func(_ context.Context, _ string, message interface{}) error {
				var got notify.Notification
				require.NoError(t, json.Unmarshal(message.([]byte), &got))
				assert.Equal(t, "EX-ABC", got.TransactionCode)
				return nil
			})

		assert.NoError(t, b.Notify(context.Background(), n))
	})

	t.Run("PublishError", func(t *testing.T) {
		client.EXPECT().Publish(gomock.Any(), "fx:branch:4", gomock.Any()).Return(errors.New("connection refused"))

		err := b.Notify(context.Background(), n)
		assert.ErrorContains(t, err, "fx:branch:4")
	})
}
