package rates_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/honeynil/CurrencyExchangeTochka/internal/config"
	redismocks "github.com/honeynil/CurrencyExchangeTochka/internal/infrastructure/redis/mocks"
	"github.com/honeynil/CurrencyExchangeTochka/internal/rates"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseSnapshot() rates.Snapshot {
	return rates.Snapshot{
		BuyRate:           decimal.RequireFromString("1000"),
		SellRate:          decimal.RequireFromString("980"),
		CommissionPercent: decimal.RequireFromString("1.5"),
		TTL:               24 * time.Hour,
		MinQuantity:       1000,
		MaxQuantity:       1000000,
	}
}

func TestFromConfig(t *testing.T) {
	cfg := &config.Config{
		BuyRate:           decimal.RequireFromString("1000"),
		SellRate:          decimal.RequireFromString("980"),
		CommissionPercent: decimal.RequireFromString("2"),
		ReservationTTL:    time.Hour,
		MinQuantity:       "10.00",
		MaxQuantity:       "10000.00",
	}

	snap, err := rates.FromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), snap.MinQuantity)
	assert.Equal(t, int64(1000000), snap.MaxQuantity)
	assert.Equal(t, time.Hour, snap.TTL)

	cfg.MinQuantity = "10.001"
	_, err = rates.FromConfig(cfg)
	assert.Error(t, err)
}

func TestStaticProvider_RejectsZeroRate(t *testing.T) {
	snap := baseSnapshot()
	snap.BuyRate = decimal.Zero
	_, err := rates.NewStaticProvider(snap)
	assert.Error(t, err)
}

func TestRedisProvider_Current(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	client := redismocks.NewMockRedisClient(ctrl)
	static, err := rates.NewStaticProvider(baseSnapshot())
	require.NoError(t, err)
	provider := rates.NewRedisProvider(client, static)
	ctx := context.Background()

	t.Run("Overrides", func(t *testing.T) {
		client.EXPECT().HGetAll(gomock.Any(), "exchange:rates").
			Return(map[string]string{"buy_rate": "1050.25", "commission_percent": "oops"}, nil)

		snap, err := provider.Current(ctx)
		require.NoError(t, err)
		assert.True(t, snap.BuyRate.Equal(decimal.RequireFromString("1050.25")))
		assert.True(t, snap.SellRate.Equal(decimal.RequireFromString("980")))
		assert.True(t, snap.CommissionPercent.Equal(decimal.RequireFromString("1.5")))
	})

	t.Run("RedisDown", func(t *testing.T) {
		client.EXPECT().HGetAll(gomock.Any(), "exchange:rates").Return(nil, errors.New("connection refused"))

		snap, err := provider.Current(ctx)
		require.NoError(t, err)
		assert.True(t, snap.BuyRate.Equal(decimal.RequireFromString("1000")))
	})

	t.Run("InvalidOverrideIgnored", func(t *testing.T) {
		client.EXPECT().HGetAll(gomock.Any(), "exchange:rates").Return(map[string]string{"commission_percent": "150"}, nil)

		snap, err := provider.Current(ctx)
		require.NoError(t, err)
		assert.True(t, snap.CommissionPercent.Equal(decimal.RequireFromString("1.5")))
	})
}
