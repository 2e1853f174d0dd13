// Package rates supplies the commercial parameters of a trade: base rates, commission and limits.
package rates

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/honeynil/CurrencyExchangeTochka/internal/config"
	"github.com/honeynil/CurrencyExchangeTochka/internal/infrastructure/redis"
	"github.com/honeynil/CurrencyExchangeTochka/internal/money"
	pkgerrors "github.com/honeynil/CurrencyExchangeTochka/pkg/errors"
	"github.com/shopspring/decimal"
)

// Snapshot is the set of parameters in force for one admission decision.
// Quantities are USD minor units.
type Snapshot struct {
	BuyRate           decimal.Decimal
	SellRate          decimal.Decimal
	CommissionPercent decimal.Decimal
	TTL               time.Duration
	MinQuantity       int64
	MaxQuantity       int64
}

func (s Snapshot) validate() error {
	if !s.BuyRate.IsPositive() || !s.SellRate.IsPositive() {
		return fmt.Errorf("%w: rates must be positive", pkgerrors.ErrRatesUnavailable)
	}
	if s.CommissionPercent.IsNegative() || s.CommissionPercent.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return fmt.Errorf("%w: commission %s out of range", pkgerrors.ErrRatesUnavailable, s.CommissionPercent)
	}
	return nil
}

type Provider interface {
	Current(ctx context.Context) (Snapshot, error)
}

// StaticProvider serves the values loaded at startup.
type StaticProvider struct {
	snap Snapshot
}

func NewStaticProvider(snap Snapshot) (*StaticProvider, error) {
	if err := snap.validate(); err != nil {
		return nil, err
	}
	return &StaticProvider{snap: snap}, nil
}

// FromConfig builds the startup snapshot from the service configuration.
func FromConfig(cfg *config.Config) (Snapshot, error) {
	minQty, err := money.Parse(money.USD, cfg.MinQuantity)
	if err != nil {
		return Snapshot{}, fmt.Errorf("invalid MIN_QUANTITY: %w", err)
	}
	maxQty, err := money.Parse(money.USD, cfg.MaxQuantity)
	if err != nil {
		return Snapshot{}, fmt.Errorf("invalid MAX_QUANTITY: %w", err)
	}
	if minQty <= 0 || maxQty < minQty {
		return Snapshot{}, fmt.Errorf("quantity limits [%s, %s] are inconsistent", cfg.MinQuantity, cfg.MaxQuantity)
	}
	return Snapshot{
		BuyRate:           cfg.BuyRate,
		SellRate:          cfg.SellRate,
		CommissionPercent: cfg.CommissionPercent,
		TTL:               cfg.ReservationTTL,
		MinQuantity:       minQty,
		MaxQuantity:       maxQty,
	}, nil
}

func (p *StaticProvider) Current(ctx context.Context) (Snapshot, error) {
	return p.snap, nil
}

const overridesKey = "exchange:rates"

// RedisProvider layers admin-published overrides from a Redis hash over a fallback provider.
// Recognised fields are buy_rate, sell_rate and commission_percent.
type RedisProvider struct {
	client   redis.RedisClient
	fallback Provider
}

func NewRedisProvider(client redis.RedisClient, fallback Provider) *RedisProvider {
	return &RedisProvider{client: client, fallback: fallback}
}

func (p *RedisProvider) Current(ctx context.Context) (Snapshot, error) {
	snap, err := p.fallback.Current(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	fields, err := p.client.HGetAll(ctx, overridesKey)
	if err != nil {
		slog.Warn("rate overrides unavailable, using configured rates", "key", overridesKey, "error", err)
		return snap, nil
	}

	overridden := snap
	for field, target := range map[string]*decimal.Decimal{
		"buy_rate":           &overridden.BuyRate,
		"sell_rate":          &overridden.SellRate,
		"commission_percent": &overridden.CommissionPercent,
	} {
		raw, ok := fields[field]
		if !ok {
			continue
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			slog.Warn("ignoring malformed rate override", "field", field, "value", raw, "error", err)
			continue
		}
		*target = v
	}

	if err := overridden.validate(); err != nil {
		slog.Warn("rejecting rate overrides", "error", err)
		return snap, nil
	}
	return overridden, nil
}
