package service

import (
	"context"
	"log/slog"

	"github.com/honeynil/CurrencyExchangeTochka/internal/infrastructure/observability"
)

func logger(ctx context.Context, attrs ...any) *slog.Logger {
	return observability.WithContext(ctx, attrs...)
}
