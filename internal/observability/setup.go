package observability

import (
	"context"
	"log/slog"

	"github.com/honeynil/CurrencyExchangeTochka/internal/config"
	"github.com/honeynil/CurrencyExchangeTochka/internal/infrastructure/observability"
)

// Setup wires logging, metrics and tracing and returns the tracer shutdown hook.
func Setup(serviceName string, cfg *config.Config) func(context.Context) error {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	observability.InitLogger(level)
	observability.InitMetrics(cfg.MetricsAddr)
	return observability.InitTracing(serviceName, cfg.OTLPEndpoint)
}
