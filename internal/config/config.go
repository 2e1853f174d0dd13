package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	PostgresDSN   string   `mapstructure:"POSTGRES_DSN"`
	StorageDriver string   `mapstructure:"STORAGE_DRIVER"`
	RedisAddr     string   `mapstructure:"REDIS_ADDR"`
	KafkaBrokers  []string `mapstructure:"-"`
	RabbitMQURL   string   `mapstructure:"RABBITMQ_URL"`
	JWTSecret     string   `mapstructure:"JWT_SECRET"`
	HTTPAddr      string   `mapstructure:"HTTP_ADDR"`
	MetricsAddr   string   `mapstructure:"METRICS_ADDR"`
	OTLPEndpoint  string   `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Debug         bool     `mapstructure:"DEBUG"`

	EventsTopic   string `mapstructure:"KAFKA_EVENTS_TOPIC"`
	PaymentsTopic string `mapstructure:"KAFKA_PAYMENTS_TOPIC"`
	ConsumerGroup string `mapstructure:"KAFKA_CONSUMER_GROUP"`

	BuyRate           decimal.Decimal `mapstructure:"-"`
	SellRate          decimal.Decimal `mapstructure:"-"`
	CommissionPercent decimal.Decimal `mapstructure:"-"`
	MinQuantity       string          `mapstructure:"MIN_QUANTITY"`
	MaxQuantity       string          `mapstructure:"MAX_QUANTITY"`
	LowStockThreshold string          `mapstructure:"LOW_STOCK_THRESHOLD"`
	LowStockARS       string          `mapstructure:"LOW_STOCK_THRESHOLD_ARS"`

	ReservationTTL time.Duration `mapstructure:"RESERVATION_TTL"`
	SweepInterval  time.Duration `mapstructure:"SWEEP_INTERVAL"`
	SweepBatchSize int           `mapstructure:"SWEEP_BATCH_SIZE"`
	LockTimeout    time.Duration `mapstructure:"LOCK_TIMEOUT"`
	TxTimeout      time.Duration `mapstructure:"TX_TIMEOUT"`
	MaxRetries     int           `mapstructure:"MAX_RETRIES"`
	AlertDedupeTTL time.Duration `mapstructure:"ALERT_DEDUPE_TTL"`
	IdempotencyTTL time.Duration `mapstructure:"IDEMPOTENCY_TTL"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("POSTGRES_DSN", "host=localhost user=postgres password=postgres dbname=exchange sslmode=disable")
	v.SetDefault("STORAGE_DRIVER", "postgres")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("KAFKA_BROKER", "localhost:9092")
	v.SetDefault("RABBITMQ_URL", "")
	v.SetDefault("JWT_SECRET", "supersecret")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("METRICS_ADDR", ":9090")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("DEBUG", false)

	v.SetDefault("KAFKA_EVENTS_TOPIC", "exchange-events")
	v.SetDefault("KAFKA_PAYMENTS_TOPIC", "payments")
	v.SetDefault("KAFKA_CONSUMER_GROUP", "exchange-core")

	v.SetDefault("BUY_RATE", "1000")
	v.SetDefault("SELL_RATE", "1000")
	v.SetDefault("COMMISSION_PERCENT", "1.5")
	v.SetDefault("MIN_QUANTITY", "10.00")
	v.SetDefault("MAX_QUANTITY", "10000.00")
	v.SetDefault("LOW_STOCK_THRESHOLD", "100.00")
	v.SetDefault("LOW_STOCK_THRESHOLD_ARS", "100000.00")

	v.SetDefault("RESERVATION_TTL", 24*time.Hour)
	v.SetDefault("SWEEP_INTERVAL", 5*time.Minute)
	v.SetDefault("SWEEP_BATCH_SIZE", 500)
	v.SetDefault("LOCK_TIMEOUT", 5*time.Second)
	v.SetDefault("TX_TIMEOUT", 15*time.Second)
	v.SetDefault("MAX_RETRIES", 3)
	v.SetDefault("ALERT_DEDUPE_TTL", 6*time.Hour)
	v.SetDefault("IDEMPOTENCY_TTL", 24*time.Hour)
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, using environment and defaults", "error", err)
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	for _, key := range v.AllKeys() {
		_ = v.BindEnv(strings.ToUpper(key))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for _, b := range strings.Split(v.GetString("KAFKA_BROKER"), ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
		}
	}

	var err error
	if cfg.BuyRate, err = decimal.NewFromString(v.GetString("BUY_RATE")); err != nil {
		return nil, fmt.Errorf("invalid BUY_RATE: %w", err)
	}
	if cfg.SellRate, err = decimal.NewFromString(v.GetString("SELL_RATE")); err != nil {
		return nil, fmt.Errorf("invalid SELL_RATE: %w", err)
	}
	if cfg.CommissionPercent, err = decimal.NewFromString(v.GetString("COMMISSION_PERCENT")); err != nil {
		return nil, fmt.Errorf("invalid COMMISSION_PERCENT: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	slog.Info("config loaded",
		"storage_driver", cfg.StorageDriver,
		"redis_addr", cfg.RedisAddr,
		"kafka_brokers", cfg.KafkaBrokers,
		"reservation_ttl", cfg.ReservationTTL,
		"sweep_interval", cfg.SweepInterval)
	return &cfg, nil
}

func (c *Config) validate() error {
	if !c.BuyRate.IsPositive() || !c.SellRate.IsPositive() {
		return fmt.Errorf("exchange rates must be positive")
	}
	if c.CommissionPercent.IsNegative() || c.CommissionPercent.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return fmt.Errorf("COMMISSION_PERCENT must be in [0, 100)")
	}
	if c.ReservationTTL <= 0 {
		return fmt.Errorf("RESERVATION_TTL must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	if c.MaxRetries < 1 {
		c.MaxRetries = 1
	}
	if c.SweepBatchSize <= 0 {
		c.SweepBatchSize = 500
	}
	return nil
}
