package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/honeynil/CurrencyExchangeTochka/internal/api"
	"github.com/honeynil/CurrencyExchangeTochka/internal/config"
	"github.com/honeynil/CurrencyExchangeTochka/internal/handler"
	"github.com/honeynil/CurrencyExchangeTochka/internal/infrastructure/kafka"
	"github.com/honeynil/CurrencyExchangeTochka/internal/infrastructure/rabbitmq"
	"github.com/honeynil/CurrencyExchangeTochka/internal/infrastructure/redis"
	"github.com/honeynil/CurrencyExchangeTochka/internal/ledger"
	"github.com/honeynil/CurrencyExchangeTochka/internal/models"
	"github.com/honeynil/CurrencyExchangeTochka/internal/money"
	"github.com/honeynil/CurrencyExchangeTochka/internal/notify"
	"github.com/honeynil/CurrencyExchangeTochka/internal/observability"
	"github.com/honeynil/CurrencyExchangeTochka/internal/rates"
	"github.com/honeynil/CurrencyExchangeTochka/internal/repository"
	"github.com/honeynil/CurrencyExchangeTochka/internal/repository/memory"
	core "github.com/honeynil/CurrencyExchangeTochka/internal/repository/postgres"
	"github.com/honeynil/CurrencyExchangeTochka/internal/scheduler"
	service "github.com/honeynil/CurrencyExchangeTochka/internal/services"
	_ "github.com/lib/pq"
)

type storage struct {
	uow      repository.UnitOfWork
	reads    repository.Repositories
	branches repository.BranchRepository
	payments repository.PaymentLedger
	close    func() error
}

func openStorage(cfg *config.Config) (*storage, error) {
	if cfg.StorageDriver == "memory" {
		slog.Warn("using in-memory storage, state is lost on restart")
		store := memory.NewStore()
		return &storage{
			uow:      store,
			reads:    store.Repositories(),
			branches: store,
			payments: store,
			close:    func() error { return nil },
		}, nil
	}

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	txm := core.NewTxManager(db, cfg.LockTimeout)
	return &storage{
		uow:      txm,
		reads:    txm.Repositories(),
		branches: core.NewPostgresBranchRepository(db),
		payments: core.NewPostgresPaymentLedger(db),
		close:    db.Close,
	}, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Инициализируем логи, метрики, трейсы
	shutdownTracing := observability.Setup("exchange-service", cfg)
	defer shutdownTracing(context.Background())

	// Подключаемся к хранилищу
	store, err := openStorage(cfg)
	if err != nil {
		slog.Error("failed to open storage", "driver", cfg.StorageDriver, "error", err)
		os.Exit(1)
	}
	defer store.close()

	// Redis не обязателен: без него нет live-уведомлений, дедупликации и идемпотентности
	var (
		redisClient redis.RedisClient
		dedupe      service.AlertDeduper
		idempotency handler.Idempotency
	)
	sinks := notify.Fanout{}
	if client, err := redis.NewClient(cfg.RedisAddr); err != nil {
		slog.Warn("redis unavailable, continuing without it", "error", err)
	} else {
		defer client.Close()
		redisClient = client
		dedupe = redis.NewAlertDeduper(client, cfg.AlertDedupeTTL)
		idempotency = redis.NewIdempotencyStore(client, cfg.IdempotencyTTL)
		sinks = append(sinks, redis.NewBroadcaster(client, "exchange"))
	}

	producer := kafka.NewProducer(cfg.KafkaBrokers)
	defer producer.Close()
	sinks = append(sinks, kafka.NewEventSink(producer, cfg.EventsTopic))

	if cfg.RabbitMQURL != "" {
		rmq, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, "exchange.notifications")
		if err != nil {
			slog.Warn("rabbitmq unavailable, customer notifications disabled", "error", err)
		} else {
			defer rmq.Close()
			sinks = append(sinks, rabbitmq.NewNotificationSink(rmq))
		}
	}

	// Курсы: статические из конфига, с переопределением из Redis
	snapshot, err := rates.FromConfig(cfg)
	if err != nil {
		slog.Error("invalid rate configuration", "error", err)
		os.Exit(1)
	}
	static, err := rates.NewStaticProvider(snapshot)
	if err != nil {
		slog.Error("invalid rate configuration", "error", err)
		os.Exit(1)
	}
	var rateProvider rates.Provider = static
	if redisClient != nil {
		rateProvider = rates.NewRedisProvider(redisClient, static)
	}

	threshold, err := money.Parse(money.USD, cfg.LowStockThreshold)
	if err != nil {
		slog.Error("invalid LOW_STOCK_THRESHOLD", "error", err)
		os.Exit(1)
	}
	thresholdARS, err := money.Parse(money.ARS, cfg.LowStockARS)
	if err != nil {
		slog.Error("invalid LOW_STOCK_THRESHOLD_ARS", "error", err)
		os.Exit(1)
	}
	inventory := ledger.New(map[models.Currency]int64{
		models.CurrencyUSD: threshold,
		models.CurrencyARS: thresholdARS,
	})

	// Инициализируем сервис
	svc := service.NewExchangeService(store.uow, store.reads, store.branches, rateProvider, inventory, sinks, service.Settings{
		TxTimeout:     cfg.TxTimeout,
		MaxRetries:    cfg.MaxRetries,
		RetryInterval: 50 * time.Millisecond,
	})

	sweeper := service.NewSweeper(store.reads.Transactions, store.payments, svc, sinks, dedupe, new(atomic.Bool), cfg.SweepBatchSize)
	sched := scheduler.New(sweeper, cfg.SweepInterval, slog.Default())
	if err := sched.Start(); err != nil {
		slog.Error("failed to start sweep scheduler", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Настраиваем Kafka-консьюмер платежей
	payments := kafka.NewConsumer(cfg.KafkaBrokers, cfg.PaymentsTopic, cfg.ConsumerGroup, svc)
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		payments.Consume(ctx)
	}()

	// Настраиваем роутер
	router := api.SetupRouter(handler.NewHandler(svc, sweeper, idempotency), redisClient, cfg.JWTSecret)
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("starting server", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
	<-sched.Stop().Done()
	<-consumerDone
	if err := payments.Close(); err != nil {
		slog.Warn("failed to close payment consumer", "error", err)
	}
	slog.Info("server stopped")
}
