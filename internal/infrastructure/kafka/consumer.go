package kafka

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/honeynil/CurrencyExchangeTochka/internal/models"
	service "github.com/honeynil/CurrencyExchangeTochka/internal/services"
	pkgerrors "github.com/honeynil/CurrencyExchangeTochka/pkg/errors"
	"github.com/segmentio/kafka-go"
)

const PaymentsActor = "system:payments"

// PaymentEvent is published by the payment collaborator whenever a payment changes state.
type PaymentEvent struct {
	TransactionCode string    `json:"transaction_code"`
	Status          string    `json:"status"`
	Amount          int64     `json:"amount"`
	OccurredAt      time.Time `json:"occurred_at"`
}

type PaymentHandler interface {
	GetTransaction(ctx context.Context, code string) (*service.TransactionView, error)
	TransitionStatus(ctx context.Context, transactionID int64, status models.StatusType, actor string) (*service.TransitionResult, error)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer marks buy transactions paid when a succeeded payment event arrives.
type Consumer struct {
	reader  messageReader
	handler PaymentHandler
}

func NewConsumer(brokers []string, topic, groupID string, handler PaymentHandler) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		}),
		handler: handler,
	}
}

// Consume processes messages until ctx is cancelled. An offset is committed only after its
// message was handled or judged unprocessable.
func (c *Consumer) Consume(ctx context.Context) {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("failed to read Kafka message", "error", err)
			continue
		}

		slog.Info("Kafka message received", "topic", msg.Topic, "key", string(msg.Key), "offset", msg.Offset)

		if err := c.handleWithRetry(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			// TODO: route to a dead-letter topic once the payments team provisions one.
			slog.Error("dropping payment event", "topic", msg.Topic, "offset", msg.Offset, "error", err)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			slog.Error("failed to commit Kafka offset", "topic", msg.Topic, "offset", msg.Offset, "error", err)
		}
	}
}

func (c *Consumer) handleWithRetry(ctx context.Context, msg kafka.Message) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	return backoff.Retry(func() error {
		err := c.Handle(ctx, msg)
		if err == nil || pkgerrors.IsRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, b)
}

// Handle applies one payment event.
func (c *Consumer) Handle(ctx context.Context, msg kafka.Message) error {
	var event PaymentEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("%w: malformed payment event: %v", pkgerrors.ErrInvalidInput, err)
	}
	if event.TransactionCode == "" {
		return fmt.Errorf("%w: payment event without transaction_code", pkgerrors.ErrInvalidInput)
	}
	if event.Status != "succeeded" {
		slog.Debug("ignoring payment event", "transaction_code", event.TransactionCode, "status", event.Status)
		return nil
	}

	view, err := c.handler.GetTransaction(ctx, event.TransactionCode)
	if err != nil {
		return err
	}
	tx := view.Transaction
	if tx.Type != models.TypeBuy {
		slog.Warn("payment received for a sell transaction", "transaction_id", tx.ID, "transaction_code", tx.Code)
		return nil
	}

	result, err := c.handler.TransitionStatus(ctx, tx.ID, models.StatusPaid, PaymentsActor)
	if stderrors.Is(err, pkgerrors.ErrInvalidTransition) {
		// Paid after it was already settled, cancelled or expired, or moved past paid.
		slog.Warn("payment arrived for transaction that cannot become paid",
			"transaction_id", tx.ID, "status", tx.Status, "error", err)
		return nil
	}
	if err != nil {
		return err
	}

	slog.Info("payment applied", "transaction_id", tx.ID, "transaction_code", tx.Code, "applied", result.Applied)
	return nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
