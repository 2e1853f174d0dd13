// Package notify delivers domain events to customers, branches and administrators.
//
// Delivery is best-effort and always happens after the state change it describes is committed.
package notify

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/honeynil/CurrencyExchangeTochka/internal/infrastructure/observability"
	"github.com/honeynil/CurrencyExchangeTochka/internal/models"
)

type Audience string

const (
	AudienceCustomer Audience = "customer"
	AudienceBranch   Audience = "branch"
	AudienceAdmin    Audience = "admin"
)

type EventType string

const (
	EventReservationCreated EventType = "reservation_created"
	EventStatusChanged      EventType = "status_changed"
	EventTransactionExpired EventType = "transaction_expired"
	EventDelayedPickup      EventType = "delayed_pickup"
	EventLowStock           EventType = "low_stock"
	EventCriticalStock      EventType = "critical_stock"
)

type Notification struct {
	Audience        Audience          `json:"audience"`
	Title           string            `json:"title"`
	Message         string            `json:"message"`
	EventType       EventType         `json:"event_type"`
	TransactionID   int64             `json:"transaction_id,omitempty"`
	TransactionCode string            `json:"transaction_code,omitempty"`
	BranchID        int64             `json:"branch_id,omitempty"`
	UserID          int64             `json:"user_id,omitempty"`
	OldStatus       models.StatusType `json:"old_status,omitempty"`
	NewStatus       models.StatusType `json:"new_status,omitempty"`
	Actor           string            `json:"actor,omitempty"`
	OccurredAt      time.Time         `json:"occurred_at"`
	Data            map[string]string `json:"data,omitempty"`
}

//go:generate mockgen -source=notify.go -destination=mocks/mock_sink.go -package=mocks
type Sink interface {
	Notify(ctx context.Context, n Notification) error
}

// Nop discards every notification.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) error { return nil }

// Fanout delivers to every sink and joins their errors.
type Fanout []Sink

func (f Fanout) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, s := range f {
		if err := s.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// DeliveryReport tells a caller which side effects did not go out. The state change itself is unaffected.
type DeliveryReport struct {
	Attempted int      `json:"attempted"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

func (r DeliveryReport) OK() bool {
	return r.Failed == 0
}

// Deliver sends each notification once, logging and counting failures instead of returning them.
func Deliver(ctx context.Context, sink Sink, ns ...Notification) DeliveryReport {
	var report DeliveryReport
	if sink == nil {
		return report
	}
	for _, n := range ns {
		report.Attempted++
		if n.OccurredAt.IsZero() {
			n.OccurredAt = time.Now().UTC()
		}
		if err := sink.Notify(ctx, n); err != nil {
			report.Failed++
			report.Errors = append(report.Errors, err.Error())
			observability.NotificationFailures.WithLabelValues(string(n.Audience), string(n.EventType)).Inc()
			slog.Warn("notification not delivered",
				"event_type", n.EventType,
				"audience", n.Audience,
				"transaction_id", n.TransactionID,
				"error", err)
		}
	}
	return report
}
