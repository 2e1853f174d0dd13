package service

import (
	"context"
	"fmt"
	"strconv"

	"github.com/honeynil/CurrencyExchangeTochka/internal/infrastructure/observability"
	"github.com/honeynil/CurrencyExchangeTochka/internal/ledger"
	"github.com/honeynil/CurrencyExchangeTochka/internal/models"
	"github.com/honeynil/CurrencyExchangeTochka/internal/money"
	"github.com/honeynil/CurrencyExchangeTochka/internal/notify"
	"github.com/honeynil/CurrencyExchangeTochka/internal/repository"
	pkgerrors "github.com/honeynil/CurrencyExchangeTochka/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TransitionResult separates the committed state change from the delivery of its side effects.
// Applied is false when the call was an idempotent no-op.
// PaymentHold is set when an expiry was refused because the buy has been paid or is being paid.
type TransitionResult struct {
	Transaction *models.Transaction   `json:"transaction"`
	Reservation *models.Reservation   `json:"reservation"`
	OldStatus   models.StatusType     `json:"old_status"`
	Applied     bool                  `json:"applied"`
	PaymentHold models.PaymentState   `json:"payment_hold,omitempty"`
	Delivery    notify.DeliveryReport `json:"delivery"`
}

type transitionOutcome struct {
	tx      *models.Transaction
	res     *models.Reservation
	from    models.StatusType
	applied bool
	hold    models.PaymentState
	alerts  []*ledger.StockAlert
}

func (s *exchangeService) TransitionStatus(ctx context.Context, transactionID int64, status models.StatusType, actor string) (*TransitionResult, error) {
	return s.transition(ctx, transactionID, status, actor, false)
}

// Expire moves a due transaction to expired. A transaction that was settled, cancelled
// or extended since it was selected is left alone and reported as not applied.
// A buy whose payment is paid or pending is never expired; the hold is reported instead.
func (s *exchangeService) Expire(ctx context.Context, transactionID int64, actor string) (*TransitionResult, error) {
	return s.transition(ctx, transactionID, models.StatusExpired, actor, true)
}

func (s *exchangeService) transition(ctx context.Context, transactionID int64, to models.StatusType, actor string, onlyIfDue bool) (result *TransitionResult, err error) {
	ctx, span := tracer().Start(ctx, "TransitionStatus", trace.WithAttributes(
		attribute.Int64("transaction_id", transactionID),
		attribute.String("status", string(to)),
	))
	defer func() { endSpan(span, err) }()

	if !to.Valid() {
		return nil, fmt.Errorf("%w: %q", pkgerrors.ErrInvalidStatus, to)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	work, cancel := s.detach(ctx)
	defer cancel()

	var out transitionOutcome
	err = s.withRetry(work, "TransitionStatus", func() error {
		out = transitionOutcome{}
		return s.uow.Do(work, func(ctx context.Context, repos repository.Repositories) error {
			return s.applyTransition(ctx, repos, transactionID, to, actor, onlyIfDue, &out)
		})
	})
	if err != nil {
		logger(ctx, "transaction_id", transactionID).Warn("status transition failed", "to", to, "actor", actor, "error", err)
		return nil, classify(err)
	}

	observability.TransitionsTotal.WithLabelValues(string(out.from), string(to), strconv.FormatBool(out.applied)).Inc()
	result = &TransitionResult{
		Transaction: out.tx,
		Reservation: out.res,
		OldStatus:   out.from,
		Applied:     out.applied,
		PaymentHold: out.hold,
	}
	if out.hold != "" {
		logger(ctx, "transaction_id", transactionID).Warn("expiry refused, payment on record", "status", out.tx.Status, "payment", out.hold)
		return result, nil
	}
	if !out.applied {
		logger(ctx, "transaction_id", transactionID).Info("status transition was a no-op", "status", out.tx.Status, "requested", to)
		return result, nil
	}

	logger(ctx, "transaction_id", transactionID).Info("status transition applied",
		"from", out.from, "to", to, "actor", actor, "branch_id", out.tx.BranchID)

	ns := transitionNotifications(out.tx, out.from, actor)
	for _, alert := range out.alerts {
		ns = append(ns, stockNotification(alert, out.tx))
	}
	result.Delivery = notify.Deliver(work, s.sink, ns...)
	return result, nil
}

func (s *exchangeService) applyTransition(ctx context.Context, repos repository.Repositories, id int64, to models.StatusType, actor string, onlyIfDue bool, out *transitionOutcome) error {
	tx, err := repos.Transactions.GetByIDForUpdate(ctx, id)
	if err != nil {
		return err
	}
	res, err := repos.Reservations.GetByTransactionForUpdate(ctx, id)
	if err != nil {
		return err
	}
	out.tx, out.res, out.from = tx, res, tx.Status

	now := s.now().UTC()
	if onlyIfDue && !tx.Due(now) {
		return nil
	}
	if onlyIfDue && tx.Type == models.TypeBuy {
		hold, err := paymentHold(ctx, repos, tx)
		if err != nil {
			return err
		}
		if hold != "" {
			out.hold = hold
			return nil
		}
	}
	if !models.CanTransition(tx.Type, tx.Status, to) {
		return &pkgerrors.TransitionError{TransactionID: id, From: string(tx.Status), To: string(to)}
	}
	if tx.Status == to {
		return nil
	}

	if want, terminal := models.ReservationStatusFor(to); terminal {
		switch res.Status {
		case models.ReservationReserved:
		case want:
			logger(ctx, "transaction_id", id).Warn("reservation already settled, nothing to move",
				"status", tx.Status, "reservation", res.Status, "requested", to)
			return nil
		default:
			return fmt.Errorf("%w: transaction %d is %s but its reservation is already %s",
				pkgerrors.ErrFatal, id, tx.Status, res.Status)
		}
		if to == models.StatusCompleted {
			if err := s.settle(ctx, repos, tx, actor, out); err != nil {
				return err
			}
		}
		if err := repos.Reservations.UpdateStatus(ctx, res.ID, want, now); err != nil {
			return err
		}
		res.Status = want
		if want == models.ReservationCommitted {
			res.CommittedAt = &now
		} else {
			res.ReleasedAt = &now
		}
	}

	if err := repos.Transactions.UpdateStatus(ctx, id, to, now); err != nil {
		return err
	}
	if err := repos.Transactions.AppendStatusChange(ctx, &models.StatusChange{
		TransactionID: id,
		OldStatus:     tx.Status,
		NewStatus:     to,
		Actor:         actor,
	}); err != nil {
		return err
	}

	tx.Status, tx.UpdatedAt = to, now
	out.applied = true
	return nil
}

// paymentHold reads the payment state under the row lock. Only paid and pending block an expiry.
func paymentHold(ctx context.Context, repos repository.Repositories, tx *models.Transaction) (models.PaymentState, error) {
	if tx.Status == models.StatusPaid {
		return models.PaymentPaid, nil
	}
	if repos.Payments == nil {
		return "", nil
	}
	state, err := repos.Payments.PaymentState(ctx, tx.Code)
	if err != nil {
		return "", fmt.Errorf("failed to read payment state: %w", err)
	}
	if state == models.PaymentPaid || state == models.PaymentPending {
		return state, nil
	}
	return "", nil
}

// settle moves stock for a completed transaction: amount_to leaves the branch and amount_from arrives.
func (s *exchangeService) settle(ctx context.Context, repos repository.Repositories, tx *models.Transaction, actor string, out *transitionOutcome) error {
	reason := "transaction " + tx.Code + " completed"
	_, alert, err := s.ledger.Debit(ctx, repos.Inventory, ledger.Movement{
		BranchID:      tx.BranchID,
		Currency:      tx.CurrencyTo,
		Amount:        tx.AmountTo,
		TransactionID: tx.ID,
		Reason:        reason,
		Actor:         actor,
	})
	if err != nil {
		return err
	}
	if alert != nil {
		out.alerts = append(out.alerts, alert)
	}

	_, err = s.ledger.Credit(ctx, repos.Inventory, ledger.Movement{
		BranchID:      tx.BranchID,
		Currency:      tx.CurrencyFrom,
		Amount:        tx.AmountFrom,
		TransactionID: tx.ID,
		Reason:        reason,
		Actor:         actor,
	})
	return err
}

func transitionNotifications(tx *models.Transaction, from models.StatusType, actor string) []notify.Notification {
	base := notify.Notification{
		EventType:       notify.EventStatusChanged,
		TransactionID:   tx.ID,
		TransactionCode: tx.Code,
		BranchID:        tx.BranchID,
		UserID:          tx.UserID,
		OldStatus:       from,
		NewStatus:       tx.Status,
		Actor:           actor,
	}

	customer := base
	customer.Audience = notify.AudienceCustomer
	switch tx.Status {
	case models.StatusExpired:
		customer.EventType = notify.EventTransactionExpired
		customer.Title = "Reservation expired"
		customer.Message = fmt.Sprintf("Reservation %s expired and the held %s was released.", tx.Code, tx.CurrencyTo)
	case models.StatusReadyForPickup:
		customer.Title = "Ready for pickup"
		customer.Message = fmt.Sprintf("Your %s %s for %s are ready at the branch.",
			money.Format(tx.CurrencyTo, tx.AmountTo), tx.CurrencyTo, tx.Code)
	default:
		customer.Title = "Transaction updated"
		customer.Message = fmt.Sprintf("Transaction %s is now %s.", tx.Code, tx.Status)
	}

	branch := base
	branch.Audience = notify.AudienceBranch
	branch.Title = "Transaction status changed"
	branch.Message = fmt.Sprintf("Transaction %s moved from %s to %s.", tx.Code, from, tx.Status)

	return []notify.Notification{customer, branch}
}

func stockNotification(alert *ledger.StockAlert, tx *models.Transaction) notify.Notification {
	eventType := notify.EventLowStock
	if alert.Level == ledger.LevelCritical {
		eventType = notify.EventCriticalStock
	}
	return notify.Notification{
		Audience:        notify.AudienceAdmin,
		EventType:       eventType,
		Title:           fmt.Sprintf("%s stock at branch %d", alert.Currency, alert.BranchID),
		Message:         fmt.Sprintf("On hand %s %s is below the threshold of %s.", money.Format(alert.Currency, alert.OnHand), alert.Currency, money.Format(alert.Currency, alert.Threshold)),
		TransactionID:   tx.ID,
		TransactionCode: tx.Code,
		BranchID:        alert.BranchID,
		Data: map[string]string{
			"currency":  string(alert.Currency),
			"on_hand":   money.Format(alert.Currency, alert.OnHand),
			"threshold": money.Format(alert.Currency, alert.Threshold),
			"level":     string(alert.Level),
		},
	}
}
