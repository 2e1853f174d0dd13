package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/CurrencyExchangeTochka/internal/infrastructure/observability"
	"github.com/honeynil/CurrencyExchangeTochka/internal/models"
	"github.com/honeynil/CurrencyExchangeTochka/internal/money"
	"github.com/honeynil/CurrencyExchangeTochka/internal/notify"
	"github.com/honeynil/CurrencyExchangeTochka/internal/rates"
	"github.com/honeynil/CurrencyExchangeTochka/internal/repository"
	pkgerrors "github.com/honeynil/CurrencyExchangeTochka/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ReservationRequest asks to hold Quantity USD minor units at a branch.
type ReservationRequest struct {
	UserID   int64
	BranchID int64
	Type     models.TransactionType
	Quantity int64
	Method   models.Method
	Actor    string
}

type ReservationResult struct {
	Transaction *models.Transaction   `json:"transaction"`
	Reservation *models.Reservation   `json:"reservation"`
	Delivery    notify.DeliveryReport `json:"delivery"`
}

func (s *exchangeService) CreateReservation(ctx context.Context, req ReservationRequest) (result *ReservationResult, err error) {
	ctx, span := tracer().Start(ctx, "CreateReservation", trace.WithAttributes(
		attribute.Int64("branch_id", req.BranchID),
		attribute.String("type", string(req.Type)),
		attribute.Int64("quantity", req.Quantity),
	))
	defer func() { endSpan(span, err) }()

	outcome := "admitted"
	defer func() {
		if err != nil {
			outcome = rejectionOutcome(err)
		}
		observability.ReservationsTotal.WithLabelValues(string(req.Type), outcome).Inc()
	}()

	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", pkgerrors.ErrInvalidTransactionType, req.Type)
	}
	if !req.Method.Valid() {
		return nil, fmt.Errorf("%w: %q", pkgerrors.ErrInvalidMethod, req.Method)
	}

	params, err := s.rates.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pkgerrors.ErrRatesUnavailable, err)
	}
	if req.Quantity < params.MinQuantity || req.Quantity > params.MaxQuantity {
		return nil, fmt.Errorf("%w: quantity %s USD outside [%s, %s]", pkgerrors.ErrInvalidAmount,
			money.Format(money.USD, req.Quantity), money.Format(money.USD, params.MinQuantity), money.Format(money.USD, params.MaxQuantity))
	}
	if _, err := s.activeBranch(ctx, req.BranchID); err != nil {
		return nil, err
	}

	draft, err := s.draftTransaction(req, params)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	work, cancel := s.detach(ctx)
	defer cancel()

	var admitted *ReservationResult
	err = s.withRetry(work, "CreateReservation", func() error {
		var err error
		admitted, err = s.admit(work, *draft, req.Actor)
		if stderrors.Is(err, pkgerrors.ErrDuplicateCode) {
			logger(work).Warn("transaction code collision, regenerating", "code", draft.Code)
			draft.Code = s.newCode()
			admitted, err = s.admit(work, *draft, req.Actor)
		}
		return err
	})
	if err != nil {
		if stderrors.Is(err, pkgerrors.ErrDuplicateCode) {
			err = fmt.Errorf("%w: %w", pkgerrors.ErrFatal, err)
		}
		logger(ctx, "branch_id", req.BranchID, "type", req.Type).Warn("reservation rejected", "quantity", req.Quantity, "error", err)
		return nil, classify(err)
	}

	tx := admitted.Transaction
	logger(ctx).Info("reservation admitted",
		"transaction_id", tx.ID,
		"transaction_code", tx.Code,
		"branch_id", tx.BranchID,
		"amount_to", tx.AmountTo,
		"currency_to", tx.CurrencyTo)

	admitted.Delivery = notify.Deliver(work, s.sink, reservationNotifications(tx, req.Actor)...)
	return admitted, nil
}

// draftTransaction prices the request. amount_to is always what leaves the branch's stock.
func (s *exchangeService) draftTransaction(req ReservationRequest, params rates.Snapshot) (*models.Transaction, error) {
	tx := &models.Transaction{
		Code:              s.newCode(),
		UserID:            req.UserID,
		BranchID:          req.BranchID,
		Type:              req.Type,
		CommissionPercent: params.CommissionPercent,
		Method:            req.Method,
		Status:            models.StatusReserved,
		ExpiresAt:         s.now().UTC().Add(params.TTL),
	}

	switch req.Type {
	case models.TypeBuy:
		rate := money.EffectiveRate(params.BuyRate, params.CommissionPercent, money.BranchSells)
		legs := money.AmountsWithCommission(money.USD, req.Quantity, params.BuyRate, rate)
		tx.AmountFrom, tx.CurrencyFrom = legs.Local, money.Base
		tx.AmountTo, tx.CurrencyTo = legs.Foreign, money.USD
		tx.ExchangeRate, tx.CommissionAmount = rate, legs.Commission
	case models.TypeSell:
		rate := money.EffectiveRate(params.SellRate, params.CommissionPercent, money.BranchBuys)
		legs := money.AmountsWithCommission(money.USD, req.Quantity, params.SellRate, rate)
		tx.AmountFrom, tx.CurrencyFrom = legs.Foreign, money.USD
		tx.AmountTo, tx.CurrencyTo = legs.Local, money.Base
		tx.ExchangeRate, tx.CommissionAmount = rate, legs.Commission
	}

	if tx.AmountFrom <= 0 || tx.AmountTo <= 0 {
		return nil, fmt.Errorf("%w: quantity %d prices to zero", pkgerrors.ErrInvalidAmount, req.Quantity)
	}
	return tx, nil
}

// admit holds the inventory row lock while it checks availability and records the hold.
func (s *exchangeService) admit(ctx context.Context, draft models.Transaction, actor string) (*ReservationResult, error) {
	var result ReservationResult
	err := s.uow.Do(ctx, func(ctx context.Context, repos repository.Repositories) error {
		snap, err := s.ledger.LockedAvailable(ctx, repos.Inventory, draft.BranchID, draft.CurrencyTo)
		if err != nil {
			return err
		}
		if available := snap.Available(); available < draft.AmountTo {
			return &pkgerrors.InsufficientInventoryError{
				BranchID:  draft.BranchID,
				Currency:  string(draft.CurrencyTo),
				Available: max(available, 0),
				Requested: draft.AmountTo,
			}
		}

		tx := draft
		id, err := repos.Transactions.Create(ctx, &tx)
		if err != nil {
			return err
		}
		tx.ID = id

		res := &models.Reservation{
			ID:             uuid.NewString(),
			TransactionID:  id,
			BranchID:       tx.BranchID,
			Currency:       tx.CurrencyTo,
			AmountReserved: tx.AmountTo,
			Status:         models.ReservationReserved,
		}
		if err := repos.Reservations.Create(ctx, res); err != nil {
			return err
		}

		if err := repos.Transactions.AppendStatusChange(ctx, &models.StatusChange{
			TransactionID: id,
			NewStatus:     models.StatusReserved,
			Actor:         actor,
			Reason:        "reservation created",
		}); err != nil {
			return err
		}

		result.Transaction, result.Reservation = &tx, res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func rejectionOutcome(err error) string {
	switch {
	case stderrors.Is(err, pkgerrors.ErrInsufficientInventory):
		return "insufficient_inventory"
	case stderrors.Is(err, pkgerrors.ErrInvalidAmount),
		stderrors.Is(err, pkgerrors.ErrInvalidBranch),
		stderrors.Is(err, pkgerrors.ErrInvalidTransactionType),
		stderrors.Is(err, pkgerrors.ErrInvalidMethod):
		return "invalid"
	case stderrors.Is(err, pkgerrors.ErrTransientStoreConflict):
		return "conflict"
	default:
		return "error"
	}
}

func reservationNotifications(tx *models.Transaction, actor string) []notify.Notification {
	data := map[string]string{
		"amount_from":   money.Format(tx.CurrencyFrom, tx.AmountFrom),
		"currency_from": string(tx.CurrencyFrom),
		"amount_to":     money.Format(tx.CurrencyTo, tx.AmountTo),
		"currency_to":   string(tx.CurrencyTo),
		"exchange_rate": tx.ExchangeRate.StringFixed(money.RateScale),
		"expires_at":    tx.ExpiresAt.Format(time.RFC3339),
	}
	base := notify.Notification{
		EventType:       notify.EventReservationCreated,
		TransactionID:   tx.ID,
		TransactionCode: tx.Code,
		BranchID:        tx.BranchID,
		UserID:          tx.UserID,
		NewStatus:       tx.Status,
		Actor:           actor,
		Data:            data,
	}

	customer := base
	customer.Audience = notify.AudienceCustomer
	customer.Title = "Reservation confirmed"
	customer.Message = fmt.Sprintf("Your %s of %s %s is reserved under code %s until %s.",
		tx.Type, data["amount_to"], tx.CurrencyTo, tx.Code, data["expires_at"])

	branch := base
	branch.Audience = notify.AudienceBranch
	branch.Title = "New reservation"
	branch.Message = fmt.Sprintf("Reservation %s holds %s %s.", tx.Code, data["amount_to"], tx.CurrencyTo)

	return []notify.Notification{customer, branch}
}
