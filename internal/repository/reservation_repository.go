package repository

import (
	"context"
	"time"

	"github.com/honeynil/CurrencyExchangeTochka/internal/models"
)

type ReservationRepository interface {
	Create(ctx context.Context, r *models.Reservation) error
	GetByTransaction(ctx context.Context, transactionID int64) (*models.Reservation, error)
	// GetByTransactionForUpdate locks the reservation row until the enclosing unit of work ends.
	GetByTransactionForUpdate(ctx context.Context, transactionID int64) (*models.Reservation, error)
	UpdateStatus(ctx context.Context, id string, status models.ReservationStatus, at time.Time) error
}
