package repository

import (
	"context"
	"time"

	"github.com/honeynil/CurrencyExchangeTochka/internal/models"
)

type TransactionRepository interface {
	Create(ctx context.Context, tx *models.Transaction) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.Transaction, error)
	// GetByIDForUpdate locks the transaction row until the enclosing unit of work ends.
	GetByIDForUpdate(ctx context.Context, id int64) (*models.Transaction, error)
	GetByCode(ctx context.Context, code string) (*models.Transaction, error)
	UpdateStatus(ctx context.Context, id int64, status models.StatusType, at time.Time) error
	AppendStatusChange(ctx context.Context, change *models.StatusChange) error
	// ListDue returns due transactions ordered by (expires_at, id), starting strictly after the cursor.
	// The zero DueRef starts from the beginning.
	ListDue(ctx context.Context, now time.Time, statuses []models.StatusType, after DueRef, limit int) ([]DueRef, error)
}

// DueRef identifies a due transaction and doubles as the keyset cursor for the next page.
type DueRef struct {
	ID        int64
	ExpiresAt time.Time
}

// After reports whether r sorts strictly after cursor.
func (r DueRef) After(cursor DueRef) bool {
	if !r.ExpiresAt.Equal(cursor.ExpiresAt) {
		return r.ExpiresAt.After(cursor.ExpiresAt)
	}
	return r.ID > cursor.ID
}
