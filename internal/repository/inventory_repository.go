package repository

import (
	"context"

	"github.com/honeynil/CurrencyExchangeTochka/internal/models"
)

type InventoryRepository interface {
	// Snapshot reads on-hand stock and the sum of live holds without locking.
	Snapshot(ctx context.Context, branchID int64, currency models.Currency) (*models.InventorySnapshot, error)
	// LockSnapshot reads the same figures while holding an exclusive lock on the inventory row.
	LockSnapshot(ctx context.Context, branchID int64, currency models.Currency) (*models.InventorySnapshot, error)
	// ApplyDelta adds delta to on-hand stock and returns the row before and after the change.
	ApplyDelta(ctx context.Context, branchID int64, currency models.Currency, delta int64) (before, after *models.Inventory, err error)
	InsertAdjustment(ctx context.Context, adj *models.InventoryAdjustment) error
	ListAdjustments(ctx context.Context, transactionID int64) ([]models.InventoryAdjustment, error)
}
