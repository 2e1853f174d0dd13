package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/honeynil/CurrencyExchangeTochka/internal/models"
	pkgerrors "github.com/honeynil/CurrencyExchangeTochka/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

const inventoryTracer = "inventory-repository"

// The reserved sum is computed in the same statement that reads (and optionally locks) the stock row.
const snapshotQuery = `
		SELECT i.amount, i.low_stock_threshold,
			COALESCE((
				SELECT SUM(r.amount_reserved)
				FROM reservations r
				WHERE r.branch_id = i.branch_id AND r.currency = i.currency AND r.status = 'reserved'
			), 0) AS reserved
		FROM inventory i
		WHERE i.branch_id = $1 AND i.currency = $2`

type PostgresInventoryRepository struct {
	db DBTX
}

func NewPostgresInventoryRepository(db DBTX) *PostgresInventoryRepository {
	return &PostgresInventoryRepository{db: db}
}

func (r *PostgresInventoryRepository) Snapshot(ctx context.Context, branchID int64, currency models.Currency) (snap *models.InventorySnapshot, err error) {
	ctx, done := instrument(ctx, inventoryTracer, "InventorySnapshot",
		attribute.Int64("branch_id", branchID), attribute.String("currency", string(currency)))
	defer done(&err)

	return r.snapshot(ctx, snapshotQuery, branchID, currency)
}

func (r *PostgresInventoryRepository) LockSnapshot(ctx context.Context, branchID int64, currency models.Currency) (snap *models.InventorySnapshot, err error) {
	ctx, done := instrument(ctx, inventoryTracer, "LockInventorySnapshot",
		attribute.Int64("branch_id", branchID), attribute.String("currency", string(currency)))
	defer done(&err)

	return r.snapshot(ctx, snapshotQuery+"\n\t\tFOR UPDATE OF i", branchID, currency)
}

func (r *PostgresInventoryRepository) snapshot(ctx context.Context, query string, branchID int64, currency models.Currency) (*models.InventorySnapshot, error) {
	snap := models.InventorySnapshot{BranchID: branchID, Currency: currency}
	err := r.db.QueryRowContext(ctx, query, branchID, currency).Scan(&snap.OnHand, &snap.LowStockThreshold, &snap.Reserved)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrInventoryNotFound
	}
	if err != nil {
		err = classify(err)
		slog.Error("failed to read inventory", "method", "Snapshot", "branch_id", branchID, "currency", currency, "error", err)
		return nil, fmt.Errorf("failed to read inventory: %w", err)
	}
	return &snap, nil
}

func (r *PostgresInventoryRepository) ApplyDelta(ctx context.Context, branchID int64, currency models.Currency, delta int64) (before, after *models.Inventory, err error) {
	ctx, done := instrument(ctx, inventoryTracer, "ApplyInventoryDelta",
		attribute.Int64("branch_id", branchID), attribute.String("currency", string(currency)), attribute.Int64("delta", delta))
	defer done(&err)

	// A credit to a currency the branch never stocked creates the row; a debit never may.
	query := `
		INSERT INTO inventory (branch_id, currency, amount, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (branch_id, currency) DO UPDATE
			SET amount = inventory.amount + EXCLUDED.amount, updated_at = NOW()
			WHERE inventory.amount + EXCLUDED.amount >= 0
		RETURNING amount, low_stock_threshold, updated_at`

	inv := models.Inventory{BranchID: branchID, Currency: currency}
	err = r.db.QueryRowContext(ctx, query, branchID, currency, delta).Scan(&inv.Amount, &inv.LowStockThreshold, &inv.UpdatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = fmt.Errorf("%w: branch %d %s cannot absorb %d", pkgerrors.ErrInsufficientInventory, branchID, currency, delta)
		slog.Error("inventory delta rejected", "method", "ApplyDelta", "branch_id", branchID, "currency", currency, "delta", delta)
		return nil, nil, err
	}
	if err != nil {
		err = classify(err)
		slog.Error("failed to apply inventory delta", "method", "ApplyDelta", "branch_id", branchID, "currency", currency, "delta", delta, "error", err)
		return nil, nil, fmt.Errorf("failed to apply inventory delta: %w", err)
	}

	prev := inv
	prev.Amount = inv.Amount - delta
	return &prev, &inv, nil
}

func (r *PostgresInventoryRepository) InsertAdjustment(ctx context.Context, adj *models.InventoryAdjustment) (err error) {
	ctx, done := instrument(ctx, inventoryTracer, "InsertInventoryAdjustment")
	defer done(&err)

	query := `INSERT INTO inventory_adjustments (branch_id, currency, transaction_id, direction, delta, old_amount, new_amount, reason, actor) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id, created_at`
	err = r.db.QueryRowContext(ctx, query,
		adj.BranchID, adj.Currency, adj.TransactionID, adj.Direction, adj.Delta,
		adj.OldAmount, adj.NewAmount, adj.Reason, adj.Actor,
	).Scan(&adj.ID, &adj.CreatedAt)
	if err != nil {
		err = classify(err)
		slog.Error("failed to insert inventory adjustment", "method", "InsertAdjustment", "transaction_id", adj.TransactionID, "error", err)
		return fmt.Errorf("failed to insert inventory adjustment: %w", err)
	}

	slog.Info("inventory adjusted", "method", "InsertAdjustment", "branch_id", adj.BranchID, "currency", adj.Currency,
		"direction", adj.Direction, "old_amount", adj.OldAmount, "new_amount", adj.NewAmount, "transaction_id", adj.TransactionID)
	return nil
}

func (r *PostgresInventoryRepository) ListAdjustments(ctx context.Context, transactionID int64) (adjs []models.InventoryAdjustment, err error) {
	ctx, done := instrument(ctx, inventoryTracer, "ListInventoryAdjustments", attribute.Int64("transaction_id", transactionID))
	defer done(&err)

	query := `SELECT id, branch_id, currency, transaction_id, direction, delta, old_amount, new_amount, reason, actor, created_at FROM inventory_adjustments WHERE transaction_id = $1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, transactionID)
	if err != nil {
		err = classify(err)
		return nil, fmt.Errorf("failed to list inventory adjustments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a models.InventoryAdjustment
		if err = rows.Scan(&a.ID, &a.BranchID, &a.Currency, &a.TransactionID, &a.Direction, &a.Delta,
			&a.OldAmount, &a.NewAmount, &a.Reason, &a.Actor, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan inventory adjustment: %w", err)
		}
		adjs = append(adjs, a)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate inventory adjustments: %w", err)
	}
	return adjs, nil
}
