package postgres_test

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/honeynil/CurrencyExchangeTochka/internal/models"
	"github.com/honeynil/CurrencyExchangeTochka/internal/repository/postgres"
	pkgerrors "github.com/honeynil/CurrencyExchangeTochka/pkg/errors"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresInventoryRepository_Snapshot(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := postgres.NewPostgresInventoryRepository(db)
	ctx := context.Background()

	t.Run("LockedReadCombinesStockAndHolds", func(t *testing.T) {
		mock.ExpectQuery(`(?s)SELECT SUM\(r.amount_reserved\).*FOR UPDATE OF i`).
			WithArgs(int64(1), models.CurrencyUSD).
			WillReturnRows(sqlmock.NewRows([]string{"amount", "low_stock_threshold", "reserved"}).AddRow(int64(100000), int64(10000), int64(20000)))

		snap, err := repo.LockSnapshot(ctx, 1, models.CurrencyUSD)
		require.NoError(t, err)
		assert.Equal(t, int64(100000), snap.OnHand)
		assert.Equal(t, int64(20000), snap.Reserved)
		assert.Equal(t, int64(80000), snap.Available())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("PlainRead", func(t *testing.T) {
		mock.ExpectQuery(`FROM inventory i`).
			WithArgs(int64(1), models.CurrencyARS).
			WillReturnRows(sqlmock.NewRows([]string{"amount", "low_stock_threshold", "reserved"}).AddRow(int64(5000000), int64(0), int64(0)))

		snap, err := repo.Snapshot(ctx, 1, models.CurrencyARS)
		require.NoError(t, err)
		assert.Equal(t, int64(5000000), snap.Available())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("MissingRow", func(t *testing.T) {
		mock.ExpectQuery(`FOR UPDATE OF i`).
			WithArgs(int64(2), models.CurrencyUSD).
			WillReturnError(sql.ErrNoRows)

		snap, err := repo.LockSnapshot(ctx, 2, models.CurrencyUSD)
		assert.Nil(t, snap)
		assert.ErrorIs(t, err, pkgerrors.ErrInventoryNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Deadlock", func(t *testing.T) {
		mock.ExpectQuery(`FOR UPDATE OF i`).
			WillReturnError(&pq.Error{Code: "40P01"})

		_, err := repo.LockSnapshot(ctx, 1, models.CurrencyUSD)
		assert.ErrorIs(t, err, pkgerrors.ErrTransientStoreConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresInventoryRepository_ApplyDelta(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := postgres.NewPostgresInventoryRepository(db)
	ctx := context.Background()
	upsert := regexp.QuoteMeta(`INSERT INTO inventory (branch_id, currency, amount, updated_at)`)

	t.Run("Debit", func(t *testing.T) {
		mock.ExpectQuery(upsert).
			WithArgs(int64(1), models.CurrencyUSD, int64(-20000)).
			WillReturnRows(sqlmock.NewRows([]string{"amount", "low_stock_threshold", "updated_at"}).AddRow(int64(80000), int64(10000), time.Now()))

		before, after, err := repo.ApplyDelta(ctx, 1, models.CurrencyUSD, -20000)
		require.NoError(t, err)
		assert.Equal(t, int64(100000), before.Amount)
		assert.Equal(t, int64(80000), after.Amount)
		assert.Equal(t, int64(10000), after.LowStockThreshold)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("DebitBelowZero", func(t *testing.T) {
		mock.ExpectQuery(upsert).
			WithArgs(int64(1), models.CurrencyUSD, int64(-999999)).
			WillReturnError(sql.ErrNoRows)

		_, _, err := repo.ApplyDelta(ctx, 1, models.CurrencyUSD, -999999)
		assert.ErrorIs(t, err, pkgerrors.ErrInsufficientInventory)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("DebitOfMissingRow", func(t *testing.T) {
		mock.ExpectQuery(upsert).
			WithArgs(int64(9), models.CurrencyUSD, int64(-100)).
			WillReturnError(&pq.Error{Code: "23514", Constraint: "inventory_amount_check"})

		_, _, err := repo.ApplyDelta(ctx, 9, models.CurrencyUSD, -100)
		assert.ErrorIs(t, err, pkgerrors.ErrInsufficientInventory)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresInventoryRepository_Adjustments(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := postgres.NewPostgresInventoryRepository(db)
	ctx := context.Background()

	adj := &models.InventoryAdjustment{
		BranchID: 1, Currency: models.CurrencyUSD, TransactionID: 42, Direction: models.DirectionDebit,
		Delta: -20000, OldAmount: 100000, NewAmount: 80000, Reason: "transaction completed", Actor: "operator:3",
	}
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO inventory_adjustments`)).
		WithArgs(int64(1), models.CurrencyUSD, int64(42), models.DirectionDebit, int64(-20000), int64(100000), int64(80000), "transaction completed", "operator:3").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(1), time.Now()))
	require.NoError(t, repo.InsertAdjustment(ctx, adj))
	assert.Equal(t, int64(1), adj.ID)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM inventory_adjustments WHERE transaction_id = $1`)).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "branch_id", "currency", "transaction_id", "direction", "delta",
			"old_amount", "new_amount", "reason", "actor", "created_at"}).
			AddRow(int64(1), int64(1), "USD", int64(42), "debit", int64(-20000), int64(100000), int64(80000), "transaction completed", "operator:3", time.Now()).
			AddRow(int64(2), int64(1), "ARS", int64(42), "credit", int64(203000), int64(0), int64(203000), "transaction completed", "operator:3", time.Now()))

	adjs, err := repo.ListAdjustments(ctx, 42)
	require.NoError(t, err)
	require.Len(t, adjs, 2)
	assert.Equal(t, models.DirectionCredit, adjs[1].Direction)
	assert.NoError(t, mock.ExpectationsWereMet())
}
