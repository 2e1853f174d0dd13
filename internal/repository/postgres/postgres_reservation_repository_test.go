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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresReservationRepository_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := postgres.NewPostgresReservationRepository(db)
	ctx := context.Background()

	t.Run("Nil", func(t *testing.T) {
		assert.ErrorIs(t, repo.Create(ctx, nil), pkgerrors.ErrNilReservation)
	})

	t.Run("ZeroAmount", func(t *testing.T) {
		assert.ErrorIs(t, repo.Create(ctx, &models.Reservation{ID: "r"}), pkgerrors.ErrInvalidAmount)
	})

	t.Run("Success", func(t *testing.T) {
		res := &models.Reservation{
			ID: "5b0c8f3e-1d7a-4a40-9d55-2b1c7a0f7e11", TransactionID: 42, BranchID: 1,
			Currency: models.CurrencyUSD, AmountReserved: 20000, Status: models.ReservationReserved,
		}
		createdAt := time.Now().UTC()
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO reservations (id, transaction_id, branch_id, currency, amount_reserved, status)`)).
			WithArgs(res.ID, int64(42), int64(1), models.CurrencyUSD, int64(20000), models.ReservationReserved).
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(createdAt))

		require.NoError(t, repo.Create(ctx, res))
		assert.WithinDuration(t, createdAt, res.CreatedAt, time.Second)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresReservationRepository_GetByTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := postgres.NewPostgresReservationRepository(db)
	ctx := context.Background()
	cols := []string{"id", "transaction_id", "branch_id", "currency", "amount_reserved", "status", "created_at", "committed_at", "released_at"}

	t.Run("Committed", func(t *testing.T) {
		committedAt := time.Now().UTC()
		mock.ExpectQuery(`FROM reservations WHERE transaction_id = \$1 FOR UPDATE`).
			WithArgs(int64(42)).
			WillReturnRows(sqlmock.NewRows(cols).AddRow("r-1", int64(42), int64(1), "USD", int64(20000), "committed", time.Now(), committedAt, nil))

		res, err := repo.GetByTransactionForUpdate(ctx, 42)
		require.NoError(t, err)
		assert.Equal(t, models.ReservationCommitted, res.Status)
		require.NotNil(t, res.CommittedAt)
		assert.Nil(t, res.ReleasedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectQuery(`FROM reservations WHERE transaction_id = \$1$`).
			WithArgs(int64(7)).
			WillReturnError(sql.ErrNoRows)

		res, err := repo.GetByTransaction(ctx, 7)
		assert.Nil(t, res)
		assert.ErrorIs(t, err, pkgerrors.ErrReservationNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresReservationRepository_UpdateStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := postgres.NewPostgresReservationRepository(db)
	ctx := context.Background()
	at := time.Now().UTC()

	t.Run("Commit", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE reservations SET status = $1, committed_at = $2 WHERE id = $3 AND status = 'reserved'`)).
			WithArgs(models.ReservationCommitted, at, "r-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.UpdateStatus(ctx, "r-1", models.ReservationCommitted, at))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ReleaseAlreadyTerminal", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE reservations SET status = $1, released_at = $2`)).
			WithArgs(models.ReservationReleased, at, "r-1").
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, repo.UpdateStatus(ctx, "r-1", models.ReservationReleased, at), pkgerrors.ErrReservationNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("BackToReserved", func(t *testing.T) {
		assert.ErrorIs(t, repo.UpdateStatus(ctx, "r-1", models.ReservationReserved, at), pkgerrors.ErrInvalidStatus)
	})
}
