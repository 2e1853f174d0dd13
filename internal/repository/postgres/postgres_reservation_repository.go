package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/honeynil/CurrencyExchangeTochka/internal/models"
	pkgerrors "github.com/honeynil/CurrencyExchangeTochka/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

const reservationTracer = "reservation-repository"

type PostgresReservationRepository struct {
	db DBTX
}

func NewPostgresReservationRepository(db DBTX) *PostgresReservationRepository {
	return &PostgresReservationRepository{db: db}
}

func (r *PostgresReservationRepository) Create(ctx context.Context, res *models.Reservation) (err error) {
	ctx, done := instrument(ctx, reservationTracer, "CreateReservation")
	defer done(&err)

	if res == nil {
		err = pkgerrors.ErrNilReservation
		return err
	}
	if res.AmountReserved <= 0 {
		err = fmt.Errorf("%w: reserved amount must be positive", pkgerrors.ErrInvalidAmount)
		return err
	}

	query := `INSERT INTO reservations (id, transaction_id, branch_id, currency, amount_reserved, status) VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`
	err = r.db.QueryRowContext(ctx, query,
		res.ID, res.TransactionID, res.BranchID, res.Currency, res.AmountReserved, res.Status,
	).Scan(&res.CreatedAt)
	if err != nil {
		err = classify(err)
		slog.Error("failed to create reservation", "method", "Create", "transaction_id", res.TransactionID, "error", err)
		return fmt.Errorf("failed to create reservation: %w", err)
	}

	slog.Info("reservation created", "method", "Create", "id", res.ID, "transaction_id", res.TransactionID,
		"branch_id", res.BranchID, "currency", res.Currency, "amount", res.AmountReserved)
	return nil
}

func (r *PostgresReservationRepository) GetByTransaction(ctx context.Context, transactionID int64) (res *models.Reservation, err error) {
	ctx, done := instrument(ctx, reservationTracer, "GetReservationByTransaction", attribute.Int64("transaction_id", transactionID))
	defer done(&err)

	query := `SELECT id, transaction_id, branch_id, currency, amount_reserved, status, created_at, committed_at, released_at FROM reservations WHERE transaction_id = $1`
	return r.getOne(ctx, query, transactionID)
}

func (r *PostgresReservationRepository) GetByTransactionForUpdate(ctx context.Context, transactionID int64) (res *models.Reservation, err error) {
	ctx, done := instrument(ctx, reservationTracer, "LockReservationByTransaction", attribute.Int64("transaction_id", transactionID))
	defer done(&err)

	query := `SELECT id, transaction_id, branch_id, currency, amount_reserved, status, created_at, committed_at, released_at FROM reservations WHERE transaction_id = $1 FOR UPDATE`
	return r.getOne(ctx, query, transactionID)
}

func (r *PostgresReservationRepository) getOne(ctx context.Context, query string, transactionID int64) (*models.Reservation, error) {
	var (
		res                     models.Reservation
		committedAt, releasedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, transactionID).Scan(
		&res.ID, &res.TransactionID, &res.BranchID, &res.Currency, &res.AmountReserved,
		&res.Status, &res.CreatedAt, &committedAt, &releasedAt,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrReservationNotFound
	}
	if err != nil {
		err = classify(err)
		slog.Error("failed to get reservation", "method", "GetByTransaction", "transaction_id", transactionID, "error", err)
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	res.CommittedAt = nullTime(committedAt)
	res.ReleasedAt = nullTime(releasedAt)
	return &res, nil
}

// UpdateStatus moves a reservation out of 'reserved'. Terminal reservations are never touched.
func (r *PostgresReservationRepository) UpdateStatus(ctx context.Context, id string, status models.ReservationStatus, at time.Time) (err error) {
	ctx, done := instrument(ctx, reservationTracer, "UpdateReservationStatus",
		attribute.String("reservation_id", id), attribute.String("status", string(status)))
	defer done(&err)

	var query string
	switch status {
	case models.ReservationCommitted:
		query = `UPDATE reservations SET status = $1, committed_at = $2 WHERE id = $3 AND status = 'reserved'`
	case models.ReservationReleased:
		query = `UPDATE reservations SET status = $1, released_at = $2 WHERE id = $3 AND status = 'reserved'`
	default:
		err = fmt.Errorf("%w: reservation status %q", pkgerrors.ErrInvalidStatus, status)
		return err
	}

	result, err := r.db.ExecContext(ctx, query, status, at, id)
	if err != nil {
		err = classify(err)
		slog.Error("failed to update reservation status", "method", "UpdateStatus", "reservation_id", id, "error", err)
		return fmt.Errorf("failed to update reservation status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update reservation status: %w", err)
	}
	if n == 0 {
		err = fmt.Errorf("%w: reservation %s is no longer reserved", pkgerrors.ErrReservationNotFound, id)
		return err
	}

	slog.Info("reservation status updated", "method", "UpdateStatus", "reservation_id", id, "status", status)
	return nil
}
