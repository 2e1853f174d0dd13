package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/honeynil/CurrencyExchangeTochka/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

// TxManager runs units of work in a database transaction with a bounded lock wait.
type TxManager struct {
	db          *sql.DB
	lockTimeout time.Duration
}

func NewTxManager(db *sql.DB, lockTimeout time.Duration) *TxManager {
	return &TxManager{db: db, lockTimeout: lockTimeout}
}

// Repositories returns handles bound to the pool, outside any transaction.
func (m *TxManager) Repositories() repository.Repositories {
	return bind(m.db)
}

func bind(db DBTX) repository.Repositories {
	return repository.Repositories{
		Inventory:    NewPostgresInventoryRepository(db),
		Reservations: NewPostgresReservationRepository(db),
		Transactions: NewPostgresTransactionRepository(db),
		Payments:     NewPostgresPaymentLedger(db),
	}
}

func (m *TxManager) Do(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) (err error) {
	ctx, span := otel.Tracer("unit-of-work").Start(ctx, "UnitOfWork")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	dbTx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "Do", "error", err)
		return classify(fmt.Errorf("failed to begin transaction: %w", err))
	}

	defer func() {
		if p := recover(); p != nil {
			_ = dbTx.Rollback()
			panic(p)
		}
	}()

	if m.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", m.lockTimeout.Milliseconds())
		if _, err = dbTx.ExecContext(ctx, stmt); err != nil {
			_ = dbTx.Rollback()
			slog.Error("failed to set lock timeout", "method", "Do", "error", err)
			return classify(fmt.Errorf("failed to set lock timeout: %w", err))
		}
	}

	if err = fn(ctx, bind(dbTx)); err != nil {
		if rbErr := dbTx.Rollback(); rbErr != nil {
			err = fmt.Errorf("rollback failed: %v; original error: %w", rbErr, err)
			slog.Error("rollback failed", "method", "Do", "error", rbErr)
		}
		return classify(err)
	}

	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", "Do", "error", err)
		return classify(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}
