package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/honeynil/CurrencyExchangeTochka/internal/infrastructure/observability"
	pkgerrors "github.com/honeynil/CurrencyExchangeTochka/pkg/errors"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeQueryCanceled        = "57014"
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"

	constraintTransactionCode = "transactions_transaction_code_key"
	constraintInventoryAmount = "inventory_amount_check"
)

// instrument opens a span and returns the hook that records metrics and closes it.
func instrument(ctx context.Context, tracerName, method string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, method, trace.WithAttributes(attrs...))
	start := time.Now()
	return ctx, func(errp *error) {
		status := "success"
		if err := *errp; err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues(method, status).Inc()
		observability.RepositoryDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		span.End()
	}
}

// classify maps driver errors onto the error taxonomy callers act on.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		pkgerrors.ErrTransientStoreConflict,
		pkgerrors.ErrDuplicateCode,
		pkgerrors.ErrInsufficientInventory,
	} {
		if stderrors.Is(err, known) {
			return err
		}
	}

	var pqErr *pq.Error
	if !stderrors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case codeDeadlockDetected, codeLockNotAvailable, codeSerializationFailure, codeQueryCanceled:
		return fmt.Errorf("%w: %w", pkgerrors.ErrTransientStoreConflict, err)
	case codeUniqueViolation:
		if pqErr.Constraint == constraintTransactionCode {
			return fmt.Errorf("%w: %w", pkgerrors.ErrDuplicateCode, err)
		}
	case codeCheckViolation:
		if pqErr.Constraint == constraintInventoryAmount {
			return fmt.Errorf("%w: %w", pkgerrors.ErrInsufficientInventory, err)
		}
	}
	return err
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
