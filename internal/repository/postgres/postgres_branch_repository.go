package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"github.com/honeynil/CurrencyExchangeTochka/internal/models"
	pkgerrors "github.com/honeynil/CurrencyExchangeTochka/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

type PostgresBranchRepository struct {
	db DBTX
}

func NewPostgresBranchRepository(db DBTX) *PostgresBranchRepository {
	return &PostgresBranchRepository{db: db}
}

func (r *PostgresBranchRepository) GetByID(ctx context.Context, id int64) (b *models.Branch, err error) {
	ctx, done := instrument(ctx, "branch-repository", "GetBranchByID", attribute.Int64("branch_id", id))
	defer done(&err)

	var branch models.Branch
	query := `SELECT id, name, active FROM branches WHERE id = $1`
	err = r.db.QueryRowContext(ctx, query, id).Scan(&branch.ID, &branch.Name, &branch.Active)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrBranchNotFound
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get branch: %w", classify(err))
	}
	return &branch, nil
}

// PostgresPaymentLedger reads the payments table written by the payment collaborator.
type PostgresPaymentLedger struct {
	db DBTX
}

func NewPostgresPaymentLedger(db DBTX) *PostgresPaymentLedger {
	return &PostgresPaymentLedger{db: db}
}

func (l *PostgresPaymentLedger) PaymentState(ctx context.Context, transactionCode string) (state models.PaymentState, err error) {
	ctx, done := instrument(ctx, "payment-ledger", "PaymentState", attribute.String("transaction_code", transactionCode))
	defer done(&err)

	query := `
		SELECT
			COALESCE(BOOL_OR(status = 'succeeded'), false),
			COALESCE(BOOL_OR(status IN ('pending', 'processing')), false)
		FROM payments
		WHERE transaction_code = $1`

	var succeeded, inFlight bool
	if err = l.db.QueryRowContext(ctx, query, transactionCode).Scan(&succeeded, &inFlight); err != nil {
		return "", fmt.Errorf("failed to read payment state: %w", classify(err))
	}

	switch {
	case succeeded:
		return models.PaymentPaid, nil
	case inFlight:
		return models.PaymentPending, nil
	default:
		return models.PaymentUnpaid, nil
	}
}
