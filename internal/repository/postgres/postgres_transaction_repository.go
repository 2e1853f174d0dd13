package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/honeynil/CurrencyExchangeTochka/internal/models"
	"github.com/honeynil/CurrencyExchangeTochka/internal/repository"
	pkgerrors "github.com/honeynil/CurrencyExchangeTochka/pkg/errors"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
)

const transactionTracer = "transaction-repository"

const transactionColumns = `id, transaction_code, user_id, branch_id, type, amount_from, currency_from, amount_to, currency_to,
	exchange_rate, commission_percent, commission_amount, method, status, expires_at, created_at, updated_at`

type PostgresTransactionRepository struct {
	db DBTX
}

func NewPostgresTransactionRepository(db DBTX) *PostgresTransactionRepository {
	return &PostgresTransactionRepository{db: db}
}

func (r *PostgresTransactionRepository) Create(ctx context.Context, tx *models.Transaction) (id int64, err error) {
	ctx, done := instrument(ctx, transactionTracer, "CreateTransaction")
	defer done(&err)

	if tx == nil {
		err = pkgerrors.ErrNilTransaction
		slog.Error("failed to create transaction", "method", "Create", "error", err)
		return 0, err
	}
	if !tx.Type.Valid() {
		err = pkgerrors.ErrInvalidTransactionType
		slog.Error("invalid transaction type", "method", "Create", "type", tx.Type, "error", err)
		return 0, err
	}
	if !tx.Status.Valid() {
		err = pkgerrors.ErrInvalidStatus
		slog.Error("invalid transaction status", "method", "Create", "status", tx.Status, "error", err)
		return 0, err
	}
	if tx.AmountTo <= 0 || tx.AmountFrom <= 0 {
		err = fmt.Errorf("%w: amounts must be positive", pkgerrors.ErrInvalidAmount)
		slog.Error("amounts must be positive", "method", "Create", "amount_from", tx.AmountFrom, "amount_to", tx.AmountTo, "error", err)
		return 0, err
	}

	query := `INSERT INTO transactions (transaction_code, user_id, branch_id, type, amount_from, currency_from, amount_to, currency_to, exchange_rate, commission_percent, commission_amount, method, status, expires_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14) RETURNING id, created_at, updated_at`
	err = r.db.QueryRowContext(ctx, query,
		tx.Code, tx.UserID, tx.BranchID, tx.Type,
		tx.AmountFrom, tx.CurrencyFrom, tx.AmountTo, tx.CurrencyTo,
		tx.ExchangeRate, tx.CommissionPercent, tx.CommissionAmount,
		tx.Method, tx.Status, tx.ExpiresAt,
	).Scan(&tx.ID, &tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		err = classify(err)
		slog.Error("failed to create transaction", "method", "Create", "code", tx.Code, "branch_id", tx.BranchID, "error", err)
		return 0, fmt.Errorf("failed to create transaction: %w", err)
	}

	slog.Info("transaction created", "method", "Create", "id", tx.ID, "code", tx.Code, "branch_id", tx.BranchID, "type", tx.Type)
	return tx.ID, nil
}

func (r *PostgresTransactionRepository) GetByID(ctx context.Context, id int64) (tx *models.Transaction, err error) {
	ctx, done := instrument(ctx, transactionTracer, "GetTransactionByID", attribute.Int64("transaction_id", id))
	defer done(&err)

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	return r.getOne(ctx, "GetByID", query, id)
}

func (r *PostgresTransactionRepository) GetByIDForUpdate(ctx context.Context, id int64) (tx *models.Transaction, err error) {
	ctx, done := instrument(ctx, transactionTracer, "LockTransactionByID", attribute.Int64("transaction_id", id))
	defer done(&err)

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 FOR UPDATE`
	return r.getOne(ctx, "GetByIDForUpdate", query, id)
}

func (r *PostgresTransactionRepository) GetByCode(ctx context.Context, code string) (tx *models.Transaction, err error) {
	ctx, done := instrument(ctx, transactionTracer, "GetTransactionByCode", attribute.String("transaction_code", code))
	defer done(&err)

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE transaction_code = $1`
	return r.getOne(ctx, "GetByCode", query, code)
}

func (r *PostgresTransactionRepository) getOne(ctx context.Context, method, query string, arg any) (*models.Transaction, error) {
	var tx models.Transaction
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&tx.ID, &tx.Code, &tx.UserID, &tx.BranchID, &tx.Type,
		&tx.AmountFrom, &tx.CurrencyFrom, &tx.AmountTo, &tx.CurrencyTo,
		&tx.ExchangeRate, &tx.CommissionPercent, &tx.CommissionAmount,
		&tx.Method, &tx.Status, &tx.ExpiresAt, &tx.CreatedAt, &tx.UpdatedAt,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		slog.Warn("transaction not found", "method", method, "key", arg)
		return nil, pkgerrors.ErrTransactionNotFound
	}
	if err != nil {
		err = classify(err)
		slog.Error("failed to get transaction", "method", method, "key", arg, "error", err)
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return &tx, nil
}

func (r *PostgresTransactionRepository) UpdateStatus(ctx context.Context, id int64, status models.StatusType, at time.Time) (err error) {
	ctx, done := instrument(ctx, transactionTracer, "UpdateTransactionStatus",
		attribute.Int64("transaction_id", id), attribute.String("status", string(status)))
	defer done(&err)

	if !status.Valid() {
		err = pkgerrors.ErrInvalidStatus
		return err
	}

	query := `UPDATE transactions SET status = $1, updated_at = $2 WHERE id = $3`
	res, err := r.db.ExecContext(ctx, query, status, at, id)
	if err != nil {
		err = classify(err)
		slog.Error("failed to update transaction status", "method", "UpdateStatus", "transaction_id", id, "status", status, "error", err)
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	if n == 0 {
		err = pkgerrors.ErrTransactionNotFound
		return err
	}
	return nil
}

func (r *PostgresTransactionRepository) AppendStatusChange(ctx context.Context, change *models.StatusChange) (err error) {
	ctx, done := instrument(ctx, transactionTracer, "AppendStatusChange")
	defer done(&err)

	query := `INSERT INTO transaction_status_history (transaction_id, old_status, new_status, actor, reason) VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`
	err = r.db.QueryRowContext(ctx, query,
		change.TransactionID, change.OldStatus, change.NewStatus, change.Actor, change.Reason,
	).Scan(&change.ID, &change.CreatedAt)
	if err != nil {
		err = classify(err)
		slog.Error("failed to append status change", "method", "AppendStatusChange", "transaction_id", change.TransactionID, "error", err)
		return fmt.Errorf("failed to append status change: %w", err)
	}
	return nil
}

func (r *PostgresTransactionRepository) ListDue(ctx context.Context, now time.Time, statuses []models.StatusType, after repository.DueRef, limit int) (refs []repository.DueRef, err error) {
	ctx, done := instrument(ctx, transactionTracer, "ListDueTransactions")
	defer done(&err)

	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	query := `SELECT id, expires_at FROM transactions
		WHERE expires_at <= $1 AND status = ANY($2) AND (expires_at, id) > ($3, $4)
		ORDER BY expires_at, id LIMIT $5`
	rows, err := r.db.QueryContext(ctx, query, now, pq.Array(names), after.ExpiresAt, after.ID, limit)
	if err != nil {
		err = classify(err)
		slog.Error("failed to list due transactions", "method", "ListDue", "error", err)
		return nil, fmt.Errorf("failed to list due transactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ref repository.DueRef
		if err = rows.Scan(&ref.ID, &ref.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan due transaction: %w", err)
		}
		refs = append(refs, ref)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate due transactions: %w", err)
	}

	slog.Debug("due transactions listed", "method", "ListDue", "count", len(refs))
	return refs, nil
}
