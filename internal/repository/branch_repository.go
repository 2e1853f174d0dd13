package repository

import (
	"context"

	"github.com/honeynil/CurrencyExchangeTochka/internal/models"
)

//go:generate mockgen -source=branch_repository.go -destination=mocks/mock_branch_repository.go -package=mocks
type BranchRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Branch, error)
}

// PaymentLedger is the read side of the payment collaborator's records.
type PaymentLedger interface {
	PaymentState(ctx context.Context, transactionCode string) (models.PaymentState, error)
}
