package repository

import "context"

// Repositories groups the handles that take part in one unit of work.
type Repositories struct {
	Inventory    InventoryRepository
	Reservations ReservationRepository
	Transactions TransactionRepository
	Payments     PaymentLedger
}

// UnitOfWork runs fn inside a single database transaction.
// A non-nil error from fn rolls back every write made through repos.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}
