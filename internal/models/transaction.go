package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Transaction struct {
	ID                int64           `json:"id"`
	Code              string          `json:"transaction_code"`
	UserID            int64           `json:"user_id"`
	BranchID          int64           `json:"branch_id"`
	Type              TransactionType `json:"type"`
	AmountFrom        int64           `json:"amount_from"`
	CurrencyFrom      Currency        `json:"currency_from"`
	AmountTo          int64           `json:"amount_to"`
	CurrencyTo        Currency        `json:"currency_to"`
	ExchangeRate      decimal.Decimal `json:"exchange_rate"`
	CommissionPercent decimal.Decimal `json:"commission_percent"`
	CommissionAmount  int64           `json:"commission_amount"`
	Method            Method          `json:"method"`
	Status            StatusType      `json:"status"`
	ExpiresAt         time.Time       `json:"expires_at"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Due reports whether the transaction is past its deadline and can still be expired.
func (t *Transaction) Due(now time.Time) bool {
	return !t.Status.Terminal() && !t.ExpiresAt.After(now)
}

type TransactionType string

const (
	TypeBuy  TransactionType = "buy"
	TypeSell TransactionType = "sell"
)

func (t TransactionType) Valid() bool {
	return t == TypeBuy || t == TypeSell
}

type Method string

const (
	MethodOnline   Method = "online"
	MethodInPerson Method = "in_person"
)

func (m Method) Valid() bool {
	return m == MethodOnline || m == MethodInPerson
}

type StatusType string

const (
	StatusReserved       StatusType = "reserved"
	StatusPaid           StatusType = "paid"
	StatusReadyForPickup StatusType = "ready_for_pickup"
	StatusReadyToReceive StatusType = "ready_to_receive"
	StatusCompleted      StatusType = "completed"
	StatusCancelled      StatusType = "cancelled"
	StatusExpired        StatusType = "expired"
)

// SweepableStatuses are the non-terminal statuses the expiration sweep inspects.
var SweepableStatuses = []StatusType{
	StatusReserved,
	StatusPaid,
	StatusReadyForPickup,
	StatusReadyToReceive,
}

func (s StatusType) Valid() bool {
	switch s {
	case StatusReserved, StatusPaid, StatusReadyForPickup, StatusReadyToReceive,
		StatusCompleted, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

func (s StatusType) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusExpired
}

// StatusChange is one row of the transaction status history.
type StatusChange struct {
	ID            int64      `json:"id"`
	TransactionID int64      `json:"transaction_id"`
	OldStatus     StatusType `json:"old_status"`
	NewStatus     StatusType `json:"new_status"`
	Actor         string     `json:"actor"`
	Reason        string     `json:"reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}
