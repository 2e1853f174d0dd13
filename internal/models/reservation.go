package models

import "time"

type Reservation struct {
	ID             string            `json:"id"`
	TransactionID  int64             `json:"transaction_id"`
	BranchID       int64             `json:"branch_id"`
	Currency       Currency          `json:"currency"`
	AmountReserved int64             `json:"amount_reserved"`
	Status         ReservationStatus `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
	CommittedAt    *time.Time        `json:"committed_at,omitempty"`
	ReleasedAt     *time.Time        `json:"released_at,omitempty"`
}

type ReservationStatus string

const (
	ReservationReserved  ReservationStatus = "reserved"
	ReservationCommitted ReservationStatus = "committed"
	ReservationReleased  ReservationStatus = "released"
)

func (s ReservationStatus) Terminal() bool {
	return s == ReservationCommitted || s == ReservationReleased
}
