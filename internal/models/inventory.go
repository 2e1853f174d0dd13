package models

import (
	"time"

	"github.com/honeynil/CurrencyExchangeTochka/internal/money"
)

type Currency = money.Currency

const (
	CurrencyUSD = money.USD
	CurrencyARS = money.ARS
)

// Inventory is the on-hand stock of one currency at one branch, in minor units.
type Inventory struct {
	BranchID          int64     `json:"branch_id"`
	Currency          Currency  `json:"currency"`
	Amount            int64     `json:"amount"`
	LowStockThreshold int64     `json:"low_stock_threshold"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// InventorySnapshot is the result of reading an inventory row together with its outstanding holds.
type InventorySnapshot struct {
	BranchID          int64    `json:"branch_id"`
	Currency          Currency `json:"currency"`
	OnHand            int64    `json:"on_hand"`
	Reserved          int64    `json:"reserved"`
	LowStockThreshold int64    `json:"low_stock_threshold"`
}

func (s InventorySnapshot) Available() int64 {
	return s.OnHand - s.Reserved
}

type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
)

// InventoryAdjustment is an append-only audit row for a single on-hand mutation.
type InventoryAdjustment struct {
	ID            int64     `json:"id"`
	BranchID      int64     `json:"branch_id"`
	Currency      Currency  `json:"currency"`
	TransactionID int64     `json:"transaction_id"`
	Direction     Direction `json:"direction"`
	Delta         int64     `json:"delta"`
	OldAmount     int64     `json:"old_amount"`
	NewAmount     int64     `json:"new_amount"`
	Reason        string    `json:"reason"`
	Actor         string    `json:"actor"`
	CreatedAt     time.Time `json:"created_at"`
}

type Branch struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}
