// Package ledger owns every read and write of branch on-hand stock.
//
// On-hand amounts change only through Debit and Credit, and each call writes exactly one
// inventory_adjustments row in the same unit of work.
package ledger

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/honeynil/CurrencyExchangeTochka/internal/infrastructure/observability"
	"github.com/honeynil/CurrencyExchangeTochka/internal/models"
	"github.com/honeynil/CurrencyExchangeTochka/internal/repository"
	pkgerrors "github.com/honeynil/CurrencyExchangeTochka/pkg/errors"
)

type Level string

const (
	LevelLow      Level = "low_stock"
	LevelCritical Level = "critical_stock"
)

// StockAlert reports that a debit took on-hand stock below a threshold it was previously at or above.
type StockAlert struct {
	BranchID  int64
	Currency  models.Currency
	Level     Level
	OnHand    int64
	Threshold int64
}

// Movement is one on-hand change caused by a transaction.
type Movement struct {
	BranchID      int64
	Currency      models.Currency
	Amount        int64
	TransactionID int64
	Reason        string
	Actor         string
}

type Ledger struct {
	defaultThresholds map[models.Currency]int64
}

// New returns a ledger. defaultThresholds applies to inventory rows that carry no threshold of their own.
func New(defaultThresholds map[models.Currency]int64) *Ledger {
	return &Ledger{defaultThresholds: defaultThresholds}
}

// Available reads on-hand minus live holds without taking a lock.
// A branch that never stocked the currency has nothing available.
func (l *Ledger) Available(ctx context.Context, inv repository.InventoryRepository, branchID int64, currency models.Currency) (*models.InventorySnapshot, error) {
	snap, err := inv.Snapshot(ctx, branchID, currency)
	if stderrors.Is(err, pkgerrors.ErrInventoryNotFound) {
		return &models.InventorySnapshot{BranchID: branchID, Currency: currency, LowStockThreshold: l.threshold(currency, 0)}, nil
	}
	if err != nil {
		return nil, err
	}
	snap.LowStockThreshold = l.threshold(currency, snap.LowStockThreshold)
	return snap, nil
}

// LockedAvailable is Available under an exclusive lock on the inventory row, held until the unit of work ends.
func (l *Ledger) LockedAvailable(ctx context.Context, inv repository.InventoryRepository, branchID int64, currency models.Currency) (*models.InventorySnapshot, error) {
	snap, err := inv.LockSnapshot(ctx, branchID, currency)
	if stderrors.Is(err, pkgerrors.ErrInventoryNotFound) {
		return &models.InventorySnapshot{BranchID: branchID, Currency: currency}, nil
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Debit removes m.Amount from on-hand stock. It never takes stock below zero.
func (l *Ledger) Debit(ctx context.Context, inv repository.InventoryRepository, m Movement) (*models.InventoryAdjustment, *StockAlert, error) {
	adj, err := l.apply(ctx, inv, m, models.DirectionDebit)
	if err != nil {
		return nil, nil, err
	}
	alert := crossing(m.BranchID, m.Currency, adj.OldAmount, adj.NewAmount, l.threshold(m.Currency, adj.threshold))
	return &adj.InventoryAdjustment, alert, nil
}

// Credit adds m.Amount to on-hand stock, creating the inventory row if the branch never held the currency.
func (l *Ledger) Credit(ctx context.Context, inv repository.InventoryRepository, m Movement) (*models.InventoryAdjustment, error) {
	adj, err := l.apply(ctx, inv, m, models.DirectionCredit)
	if err != nil {
		return nil, err
	}
	return &adj.InventoryAdjustment, nil
}

type appliedAdjustment struct {
	models.InventoryAdjustment
	threshold int64
}

func (l *Ledger) apply(ctx context.Context, inv repository.InventoryRepository, m Movement, dir models.Direction) (*appliedAdjustment, error) {
	if m.Amount <= 0 {
		return nil, fmt.Errorf("%w: %s of %d %s", pkgerrors.ErrInvalidAmount, dir, m.Amount, m.Currency)
	}
	if !m.Currency.Valid() {
		return nil, fmt.Errorf("%w: %q", pkgerrors.ErrInvalidCurrency, m.Currency)
	}

	delta := m.Amount
	if dir == models.DirectionDebit {
		delta = -m.Amount
	}

	before, after, err := inv.ApplyDelta(ctx, m.BranchID, m.Currency, delta)
	if err != nil {
		return nil, err
	}

	adj := models.InventoryAdjustment{
		BranchID:      m.BranchID,
		Currency:      m.Currency,
		TransactionID: m.TransactionID,
		Direction:     dir,
		Delta:         delta,
		OldAmount:     before.Amount,
		NewAmount:     after.Amount,
		Reason:        m.Reason,
		Actor:         m.Actor,
	}
	if err := inv.InsertAdjustment(ctx, &adj); err != nil {
		return nil, err
	}

	observability.WithContext(ctx).Info("inventory moved", "branch_id", m.BranchID, "currency", m.Currency, "direction", dir,
		"old_amount", adj.OldAmount, "new_amount", adj.NewAmount, "transaction_id", m.TransactionID)
	return &appliedAdjustment{InventoryAdjustment: adj, threshold: after.LowStockThreshold}, nil
}

func (l *Ledger) threshold(currency models.Currency, own int64) int64 {
	if own > 0 {
		return own
	}
	return l.defaultThresholds[currency]
}

func crossing(branchID int64, currency models.Currency, before, after, threshold int64) *StockAlert {
	if threshold <= 0 {
		return nil
	}
	var level Level
	switch critical := threshold / 2; {
	case after < critical && before >= critical:
		level = LevelCritical
	case after < threshold && before >= threshold:
		level = LevelLow
	default:
		return nil
	}
	observability.LowStockEvents.WithLabelValues(string(currency), string(level)).Inc()
	return &StockAlert{BranchID: branchID, Currency: currency, Level: level, OnHand: after, Threshold: threshold}
}
