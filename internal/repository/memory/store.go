// Package memory is an in-process implementation of the repository interfaces.
//
// A single store-wide mutex stands in for row locks: a unit of work holds it from start to
// finish, so units of work are serialized and a failed one is rolled back from a snapshot.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/honeynil/CurrencyExchangeTochka/internal/models"
	"github.com/honeynil/CurrencyExchangeTochka/internal/repository"
	pkgerrors "github.com/honeynil/CurrencyExchangeTochka/pkg/errors"
)

type inventoryKey struct {
	branchID int64
	currency models.Currency
}

type state struct {
	nextTxID      int64
	nextAdjID     int64
	nextHistoryID int64
	branches      map[int64]models.Branch
	inventory     map[inventoryKey]models.Inventory
	transactions  map[int64]models.Transaction
	codes         map[string]int64
	reservations  map[int64]models.Reservation
	adjustments   []models.InventoryAdjustment
	history       []models.StatusChange
	payments      map[string]models.PaymentState
}

func (s *state) clone() *state {
	c := *s
	c.branches = make(map[int64]models.Branch, len(s.branches))
	for k, v := range s.branches {
		c.branches[k] = v
	}
	c.inventory = make(map[inventoryKey]models.Inventory, len(s.inventory))
	for k, v := range s.inventory {
		c.inventory[k] = v
	}
	c.transactions = make(map[int64]models.Transaction, len(s.transactions))
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	c.codes = make(map[string]int64, len(s.codes))
	for k, v := range s.codes {
		c.codes[k] = v
	}
	c.reservations = make(map[int64]models.Reservation, len(s.reservations))
	for k, v := range s.reservations {
		c.reservations[k] = v
	}
	c.payments = make(map[string]models.PaymentState, len(s.payments))
	for k, v := range s.payments {
		c.payments[k] = v
	}
	c.adjustments = append([]models.InventoryAdjustment(nil), s.adjustments...)
	c.history = append([]models.StatusChange(nil), s.history...)
	return &c
}

// Store holds all tables in memory. It implements repository.UnitOfWork,
// repository.BranchRepository and repository.PaymentLedger.
type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time

	createFailures []error
}

func NewStore() *Store {
	return &Store{
		st: &state{
			branches:     make(map[int64]models.Branch),
			inventory:    make(map[inventoryKey]models.Inventory),
			transactions: make(map[int64]models.Transaction),
			codes:        make(map[string]int64),
			reservations: make(map[int64]models.Reservation),
			payments:     make(map[string]models.PaymentState),
		},
		now: time.Now,
	}
}

// SetClock replaces the time source used for created_at and updated_at stamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	saved := s.st.clone()
	defer func() {
		if p := recover(); p != nil {
			s.st = saved
			panic(p)
		}
	}()

	if err := fn(ctx, s.bind(true)); err != nil {
		s.st = saved
		return err
	}
	return nil
}

// Repositories returns handles that take the store lock per call, outside any unit of work.
func (s *Store) Repositories() repository.Repositories {
	return s.bind(false)
}

func (s *Store) bind(held bool) repository.Repositories {
	return repository.Repositories{
		Inventory:    &inventoryRepo{s: s, held: held},
		Reservations: &reservationRepo{s: s, held: held},
		Transactions: &transactionRepo{s: s, held: held},
		Payments:     &paymentRepo{s: s, held: held},
	}
}

func (s *Store) guard(held bool) func() {
	if held {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// FailTransactionCreate queues errors returned by the next transaction inserts, one per call.
func (s *Store) FailTransactionCreate(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createFailures = append(s.createFailures, errs...)
}

func (s *Store) SeedBranch(b models.Branch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.branches[b.ID] = b
}

func (s *Store) SeedInventory(inv models.Inventory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv.UpdatedAt = s.now()
	s.st.inventory[inventoryKey{inv.BranchID, inv.Currency}] = inv
}

// SeedTransaction stores a transaction as-is, keeping its id when set.
func (s *Store) SeedTransaction(tx models.Transaction) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.ID == 0 {
		s.st.nextTxID++
		tx.ID = s.st.nextTxID
	} else if tx.ID > s.st.nextTxID {
		s.st.nextTxID = tx.ID
	}
	s.st.transactions[tx.ID] = tx
	s.st.codes[tx.Code] = tx.ID
	return tx.ID
}

func (s *Store) SeedReservation(r models.Reservation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.reservations[r.TransactionID] = r
}

func (s *Store) SetPaymentState(code string, state models.PaymentState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.payments[code] = state
}

// Adjustments returns every inventory adjustment in insertion order.
func (s *Store) Adjustments() []models.InventoryAdjustment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.InventoryAdjustment(nil), s.st.adjustments...)
}

// History returns the status history of one transaction in insertion order.
func (s *Store) History(transactionID int64) []models.StatusChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.StatusChange
	for _, h := range s.st.history {
		if h.TransactionID == transactionID {
			out = append(out, h)
		}
	}
	return out
}

// Reservations returns all reservations ordered by transaction id.
func (s *Store) Reservations() []models.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Reservation, 0, len(s.st.reservations))
	for _, r := range s.st.reservations {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TransactionID < out[j].TransactionID })
	return out
}

func (s *Store) GetByID(ctx context.Context, id int64) (*models.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.st.branches[id]
	if !ok {
		return nil, pkgerrors.ErrBranchNotFound
	}
	return &b, nil
}

func (s *Store) PaymentState(ctx context.Context, transactionCode string) (models.PaymentState, error) {
	return (&paymentRepo{s: s}).PaymentState(ctx, transactionCode)
}

type paymentRepo struct {
	s    *Store
	held bool
}

func (r *paymentRepo) PaymentState(ctx context.Context, transactionCode string) (models.PaymentState, error) {
	defer r.s.guard(r.held)()
	if state, ok := r.s.st.payments[transactionCode]; ok {
		return state, nil
	}
	return models.PaymentUnpaid, nil
}

type inventoryRepo struct {
	s    *Store
	held bool
}

func (r *inventoryRepo) Snapshot(ctx context.Context, branchID int64, currency models.Currency) (*models.InventorySnapshot, error) {
	defer r.s.guard(r.held)()
	return r.s.snapshot(branchID, currency)
}

func (r *inventoryRepo) LockSnapshot(ctx context.Context, branchID int64, currency models.Currency) (*models.InventorySnapshot, error) {
	defer r.s.guard(r.held)()
	return r.s.snapshot(branchID, currency)
}

func (s *Store) snapshot(branchID int64, currency models.Currency) (*models.InventorySnapshot, error) {
	inv, ok := s.st.inventory[inventoryKey{branchID, currency}]
	if !ok {
		return nil, pkgerrors.ErrInventoryNotFound
	}
	snap := &models.InventorySnapshot{
		BranchID:          branchID,
		Currency:          currency,
		OnHand:            inv.Amount,
		LowStockThreshold: inv.LowStockThreshold,
	}
	for _, res := range s.st.reservations {
		if res.BranchID == branchID && res.Currency == currency && res.Status == models.ReservationReserved {
			snap.Reserved += res.AmountReserved
		}
	}
	return snap, nil
}

func (r *inventoryRepo) ApplyDelta(ctx context.Context, branchID int64, currency models.Currency, delta int64) (*models.Inventory, *models.Inventory, error) {
	defer r.s.guard(r.held)()

	key := inventoryKey{branchID, currency}
	inv, ok := r.s.st.inventory[key]
	if !ok {
		inv = models.Inventory{BranchID: branchID, Currency: currency}
	}
	if inv.Amount+delta < 0 {
		return nil, nil, fmt.Errorf("%w: branch %d %s cannot absorb %d", pkgerrors.ErrInsufficientInventory, branchID, currency, delta)
	}
	before := inv
	inv.Amount += delta
	inv.UpdatedAt = r.s.now()
	r.s.st.inventory[key] = inv
	after := inv
	return &before, &after, nil
}

func (r *inventoryRepo) InsertAdjustment(ctx context.Context, adj *models.InventoryAdjustment) error {
	defer r.s.guard(r.held)()
	r.s.st.nextAdjID++
	adj.ID = r.s.st.nextAdjID
	adj.CreatedAt = r.s.now()
	r.s.st.adjustments = append(r.s.st.adjustments, *adj)
	return nil
}

func (r *inventoryRepo) ListAdjustments(ctx context.Context, transactionID int64) ([]models.InventoryAdjustment, error) {
	defer r.s.guard(r.held)()
	var out []models.InventoryAdjustment
	for _, a := range r.s.st.adjustments {
		if a.TransactionID == transactionID {
			out = append(out, a)
		}
	}
	return out, nil
}

type reservationRepo struct {
	s    *Store
	held bool
}

func (r *reservationRepo) Create(ctx context.Context, res *models.Reservation) error {
	defer r.s.guard(r.held)()
	if res == nil {
		return pkgerrors.ErrNilReservation
	}
	if res.AmountReserved <= 0 {
		return fmt.Errorf("%w: reserved amount must be positive", pkgerrors.ErrInvalidAmount)
	}
	if _, exists := r.s.st.reservations[res.TransactionID]; exists {
		return fmt.Errorf("reservation for transaction %d already exists", res.TransactionID)
	}
	res.CreatedAt = r.s.now()
	r.s.st.reservations[res.TransactionID] = *res
	return nil
}

func (r *reservationRepo) GetByTransaction(ctx context.Context, transactionID int64) (*models.Reservation, error) {
	defer r.s.guard(r.held)()
	return r.get(transactionID)
}

func (r *reservationRepo) GetByTransactionForUpdate(ctx context.Context, transactionID int64) (*models.Reservation, error) {
	defer r.s.guard(r.held)()
	return r.get(transactionID)
}

func (r *reservationRepo) get(transactionID int64) (*models.Reservation, error) {
	res, ok := r.s.st.reservations[transactionID]
	if !ok {
		return nil, pkgerrors.ErrReservationNotFound
	}
	return &res, nil
}

func (r *reservationRepo) UpdateStatus(ctx context.Context, id string, status models.ReservationStatus, at time.Time) error {
	defer r.s.guard(r.held)()
	if status != models.ReservationCommitted && status != models.ReservationReleased {
		return fmt.Errorf("%w: reservation status %q", pkgerrors.ErrInvalidStatus, status)
	}
	for txID, res := range r.s.st.reservations {
		if res.ID != id {
			continue
		}
		if res.Status != models.ReservationReserved {
			break
		}
		res.Status = status
		stamp := at
		if status == models.ReservationCommitted {
			res.CommittedAt = &stamp
		} else {
			res.ReleasedAt = &stamp
		}
		r.s.st.reservations[txID] = res
		return nil
	}
	return fmt.Errorf("%w: reservation %s is no longer reserved", pkgerrors.ErrReservationNotFound, id)
}

type transactionRepo struct {
	s    *Store
	held bool
}

func (r *transactionRepo) Create(ctx context.Context, tx *models.Transaction) (int64, error) {
	defer r.s.guard(r.held)()
	if tx == nil {
		return 0, pkgerrors.ErrNilTransaction
	}
	if len(r.s.createFailures) > 0 {
		err := r.s.createFailures[0]
		r.s.createFailures = r.s.createFailures[1:]
		return 0, err
	}
	if !tx.Type.Valid() {
		return 0, pkgerrors.ErrInvalidTransactionType
	}
	if !tx.Status.Valid() {
		return 0, pkgerrors.ErrInvalidStatus
	}
	if tx.AmountFrom <= 0 || tx.AmountTo <= 0 {
		return 0, pkgerrors.ErrInvalidAmount
	}
	if _, taken := r.s.st.codes[tx.Code]; taken {
		return 0, fmt.Errorf("%w: %s", pkgerrors.ErrDuplicateCode, tx.Code)
	}

	r.s.st.nextTxID++
	tx.ID = r.s.st.nextTxID
	tx.CreatedAt = r.s.now()
	tx.UpdatedAt = tx.CreatedAt
	r.s.st.transactions[tx.ID] = *tx
	r.s.st.codes[tx.Code] = tx.ID
	return tx.ID, nil
}

func (r *transactionRepo) GetByID(ctx context.Context, id int64) (*models.Transaction, error) {
	defer r.s.guard(r.held)()
	return r.get(id)
}

func (r *transactionRepo) GetByIDForUpdate(ctx context.Context, id int64) (*models.Transaction, error) {
	defer r.s.guard(r.held)()
	return r.get(id)
}

func (r *transactionRepo) GetByCode(ctx context.Context, code string) (*models.Transaction, error) {
	defer r.s.guard(r.held)()
	id, ok := r.s.st.codes[code]
	if !ok {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	return r.get(id)
}

func (r *transactionRepo) get(id int64) (*models.Transaction, error) {
	tx, ok := r.s.st.transactions[id]
	if !ok {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	return &tx, nil
}

func (r *transactionRepo) UpdateStatus(ctx context.Context, id int64, status models.StatusType, at time.Time) error {
	defer r.s.guard(r.held)()
	tx, ok := r.s.st.transactions[id]
	if !ok {
		return pkgerrors.ErrTransactionNotFound
	}
	tx.Status = status
	tx.UpdatedAt = at
	r.s.st.transactions[id] = tx
	return nil
}

func (r *transactionRepo) AppendStatusChange(ctx context.Context, change *models.StatusChange) error {
	defer r.s.guard(r.held)()
	r.s.st.nextHistoryID++
	change.ID = r.s.st.nextHistoryID
	change.CreatedAt = r.s.now()
	r.s.st.history = append(r.s.st.history, *change)
	return nil
}

func (r *transactionRepo) ListDue(ctx context.Context, now time.Time, statuses []models.StatusType, after repository.DueRef, limit int) ([]repository.DueRef, error) {
	defer r.s.guard(r.held)()

	wanted := make(map[models.StatusType]bool, len(statuses))
	for _, st := range statuses {
		wanted[st] = true
	}
	var due []repository.DueRef
	for _, tx := range r.s.st.transactions {
		ref := repository.DueRef{ID: tx.ID, ExpiresAt: tx.ExpiresAt}
		if wanted[tx.Status] && !tx.ExpiresAt.After(now) && ref.After(after) {
			due = append(due, ref)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[j].After(due[i])
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}
