package service_test

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/honeynil/CurrencyExchangeTochka/internal/models"
	"github.com/honeynil/CurrencyExchangeTochka/internal/notify"
	service "github.com/honeynil/CurrencyExchangeTochka/internal/services"
	pkgerrors "github.com/honeynil/CurrencyExchangeTochka/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateReservation_HoldsWithoutTouchingStock(t *testing.T) {
	f := newFixture(t)

	res := f.reserve(t, models.TypeBuy, 20000)

	tx := res.Transaction
	assert.Equal(t, models.StatusReserved, tx.Status)
	assert.Equal(t, int64(20000), tx.AmountTo)
	assert.Equal(t, models.CurrencyUSD, tx.CurrencyTo)
	assert.Equal(t, int64(203000), tx.AmountFrom)
	assert.Equal(t, models.CurrencyARS, tx.CurrencyFrom)
	assert.Equal(t, int64(3000), tx.CommissionAmount)
	assert.Equal(t, "1015.0000", tx.ExchangeRate.StringFixed(4))
	assert.True(t, f.clock.Now().Add(24*time.Hour).Equal(tx.ExpiresAt))
	assert.True(t, strings.HasPrefix(tx.Code, "EX-"))
	assert.Len(t, tx.Code, 15)

	assert.Equal(t, models.ReservationReserved, res.Reservation.Status)
	assert.Equal(t, tx.AmountTo, res.Reservation.AmountReserved)
	assert.Equal(t, tx.ID, res.Reservation.TransactionID)

	snap := f.available(t, models.CurrencyUSD)
	assert.Equal(t, int64(80000), snap.Available())
	assert.Equal(t, int64(100000), snap.OnHand)
	assert.Empty(t, f.store.Adjustments())

	history := f.store.History(tx.ID)
	require.Len(t, history, 1)
	assert.Equal(t, models.StatusType(""), history[0].OldStatus)
	assert.Equal(t, models.StatusReserved, history[0].NewStatus)

	created := f.sink.byType(notify.EventReservationCreated)
	require.Len(t, created, 2)
	assert.Equal(t, notify.AudienceCustomer, created[0].Audience)
	assert.Equal(t, notify.AudienceBranch, created[1].Audience)
	assert.True(t, res.Delivery.OK())
}

func TestCreateReservation_InsufficientInventory(t *testing.T) {
	f := newFixture(t)
	f.reserve(t, models.TypeBuy, 20000)

	_, err := f.svc.CreateReservation(context.Background(), service.ReservationRequest{
		UserID: 8, BranchID: 1, Type: models.TypeBuy, Quantity: 85000, Method: models.MethodInPerson, Actor: "user:8",
	})
	require.ErrorIs(t, err, pkgerrors.ErrInsufficientInventory)

	var insufficient *pkgerrors.InsufficientInventoryError
	require.True(t, stderrors.As(err, &insufficient))
	assert.Equal(t, int64(80000), insufficient.Available)
	assert.Equal(t, int64(85000), insufficient.Requested)
	assert.Equal(t, "USD", insufficient.Currency)

	assert.Equal(t, int64(80000), f.available(t, models.CurrencyUSD).Available())
	assert.Len(t, f.store.Reservations(), 1)
}

func TestCreateReservation_SellHoldsLocalCurrency(t *testing.T) {
	f := newFixture(t)

	res := f.reserve(t, models.TypeSell, 50000)

	tx := res.Transaction
	assert.Equal(t, int64(50000), tx.AmountFrom)
	assert.Equal(t, models.CurrencyUSD, tx.CurrencyFrom)
	assert.Equal(t, int64(492500), tx.AmountTo)
	assert.Equal(t, models.CurrencyARS, tx.CurrencyTo)
	assert.Equal(t, int64(7500), tx.CommissionAmount)
	assert.Equal(t, models.CurrencyARS, res.Reservation.Currency)

	assert.Equal(t, int64(5000000-492500), f.available(t, models.CurrencyARS).Available())
	assert.Equal(t, int64(100000), f.available(t, models.CurrencyUSD).Available())
}

func TestCreateReservation_Validation(t *testing.T) {
	f := newFixture(t)
	valid := service.ReservationRequest{UserID: 7, BranchID: 1, Type: models.TypeBuy, Quantity: 20000, Method: models.MethodOnline}

	cases := []struct {
		name   string
		mutate func(r *service.ReservationRequest)
		want   error
	}{
		{"UnknownType", func(r *service.ReservationRequest) { r.Type = "swap" }, pkgerrors.ErrInvalidTransactionType},
		{"UnknownMethod", func(r *service.ReservationRequest) { r.Method = "crypto" }, pkgerrors.ErrInvalidMethod},
		{"ZeroQuantity", func(r *service.ReservationRequest) { r.Quantity = 0 }, pkgerrors.ErrInvalidAmount},
		{"BelowMinimum", func(r *service.ReservationRequest) { r.Quantity = 999 }, pkgerrors.ErrInvalidAmount},
		{"AboveMaximum", func(r *service.ReservationRequest) { r.Quantity = 1000001 }, pkgerrors.ErrInvalidAmount},
		{"UnknownBranch", func(r *service.ReservationRequest) { r.BranchID = 99 }, pkgerrors.ErrInvalidBranch},
		{"InactiveBranch", func(r *service.ReservationRequest) { r.BranchID = 2 }, pkgerrors.ErrInvalidBranch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := valid
			tc.mutate(&req)
			_, err := f.svc.CreateReservation(context.Background(), req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Empty(t, f.store.Reservations())
}

func TestCreateReservation_CancelledBeforeStart(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.CreateReservation(ctx, service.ReservationRequest{
		UserID: 7, BranchID: 1, Type: models.TypeBuy, Quantity: 20000, Method: models.MethodOnline,
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.store.Reservations())
}

func TestCreateReservation_RegeneratesDuplicateCode(t *testing.T) {
	f := newFixture(t, withCodes("EX-AAAAAAAAAAAA", "EX-BBBBBBBBBBBB"))
	f.store.FailTransactionCreate(pkgerrors.ErrDuplicateCode)

	res := f.reserve(t, models.TypeBuy, 20000)
	assert.Equal(t, "EX-BBBBBBBBBBBB", res.Transaction.Code)
	assert.Len(t, f.store.Reservations(), 1)
}

func TestCreateReservation_RetriesTransientConflicts(t *testing.T) {
	t.Run("RecoversWithinBudget", func(t *testing.T) {
		f := newFixture(t, withMaxRetries(3))
		f.store.FailTransactionCreate(pkgerrors.ErrTransientStoreConflict, pkgerrors.ErrTransientStoreConflict)

		res := f.reserve(t, models.TypeBuy, 20000)
		assert.Equal(t, models.StatusReserved, res.Transaction.Status)
		assert.Len(t, f.store.Reservations(), 1)
	})

	t.Run("GivesUp", func(t *testing.T) {
		f := newFixture(t, withMaxRetries(1))
		f.store.FailTransactionCreate(pkgerrors.ErrTransientStoreConflict, pkgerrors.ErrTransientStoreConflict)

		_, err := f.svc.CreateReservation(context.Background(), service.ReservationRequest{
			UserID: 7, BranchID: 1, Type: models.TypeBuy, Quantity: 20000, Method: models.MethodOnline,
		})
		assert.ErrorIs(t, err, pkgerrors.ErrTransientStoreConflict)
		assert.Empty(t, f.store.Reservations())
		assert.Equal(t, int64(100000), f.available(t, models.CurrencyUSD).Available())
	})
}

func TestCreateReservation_UnknownStoreFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.store.FailTransactionCreate(stderrors.New("disk full"))

	_, err := f.svc.CreateReservation(context.Background(), service.ReservationRequest{
		UserID: 7, BranchID: 1, Type: models.TypeBuy, Quantity: 20000, Method: models.MethodOnline,
	})
	assert.ErrorIs(t, err, pkgerrors.ErrFatal)
}

func TestCreateReservation_ConcurrentAdmissionNeverOversells(t *testing.T) {
	f := newFixture(t)
	const workers = 10

	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		admitted     int
		insufficient int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(user int64) {
			defer wg.Done()
			_, err := f.svc.CreateReservation(context.Background(), service.ReservationRequest{
				UserID: user, BranchID: 1, Type: models.TypeBuy, Quantity: 25000, Method: models.MethodOnline,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				admitted++
			case stderrors.Is(err, pkgerrors.ErrInsufficientInventory):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(int64(i))
	}
	wg.Wait()

	assert.Equal(t, 4, admitted)
	assert.Equal(t, workers-4, insufficient)
	snap := f.available(t, models.CurrencyUSD)
	assert.Zero(t, snap.Available())
	assert.Equal(t, int64(100000), snap.OnHand)
}
