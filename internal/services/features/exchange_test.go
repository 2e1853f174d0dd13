package features

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/honeynil/CurrencyExchangeTochka/internal/ledger"
	"github.com/honeynil/CurrencyExchangeTochka/internal/models"
	"github.com/honeynil/CurrencyExchangeTochka/internal/money"
	"github.com/honeynil/CurrencyExchangeTochka/internal/notify"
	"github.com/honeynil/CurrencyExchangeTochka/internal/rates"
	"github.com/honeynil/CurrencyExchangeTochka/internal/repository/memory"
	service "github.com/honeynil/CurrencyExchangeTochka/internal/services"
	pkgerrors "github.com/honeynil/CurrencyExchangeTochka/pkg/errors"
	"github.com/shopspring/decimal"
)

const branchID = 1

type recordingSink struct {
	mu  sync.Mutex
	got []notify.Notification
}

func (s *recordingSink) Notify(_ context.Context, n notify.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, n)
	return nil
}

type exchangeTestContext struct {
	now   time.Time
	store *memory.Store
	sink  *recordingSink
	snap  rates.Snapshot
	svc   interface {
		service.ExchangeService
		service.Expirer
	}
	sweeper *service.Sweeper

	last *models.Transaction
	err  error
}

func (c *exchangeTestContext) reset() {
	c.now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c.store = memory.NewStore()
	c.store.SetClock(c.clock)
	c.store.SeedBranch(models.Branch{ID: branchID, Name: "Centro", Active: true})
	c.sink = &recordingSink{}
	c.snap = rates.Snapshot{TTL: 24 * time.Hour, MinQuantity: 100, MaxQuantity: 10000000}
	c.svc = nil
	c.sweeper = nil
	c.last = nil
	c.err = nil
}

func (c *exchangeTestContext) clock() time.Time {
	return c.now
}

// ensureService builds the service lazily so Background steps can adjust rates and stock first.
func (c *exchangeTestContext) ensureService() error {
	if c.svc != nil {
		return nil
	}
	provider, err := rates.NewStaticProvider(c.snap)
	if err != nil {
		return err
	}
	svc := service.NewExchangeService(c.store, c.store.Repositories(), c.store, provider, ledger.New(nil), c.sink,
		service.Settings{TxTimeout: 5 * time.Second, MaxRetries: 2, RetryInterval: time.Millisecond},
		service.WithClock(c.clock))
	c.svc = svc
	c.sweeper = service.NewSweeper(c.store.Repositories().Transactions, c.store, svc, c.sink, nil, nil, 100)
	c.sweeper.SetClock(c.clock)
	return nil
}

func (c *exchangeTestContext) ratesWithCommission(buy, sell int, commission string) error {
	pct, err := decimal.NewFromString(commission)
	if err != nil {
		return err
	}
	c.snap.BuyRate = decimal.NewFromInt(int64(buy))
	c.snap.SellRate = decimal.NewFromInt(int64(sell))
	c.snap.CommissionPercent = pct
	return nil
}

func (c *exchangeTestContext) aBranchWithUSD(onHand, threshold string) error {
	amount, err := money.Parse(money.USD, onHand)
	if err != nil {
		return err
	}
	limit, err := money.Parse(money.USD, threshold)
	if err != nil {
		return err
	}
	c.store.SeedInventory(models.Inventory{BranchID: branchID, Currency: models.CurrencyUSD, Amount: amount, LowStockThreshold: limit})
	return nil
}

func (c *exchangeTestContext) theBranchHoldsARS(onHand string) error {
	amount, err := money.Parse(money.ARS, onHand)
	if err != nil {
		return err
	}
	c.store.SeedInventory(models.Inventory{BranchID: branchID, Currency: models.CurrencyARS, Amount: amount})
	return nil
}

func (c *exchangeTestContext) aCustomerReserves(typ, quantity string) error {
	if err := c.ensureService(); err != nil {
		return err
	}
	q, err := money.Parse(money.USD, quantity)
	if err != nil {
		return err
	}
	res, err := c.svc.CreateReservation(context.Background(), service.ReservationRequest{
		UserID:   7,
		BranchID: branchID,
		Type:     models.TransactionType(typ),
		Quantity: q,
		Method:   models.MethodInPerson,
		Actor:    "customer:7",
	})
	c.err = err
	if err == nil {
		c.last = res.Transaction
	}
	return nil
}

func (c *exchangeTestContext) theReservationIsAdmitted() error {
	if c.err != nil {
		return fmt.Errorf("expected admission, got %w", c.err)
	}
	return nil
}

func (c *exchangeTestContext) theReservationIsRejectedAsInsufficient() error {
	if !errors.Is(c.err, pkgerrors.ErrInsufficientInventory) {
		return fmt.Errorf("expected insufficient inventory, got %v", c.err)
	}
	return nil
}

func (c *exchangeTestContext) snapshot(currency string) (*models.InventorySnapshot, error) {
	if err := c.ensureService(); err != nil {
		return nil, err
	}
	return c.svc.Availability(context.Background(), branchID, models.Currency(currency))
}

func (c *exchangeTestContext) theAvailableIs(currency, want string) error {
	snap, err := c.snapshot(currency)
	if err != nil {
		return err
	}
	if got := money.Format(snap.Currency, snap.Available()); got != want {
		return fmt.Errorf("available %s: expected %s, got %s", currency, want, got)
	}
	return nil
}

func (c *exchangeTestContext) theOnHandIs(currency, want string) error {
	snap, err := c.snapshot(currency)
	if err != nil {
		return err
	}
	if got := money.Format(snap.Currency, snap.OnHand); got != want {
		return fmt.Errorf("on hand %s: expected %s, got %s", currency, want, got)
	}
	return nil
}

func (c *exchangeTestContext) theTransactionIsMarked(status string) error {
	if c.last == nil {
		return errors.New("no transaction reserved")
	}
	res, err := c.svc.TransitionStatus(context.Background(), c.last.ID, models.StatusType(status), "staff:90")
	if err != nil {
		return err
	}
	c.last = res.Transaction
	return nil
}

func (c *exchangeTestContext) thePaymentIs(state string) error {
	if c.last == nil {
		return errors.New("no transaction reserved")
	}
	c.store.SetPaymentState(c.last.Code, models.PaymentState(state))
	return nil
}

func (c *exchangeTestContext) hoursPass(hours int) error {
	c.now = c.now.Add(time.Duration(hours) * time.Hour)
	return nil
}

func (c *exchangeTestContext) theSweepRuns() error {
	if err := c.ensureService(); err != nil {
		return err
	}
	report, err := c.sweeper.SweepNow(context.Background())
	if err != nil {
		return err
	}
	if report.Failed > 0 {
		return fmt.Errorf("sweep reported %d failures", report.Failed)
	}
	return nil
}

func (c *exchangeTestContext) view() (*service.TransactionView, error) {
	if c.last == nil {
		return nil, errors.New("no transaction reserved")
	}
	return c.svc.GetTransaction(context.Background(), c.last.Code)
}

func (c *exchangeTestContext) theTransactionStatusIs(want string) error {
	v, err := c.view()
	if err != nil {
		return err
	}
	if string(v.Transaction.Status) != want {
		return fmt.Errorf("expected transaction %s, got %s", want, v.Transaction.Status)
	}
	return nil
}

func (c *exchangeTestContext) theReservationStatusIs(want string) error {
	v, err := c.view()
	if err != nil {
		return err
	}
	if string(v.Reservation.Status) != want {
		return fmt.Errorf("expected reservation %s, got %s", want, v.Reservation.Status)
	}
	return nil
}

func (c *exchangeTestContext) anAdminReviewIsEmitted() error {
	c.sink.mu.Lock()
	defer c.sink.mu.Unlock()
	for _, n := range c.sink.got {
		if n.Audience == notify.AudienceAdmin && n.EventType == notify.EventDelayedPickup && n.TransactionID == c.last.ID {
			return nil
		}
	}
	return errors.New("no admin review notification emitted")
}

func (c *exchangeTestContext) exactlyOneMovement(direction, amount, currency string) error {
	cur := models.Currency(currency)
	want, err := money.Parse(cur, amount)
	if err != nil {
		return err
	}
	v, err := c.view()
	if err != nil {
		return err
	}
	var matched []models.InventoryAdjustment
	for _, adj := range v.Adjustments {
		if string(adj.Direction) == direction && adj.Currency == cur {
			matched = append(matched, adj)
		}
	}
	if len(matched) != 1 {
		return fmt.Errorf("expected one %s of %s, found %d", direction, currency, len(matched))
	}
	if matched[0].Delta != want && matched[0].Delta != -want {
		return fmt.Errorf("expected %s of %s %s, got delta %d", direction, amount, currency, matched[0].Delta)
	}
	return nil
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	tc := &exchangeTestContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		tc.reset()
		return ctx, nil
	})

	// Given steps
	ctx.Step(`^rates of (\d+) buy and (\d+) sell with ([\d.]+)% commission$`, tc.ratesWithCommission)
	ctx.Step(`^a branch with ([\d.]+) USD on hand and a low stock threshold of ([\d.]+)$`, tc.aBranchWithUSD)
	ctx.Step(`^the branch holds (\d+) ARS$`, tc.theBranchHoldsARS)
	ctx.Step(`^the payment for the transaction is (paid|pending|unpaid)$`, tc.thePaymentIs)

	// When steps
	ctx.Step(`^a customer reserves a (buy|sell) of ([\d.]+) USD$`, tc.aCustomerReserves)
	ctx.Step(`^the transaction is marked (\w+)$`, tc.theTransactionIsMarked)
	ctx.Step(`^(\d+) hours pass$`, tc.hoursPass)
	ctx.Step(`^the expiration sweep runs$`, tc.theSweepRuns)

	// Then steps
	ctx.Step(`^the reservation is admitted$`, tc.theReservationIsAdmitted)
	ctx.Step(`^the reservation is rejected as insufficient inventory$`, tc.theReservationIsRejectedAsInsufficient)
	ctx.Step(`^the available (USD|ARS) is ([\d.]+)$`, tc.theAvailableIs)
	ctx.Step(`^the (USD|ARS) on hand is ([\d.]+)$`, tc.theOnHandIs)
	ctx.Step(`^the transaction status is (\w+)$`, tc.theTransactionStatusIs)
	ctx.Step(`^the reservation status is (\w+)$`, tc.theReservationStatusIs)
	ctx.Step(`^an admin review notification is emitted$`, tc.anAdminReviewIsEmitted)
	ctx.Step(`^exactly one (debit|credit) of ([\d.]+) (USD|ARS) is recorded$`, tc.exactlyOneMovement)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"exchange.feature"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
