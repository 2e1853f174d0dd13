package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/honeynil/CurrencyExchangeTochka/internal/ledger"
	"github.com/honeynil/CurrencyExchangeTochka/internal/models"
	"github.com/honeynil/CurrencyExchangeTochka/internal/notify"
	"github.com/honeynil/CurrencyExchangeTochka/internal/rates"
	"github.com/honeynil/CurrencyExchangeTochka/internal/repository/memory"
	service "github.com/honeynil/CurrencyExchangeTochka/internal/services"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type exchange interface {
	service.ExchangeService
	service.Expirer
}

type recordingSink struct {
	mu  sync.Mutex
	got []notify.Notification
}

func (s *recordingSink) Notify(ctx context.Context, n notify.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, n)
	return nil
}

func (s *recordingSink) byType(t notify.EventType) []notify.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []notify.Notification
	for _, n := range s.got {
		if n.EventType == t {
			out = append(out, n)
		}
	}
	return out
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	store *memory.Store
	svc   exchange
	sink  *recordingSink
	clock *clock
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	commission string
	maxRetries int
	sink       notify.Sink
	codes      []string
}

func withCommission(c string) fixtureOption { return func(f *fixtureConfig) { f.commission = c } }
func withMaxRetries(n int) fixtureOption    { return func(f *fixtureConfig) { f.maxRetries = n } }
func withSink(s notify.Sink) fixtureOption  { return func(f *fixtureConfig) { f.sink = s } }
func withCodes(c ...string) fixtureOption   { return func(f *fixtureConfig) { f.codes = c } }

// newFixture seeds branch 1 with 1000.00 USD (threshold 100.00) and 5,000,000 ARS.
func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	cfg := fixtureConfig{commission: "1.5", maxRetries: 3}
	for _, opt := range opts {
		opt(&cfg)
	}

	clk := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := memory.NewStore()
	store.SetClock(clk.Now)
	store.SeedBranch(models.Branch{ID: 1, Name: "Centro", Active: true})
	store.SeedBranch(models.Branch{ID: 2, Name: "Closed", Active: false})
	store.SeedInventory(models.Inventory{BranchID: 1, Currency: models.CurrencyUSD, Amount: 100000, LowStockThreshold: 10000})
	store.SeedInventory(models.Inventory{BranchID: 1, Currency: models.CurrencyARS, Amount: 5000000})

	provider, err := rates.NewStaticProvider(rates.Snapshot{
		BuyRate:           decimal.RequireFromString("1000"),
		SellRate:          decimal.RequireFromString("1000"),
		CommissionPercent: decimal.RequireFromString(cfg.commission),
		TTL:               24 * time.Hour,
		MinQuantity:       1000,
		MaxQuantity:       1000000,
	})
	require.NoError(t, err)

	rec := &recordingSink{}
	var sink notify.Sink = rec
	if cfg.sink != nil {
		sink = cfg.sink
	}

	svcOpts := []service.Option{service.WithClock(clk.Now)}
	if len(cfg.codes) > 0 {
		var mu sync.Mutex
		codes := cfg.codes
		svcOpts = append(svcOpts, service.WithCodeGenerator(func() string {
			mu.Lock()
			defer mu.Unlock()
			if len(codes) == 0 {
				return service.NewTransactionCode()
			}
			c := codes[0]
			codes = codes[1:]
			return c
		}))
	}

	svc := service.NewExchangeService(store, store.Repositories(), store, provider, ledger.New(nil), sink,
		service.Settings{TxTimeout: 5 * time.Second, MaxRetries: cfg.maxRetries, RetryInterval: time.Millisecond},
		svcOpts...)

	return &fixture{store: store, svc: svc, sink: rec, clock: clk}
}

func (f *fixture) reserve(t *testing.T, typ models.TransactionType, quantity int64) *service.ReservationResult {
	t.Helper()
	res, err := f.svc.CreateReservation(context.Background(), service.ReservationRequest{
		UserID: 7, BranchID: 1, Type: typ, Quantity: quantity, Method: models.MethodOnline, Actor: "user:7",
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) available(t *testing.T, currency models.Currency) *models.InventorySnapshot {
	t.Helper()
	snap, err := f.svc.Availability(context.Background(), 1, currency)
	require.NoError(t, err)
	return snap
}
