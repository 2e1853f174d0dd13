package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/honeynil/CurrencyExchangeTochka/internal/ledger"
	"github.com/honeynil/CurrencyExchangeTochka/internal/models"
	"github.com/honeynil/CurrencyExchangeTochka/internal/notify"
	"github.com/honeynil/CurrencyExchangeTochka/internal/rates"
	"github.com/honeynil/CurrencyExchangeTochka/internal/repository"
	pkgerrors "github.com/honeynil/CurrencyExchangeTochka/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "exchange-service"

//go:generate mockgen -source=exchange_service.go -destination=mocks/mock_exchange_service.go -package=mocks
type ExchangeService interface {
	CreateReservation(ctx context.Context, req ReservationRequest) (*ReservationResult, error)
	TransitionStatus(ctx context.Context, transactionID int64, status models.StatusType, actor string) (*TransitionResult, error)
	GetTransaction(ctx context.Context, code string) (*TransactionView, error)
	Availability(ctx context.Context, branchID int64, currency models.Currency) (*models.InventorySnapshot, error)
}

type Settings struct {
	// TxTimeout bounds a unit of work once it no longer follows caller cancellation.
	TxTimeout time.Duration
	// MaxRetries is the number of extra attempts after a transient store conflict.
	MaxRetries int
	// RetryInterval is the first backoff delay between attempts.
	RetryInterval time.Duration
}

type exchangeService struct {
	uow      repository.UnitOfWork
	reads    repository.Repositories
	branches repository.BranchRepository
	rates    rates.Provider
	ledger   *ledger.Ledger
	sink     notify.Sink
	settings Settings
	now      func() time.Time
	newCode  func() string
}

type Option func(*exchangeService)

func WithClock(now func() time.Time) Option {
	return func(s *exchangeService) { s.now = now }
}

func WithCodeGenerator(gen func() string) Option {
	return func(s *exchangeService) { s.newCode = gen }
}

func NewExchangeService(
	uow repository.UnitOfWork,
	reads repository.Repositories,
	branches repository.BranchRepository,
	rateProvider rates.Provider,
	inventoryLedger *ledger.Ledger,
	sink notify.Sink,
	settings Settings,
	opts ...Option,
) *exchangeService {
	if settings.TxTimeout <= 0 {
		settings.TxTimeout = 15 * time.Second
	}
	if settings.MaxRetries < 0 {
		settings.MaxRetries = 0
	}
	if settings.RetryInterval <= 0 {
		settings.RetryInterval = 50 * time.Millisecond
	}
	if sink == nil {
		sink = notify.Nop{}
	}
	s := &exchangeService{
		uow:      uow,
		reads:    reads,
		branches: branches,
		rates:    rateProvider,
		ledger:   inventoryLedger,
		sink:     sink,
		settings: settings,
		now:      time.Now,
		newCode:  NewTransactionCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewTransactionCode returns an externally visible code such as EX-3F2A9C0B71D4.
func NewTransactionCode() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "EX-" + strings.ToUpper(raw[:12])
}

// detach returns a context that ignores caller cancellation but still ends after TxTimeout.
func (s *exchangeService) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.settings.TxTimeout)
}

// withRetry runs op again while it fails with a transient store conflict.
func (s *exchangeService) withRetry(ctx context.Context, method string, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.settings.RetryInterval
	b.MaxElapsedTime = 0

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := op()
		if err == nil || pkgerrors.IsRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.settings.MaxRetries)), ctx),
		func(err error, wait time.Duration) {
			logger(ctx).Warn("transient store conflict, retrying",
				"method", method, "attempt", attempt, "wait", wait, "error", err)
		})
}

// classify keeps the error kinds callers act on and folds everything else into ErrFatal.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", pkgerrors.ErrTransientStoreConflict, err)
	}
	for _, known := range []error{
		pkgerrors.ErrInsufficientInventory,
		pkgerrors.ErrInvalidAmount,
		pkgerrors.ErrInvalidBranch,
		pkgerrors.ErrInvalidTransition,
		pkgerrors.ErrInvalidTransactionType,
		pkgerrors.ErrInvalidMethod,
		pkgerrors.ErrInvalidStatus,
		pkgerrors.ErrInvalidCurrency,
		pkgerrors.ErrInvalidInput,
		pkgerrors.ErrTransactionNotFound,
		pkgerrors.ErrTransientStoreConflict,
		pkgerrors.ErrRatesUnavailable,
		pkgerrors.ErrFatal,
		context.Canceled,
	} {
		if stderrors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", pkgerrors.ErrFatal, err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// TransactionView is a transaction with its reservation and the stock movements it caused.
type TransactionView struct {
	Transaction *models.Transaction          `json:"transaction"`
	Reservation *models.Reservation          `json:"reservation"`
	Adjustments []models.InventoryAdjustment `json:"adjustments,omitempty"`
}

func (s *exchangeService) GetTransaction(ctx context.Context, code string) (view *TransactionView, err error) {
	ctx, span := tracer().Start(ctx, "GetTransaction")
	defer func() { endSpan(span, err) }()

	tx, err := s.reads.Transactions.GetByCode(ctx, code)
	if err != nil {
		return nil, classify(err)
	}
	res, err := s.reads.Reservations.GetByTransaction(ctx, tx.ID)
	if err != nil {
		return nil, classify(err)
	}
	adjs, err := s.reads.Inventory.ListAdjustments(ctx, tx.ID)
	if err != nil {
		return nil, classify(err)
	}
	return &TransactionView{Transaction: tx, Reservation: res, Adjustments: adjs}, nil
}

func (s *exchangeService) Availability(ctx context.Context, branchID int64, currency models.Currency) (snap *models.InventorySnapshot, err error) {
	ctx, span := tracer().Start(ctx, "Availability")
	defer func() { endSpan(span, err) }()

	if !currency.Valid() {
		return nil, fmt.Errorf("%w: %q", pkgerrors.ErrInvalidCurrency, currency)
	}
	if _, err := s.activeBranch(ctx, branchID); err != nil {
		return nil, err
	}
	snap, err = s.ledger.Available(ctx, s.reads.Inventory, branchID, currency)
	if err != nil {
		return nil, classify(err)
	}
	return snap, nil
}

func (s *exchangeService) activeBranch(ctx context.Context, branchID int64) (*models.Branch, error) {
	branch, err := s.branches.GetByID(ctx, branchID)
	if stderrors.Is(err, pkgerrors.ErrBranchNotFound) {
		return nil, fmt.Errorf("%w: branch %d does not exist", pkgerrors.ErrInvalidBranch, branchID)
	}
	if err != nil {
		return nil, classify(err)
	}
	if !branch.Active {
		return nil, fmt.Errorf("%w: branch %d is not active", pkgerrors.ErrInvalidBranch, branchID)
	}
	return branch, nil
}
