package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/honeynil/CurrencyExchangeTochka/internal/infrastructure/observability"
	"github.com/honeynil/CurrencyExchangeTochka/internal/models"
	"github.com/honeynil/CurrencyExchangeTochka/internal/notify"
	"github.com/honeynil/CurrencyExchangeTochka/internal/repository"
	pkgerrors "github.com/honeynil/CurrencyExchangeTochka/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

const (
	SweeperActor = "system:sweeper"

	alertDelayedPickup = "delayed_pickup"
)

type Expirer interface {
	Expire(ctx context.Context, transactionID int64, actor string) (*TransitionResult, error)
}

//go:generate mockgen -source=sweeper.go -destination=mocks/mock_sweeper.go -package=mocks
type AlertDeduper interface {
	// FirstSeen reports whether the alert kind has not yet been raised for the transaction.
	FirstSeen(ctx context.Context, kind string, transactionID int64) (bool, error)
}

type SweepReport struct {
	Candidates int `json:"candidates"`
	Expired    int `json:"expired"`
	Flagged    int `json:"flagged"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

type sweepOutcome string

const (
	outcomeExpired sweepOutcome = "expired"
	outcomeFlagged sweepOutcome = "flagged"
	outcomeSkipped sweepOutcome = "skipped"
	outcomeFailed  sweepOutcome = "failed"
)

// Sweeper reclaims holds of abandoned reservations and flags paid ones that were never collected.
type Sweeper struct {
	transactions repository.TransactionRepository
	payments     repository.PaymentLedger
	expirer      Expirer
	sink         notify.Sink
	dedupe       AlertDeduper
	running      *atomic.Bool
	batchSize    int
	now          func() time.Time
}

// NewSweeper builds a sweeper. running is the in-flight guard; sweepers sharing it never overlap.
func NewSweeper(
	transactions repository.TransactionRepository,
	payments repository.PaymentLedger,
	expirer Expirer,
	sink notify.Sink,
	dedupe AlertDeduper,
	running *atomic.Bool,
	batchSize int,
) *Sweeper {
	if running == nil {
		running = new(atomic.Bool)
	}
	if sink == nil {
		sink = notify.Nop{}
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Sweeper{
		transactions: transactions,
		payments:     payments,
		expirer:      expirer,
		sink:         sink,
		dedupe:       dedupe,
		running:      running,
		batchSize:    batchSize,
		now:          time.Now,
	}
}

// SetClock replaces the time source used to decide what is due.
func (s *Sweeper) SetClock(now func() time.Time) {
	s.now = now
}

// SweepNow runs one pass over due transactions. It fails with ErrSweepInProgress when a pass is already running.
func (s *Sweeper) SweepNow(ctx context.Context) (report SweepReport, err error) {
	if !s.running.CompareAndSwap(false, true) {
		return SweepReport{}, pkgerrors.ErrSweepInProgress
	}
	defer s.running.Store(false)

	ctx, span := tracer().Start(ctx, "SweepNow")
	defer func() {
		span.SetAttributes(
			attribute.Int("candidates", report.Candidates),
			attribute.Int("expired", report.Expired),
			attribute.Int("flagged", report.Flagged),
		)
		endSpan(span, err)
	}()

	start := time.Now()
	defer func() { observability.SweepDuration.Observe(time.Since(start).Seconds()) }()

	// Flagged buys stay due, so the sweep pages past them instead of rereading the first batch.
	now := s.now().UTC()
	var cursor repository.DueRef
	for {
		refs, err := s.transactions.ListDue(ctx, now, models.SweepableStatuses, cursor, s.batchSize)
		if err != nil {
			logger(ctx).Error("failed to list due transactions", "method", "SweepNow", "error", err)
			return report, classify(err)
		}
		report.Candidates += len(refs)

		for _, ref := range refs {
			s.record(ctx, &report, ref.ID, now)
		}

		if len(refs) < s.batchSize {
			break
		}
		cursor = refs[len(refs)-1]
		if err := ctx.Err(); err != nil {
			return report, err
		}
	}

	logger(ctx).Info("sweep finished",
		"candidates", report.Candidates,
		"expired", report.Expired,
		"flagged", report.Flagged,
		"skipped", report.Skipped,
		"failed", report.Failed)
	return report, nil
}

func (s *Sweeper) record(ctx context.Context, report *SweepReport, id int64, now time.Time) {
	outcome, err := s.sweepOne(ctx, id, now)
	if err != nil {
		logger(ctx, "transaction_id", id).Error("sweep candidate failed", "error", err)
	}
	observability.SweepCandidates.WithLabelValues(string(outcome)).Inc()
	switch outcome {
	case outcomeExpired:
		report.Expired++
	case outcomeFlagged:
		report.Flagged++
	case outcomeSkipped:
		report.Skipped++
	case outcomeFailed:
		report.Failed++
	}
}

func (s *Sweeper) sweepOne(ctx context.Context, id int64, now time.Time) (sweepOutcome, error) {
	tx, err := s.transactions.GetByID(ctx, id)
	if err != nil {
		return outcomeFailed, err
	}
	if !tx.Due(now) {
		return outcomeSkipped, nil
	}

	if tx.Type == models.TypeBuy {
		state := models.PaymentPaid
		if tx.Status != models.StatusPaid {
			if state, err = s.payments.PaymentState(ctx, tx.Code); err != nil {
				return outcomeFailed, fmt.Errorf("failed to read payment state: %w", err)
			}
		}
		// Money may already be with us; a person has to decide.
		if state == models.PaymentPaid || state == models.PaymentPending {
			s.flagDelayedPickup(ctx, tx, state)
			return outcomeFlagged, nil
		}
	}

	result, err := s.expirer.Expire(ctx, id, SweeperActor)
	if err != nil {
		return outcomeFailed, err
	}
	// Payment landed after the check above; the locked re-read inside Expire refused it.
	if result.PaymentHold != "" {
		s.flagDelayedPickup(ctx, result.Transaction, result.PaymentHold)
		return outcomeFlagged, nil
	}
	if !result.Applied {
		return outcomeSkipped, nil
	}
	return outcomeExpired, nil
}

func (s *Sweeper) flagDelayedPickup(ctx context.Context, tx *models.Transaction, state models.PaymentState) {
	if s.dedupe != nil {
		first, err := s.dedupe.FirstSeen(ctx, alertDelayedPickup, tx.ID)
		if err != nil {
			logger(ctx, "transaction_id", tx.ID).Warn("alert dedupe unavailable, alerting anyway", "error", err)
		} else if !first {
			return
		}
	}

	notify.Deliver(ctx, s.sink, notify.Notification{
		Audience:        notify.AudienceAdmin,
		EventType:       notify.EventDelayedPickup,
		Title:           "Paid reservation not collected",
		Message:         fmt.Sprintf("Transaction %s passed its deadline with payment %s. Review before releasing stock.", tx.Code, state),
		TransactionID:   tx.ID,
		TransactionCode: tx.Code,
		BranchID:        tx.BranchID,
		UserID:          tx.UserID,
		OldStatus:       tx.Status,
		NewStatus:       tx.Status,
		Actor:           SweeperActor,
		Data:            map[string]string{"payment_state": string(state)},
	})
}
