// Package scheduler drives periodic background jobs.
package scheduler

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	service "github.com/honeynil/CurrencyExchangeTochka/internal/services"
	pkgerrors "github.com/honeynil/CurrencyExchangeTochka/pkg/errors"
	"github.com/robfig/cron/v3"
)

type Sweeper interface {
	SweepNow(ctx context.Context) (service.SweepReport, error)
}

// Scheduler runs the expiration sweep on a fixed interval. A tick that finds the previous
// sweep still running is skipped.
type Scheduler struct {
	cron     *cron.Cron
	sweeper  Sweeper
	interval time.Duration
	logger   *slog.Logger
}

func New(sweeper Sweeper, interval time.Duration, logger *slog.Logger) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:     c,
		sweeper:  sweeper,
		interval: interval,
		logger:   logger,
	}
}

// Start registers the sweep job and starts the cron scheduler.
func (s *Scheduler) Start() error {
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, s.Tick); err != nil {
		s.logger.Error("failed to schedule expiration sweep", "schedule", spec, "error", err)
		return err
	}
	s.logger.Info("scheduled expiration sweep", "schedule", spec)
	s.cron.Start()
	return nil
}

// Tick runs one sweep. It is what the cron job calls.
func (s *Scheduler) Tick() {
	report, err := s.sweeper.SweepNow(context.Background())
	switch {
	case stderrors.Is(err, pkgerrors.ErrSweepInProgress):
		s.logger.Info("expiration sweep skipped, previous run still in progress")
	case err != nil:
		s.logger.Error("expiration sweep failed", "error", err)
	default:
		s.logger.Debug("expiration sweep tick done", "candidates", report.Candidates, "expired", report.Expired, "flagged", report.Flagged)
	}
}

// Stop stops scheduling and returns a context that is done once the running sweep, if any, has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
