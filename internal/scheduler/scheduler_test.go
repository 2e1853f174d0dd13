package scheduler_test

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/honeynil/CurrencyExchangeTochka/internal/scheduler"
	service "github.com/honeynil/CurrencyExchangeTochka/internal/services"
	pkgerrors "github.com/honeynil/CurrencyExchangeTochka/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (s *countingSweeper) SweepNow(ctx context.Context) (service.SweepReport, error) {
	s.calls.Add(1)
	return service.SweepReport{}, s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScheduler_RunsOnInterval(t *testing.T) {
	sweeper := &countingSweeper{}
	s := scheduler.New(sweeper, time.Second, discardLogger())
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Eventually(t, func() bool { return sweeper.calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
}

func TestScheduler_TickToleratesOverlap(t *testing.T) {
	sweeper := &countingSweeper{err: pkgerrors.ErrSweepInProgress}
	s := scheduler.New(sweeper, time.Minute, discardLogger())

	assert.NotPanics(t, s.Tick)
	assert.Equal(t, int32(1), sweeper.calls.Load())
}

func TestScheduler_StopWaitsForRunningJob(t *testing.T) {
	s := scheduler.New(&countingSweeper{}, time.Minute, discardLogger())
	require.NoError(t, s.Start())

	select {
	case <-s.Stop().Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
