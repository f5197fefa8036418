package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plenum-labs/plenum/pkg/phase"
)

type countingSweeper struct {
	calls atomic.Int64
	err   error
}

func (s *countingSweeper) ProcessAutomaticTransitions(context.Context) (phase.SweepReport, error) {
	s.calls.Add(1)
	return phase.SweepReport{Scanned: 2, Transitioned: 1}, s.err
}

func TestRunSweepReportsResult(t *testing.T) {
	sweeper := &countingSweeper{}
	s := New(sweeper, time.Minute, nil)

	report, err := s.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 1, report.Transitioned)
	assert.EqualValues(t, 1, sweeper.calls.Load())
}

func TestRunSweepRateLimited(t *testing.T) {
	sweeper := &countingSweeper{}
	s := New(sweeper, time.Hour, nil)

	_, err := s.RunSweep(context.Background())
	require.NoError(t, err)

	// Burst of one: an immediate second trigger is refused.
	_, err = s.RunSweep(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
	assert.EqualValues(t, 1, sweeper.calls.Load())
}

func TestRunSweepsOnTick(t *testing.T) {
	sweeper := &countingSweeper{}
	s := New(sweeper, 10*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := s.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	// One immediate sweep plus at least a few ticks.
	assert.GreaterOrEqual(t, sweeper.calls.Load(), int64(3))
}

func TestRunKeepsGoingAfterSweepError(t *testing.T) {
	sweeper := &countingSweeper{err: errors.New("store unavailable")}
	s := New(sweeper, 10*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	err := s.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, sweeper.calls.Load(), int64(2))
}
