// Package scheduler drives the automatic transition sweep on a fixed
// interval. It owns no governance logic: the phase engine decides what
// moves, the scheduler only decides when to look.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/plenum-labs/plenum/pkg/phase"
)

// Sweeper is the phase engine's sweep entry point.
type Sweeper interface {
	ProcessAutomaticTransitions(ctx context.Context) (phase.SweepReport, error)
}

// Scheduler runs periodic sweeps. A rate limiter caps sweep frequency even
// when triggered manually through RunSweep, so an operator hammering the
// trigger cannot stampede the store.
type Scheduler struct {
	sweeper  Sweeper
	interval time.Duration
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// New creates a scheduler sweeping at the given interval. The limiter
// allows one sweep per half-interval with a burst of one.
func New(sweeper Sweeper, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		sweeper:  sweeper,
		interval: interval,
		limiter:  rate.NewLimiter(rate.Every(interval/2), 1),
		logger:   logger.With("component", "scheduler"),
	}
}

// RunSweep executes one sweep immediately, subject to the rate limit.
func (s *Scheduler) RunSweep(ctx context.Context) (phase.SweepReport, error) {
	if !s.limiter.Allow() {
		return phase.SweepReport{}, fmt.Errorf("sweep rate limit exceeded")
	}
	return s.sweep(ctx)
}

func (s *Scheduler) sweep(ctx context.Context) (phase.SweepReport, error) {
	started := time.Now()
	report, err := s.sweeper.ProcessAutomaticTransitions(ctx)
	if err != nil {
		s.logger.Error("sweep failed", "error", err)
		return report, err
	}
	s.logger.Info("sweep complete",
		"scanned", report.Scanned,
		"transitioned", report.Transitioned,
		"errors", report.Errors,
		"duration", time.Since(started),
	)
	return report, nil
}

// Run sweeps once immediately, then on every interval tick until the
// context is canceled. Sweep errors are logged and the loop keeps going.
func (s *Scheduler) Run(ctx context.Context) error {
	if _, err := s.sweep(ctx); err != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.sweep(ctx); err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
}
