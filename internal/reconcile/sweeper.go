// Package reconcile provides the periodic sweep that resolves payments
// stuck mid-confirmation by querying the gateway for ground truth.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/marketbase/paycore/internal/jobs"
)

// DefaultStuckAfter is the bound after which a CONFIRMING payment is
// considered stuck and eligible for reconciliation.
const DefaultStuckAfter = 15 * time.Minute

// DefaultInterval is the default sweep period.
const DefaultInterval = 5 * time.Minute

// Resolver is implemented by the payment service.
type Resolver interface {
	ReconcileStuck(ctx context.Context, olderThan time.Duration) (int, error)
}

// Sweeper periodically reconciles stuck payments.
type Sweeper struct {
	resolver   Resolver
	stuckAfter time.Duration
	interval   time.Duration
	metrics    *jobs.Metrics
	logger     *slog.Logger
}

// NewSweeper creates a sweeper. metrics may be nil; non-positive durations
// fall back to the defaults.
func NewSweeper(resolver Resolver, stuckAfter, interval time.Duration, metrics *jobs.Metrics, logger *slog.Logger) *Sweeper {
	if stuckAfter <= 0 {
		stuckAfter = DefaultStuckAfter
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		resolver:   resolver,
		stuckAfter: stuckAfter,
		interval:   interval,
		metrics:    metrics,
		logger:     logger,
	}
}

// RunOnce performs a single sweep and returns the number of payments resolved.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	started := time.Now()
	resolved, err := s.resolver.ReconcileStuck(ctx, s.stuckAfter)
	elapsed := time.Since(started).Seconds()

	if s.metrics != nil {
		s.metrics.ObserveJobDuration(jobs.JobTypePaymentReconcile, elapsed)
		if err != nil {
			s.metrics.IncJobsTotal(jobs.JobTypePaymentReconcile, jobs.StatusFailure)
			s.metrics.IncJobErrors(jobs.JobTypePaymentReconcile, "sweep_error")
		} else {
			s.metrics.IncJobsTotal(jobs.JobTypePaymentReconcile, jobs.StatusSuccess)
		}
	}

	if err != nil {
		s.logger.Error("payment reconciliation sweep failed", "error", err)
		return 0, err
	}
	if resolved > 0 {
		s.logger.Info("payment reconciliation sweep resolved stuck payments",
			"resolved", resolved, "stuck_after", s.stuckAfter)
	}
	return resolved, nil
}

// Run sweeps at the configured interval until ctx is cancelled.
// This function blocks and should typically be run in a goroutine.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("periodic reconciliation failed", "error", err)
			}
		case <-ctx.Done():
			s.logger.Info("stopping payment reconciliation sweep")
			return
		}
	}
}
