package session

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Reconciler flips every lapsed session to overdue and reports how many it moved.
type Reconciler interface {
	SweepOverdue(ctx context.Context, now time.Time) (int, error)
}

// Sweeper runs the Reconciler on a fixed interval.
type Sweeper struct {
	reconciler Reconciler
	interval   time.Duration
	now        func() time.Time
	log        *zap.Logger
}

// NewSweeper creates a sweeper.
func NewSweeper(r Reconciler, interval time.Duration, now func() time.Time, log *zap.Logger) *Sweeper {
	return &Sweeper{reconciler: r, interval: interval, now: now, log: log.Named("sweeper")}
}

// Run sweeps once immediately and then on every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	s.log.Info("starting overdue sweeper", zap.Duration("interval", s.interval))
	s.SweepOnce(ctx)

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper shutting down")
			return
		case <-timer.C:
			s.SweepOnce(ctx)
			timer.Reset(s.interval)
		}
	}
}

// SweepOnce performs one reconciliation pass. Failures are logged only.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	moved, err := s.reconciler.SweepOverdue(ctx, s.now())
	if err != nil {
		s.log.Error("overdue sweep failed", zap.Int("moved", moved), zap.Error(err))
		return moved
	}
	if moved > 0 {
		s.log.Info("overdue sweep finished", zap.Int("moved", moved))
	}
	return moved
}
