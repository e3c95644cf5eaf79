// Package worker hosts the engine's background loops.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/visit-engine/internal/observability"
)

// SweepFunc transitions overdue records and reports how many it moved.
type SweepFunc func(ctx context.Context) (int, error)

// Sweeper periodically persists read-time expiry and escalates overdue
// handoffs. Correctness never depends on it: reads already apply expiry.
type Sweeper struct {
	interval time.Duration
	sweeps   map[string]SweepFunc
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewSweeper builds a sweeper running each named sweep every interval.
func NewSweeper(interval time.Duration, sweeps map[string]SweepFunc, metrics *observability.Metrics, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{interval: interval, sweeps: sweeps, metrics: metrics, logger: logger}
}

// Run sweeps immediately and then on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce executes every sweep a single time.
func (s *Sweeper) RunOnce(ctx context.Context) {
	for name, sweep := range s.sweeps {
		moved, err := sweep(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("sweep failed", zap.String("sweep", name), zap.Error(err))
			continue
		}
		s.metrics.RecordSweep(name, moved)
		if moved > 0 {
			s.logger.Info("sweep transitioned records", zap.String("sweep", name), zap.Int("count", moved))
		}
	}
}
