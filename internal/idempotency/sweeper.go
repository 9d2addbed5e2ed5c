package idempotency

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically garbage-collects expired idempotency keys. Expired
// rows are never valid replays, so sweeping them only reclaims space.
type Sweeper struct {
	guard    Guard
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a Sweeper that runs every interval.
func NewSweeper(guard Guard, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{guard: guard, interval: interval, logger: logger}
}

// Run sweeps until ctx is cancelled. Sweep failures are logged and retried
// on the next tick rather than stopping the loop.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			deleted, err := s.guard.Sweep(ctx, now)
			if err != nil {
				s.logger.Error("sweep expired idempotency keys", "error", err)
				continue
			}
			if deleted > 0 {
				s.logger.Info("swept expired idempotency keys", "deleted", deleted)
			}
		}
	}
}
