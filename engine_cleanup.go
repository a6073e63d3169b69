package authcore

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrEthical07/authcore/scheduler"
)

const (
	CleanupTaskRefresh    = "refresh-cleanup"
	CleanupTaskRevocation = "revocation-cleanup"
)

// CleanupTasks returns the periodic purge jobs for expired refresh tokens
// and expired blacklist entries. Register them on a scheduler.Scheduler;
// both are idempotent and safe alongside live traffic.
func (e *Engine) CleanupTasks() []scheduler.Task {
	if e == nil {
		return nil
	}
	return []scheduler.Task{
		{
			Name:     CleanupTaskRefresh,
			Interval: e.config.Cleanup.Interval,
			Timeout:  e.config.Cleanup.Timeout,
			Run: func(ctx context.Context) error {
				return e.runCleanup(ctx, CleanupTaskRefresh, e.refresh.Cleanup)
			},
		},
		{
			Name:     CleanupTaskRevocation,
			Interval: e.config.Cleanup.Interval,
			Timeout:  e.config.Cleanup.Timeout,
			Run: func(ctx context.Context) error {
				return e.runCleanup(ctx, CleanupTaskRevocation, e.revocations.Cleanup)
			},
		},
	}
}

func (e *Engine) runCleanup(ctx context.Context, name string, purge func(context.Context, time.Time) (int, error)) error {
	removed, err := purge(ctx, e.now())
	e.metrics.Add(MetricCleanupRemoved, uint64(removed))
	if err != nil {
		e.metricInc(MetricCleanupFailure)
		return err
	}
	if removed > 0 {
		e.logger.InfoContext(ctx, "cleanup finished", slog.String("task", name), slog.Int("removed", removed))
	}
	return nil
}
