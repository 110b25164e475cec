package tasks

import (
	"context"
	"fmt"
	"time"
)

// newRetentionSweepTask creates the scheduled task that purges expired user
// records and their conversation history.
func newRetentionSweepTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "retention_sweep")

	return func(ctx context.Context) error {
		log.InfoContext(ctx, "Starting retention sweep")
		startTime := time.Now()

		err := deps.Sweeper.Sweep(ctx, time.Now().UTC())

		duration := time.Since(startTime)

		if err != nil {
			log.ErrorContext(ctx, "Retention sweep failed", "error", err, "duration", duration)
			return fmt.Errorf("retention sweep failed: %w", err)
		}

		log.InfoContext(ctx, "Retention sweep completed", "duration", duration)
		return nil
	}
}
