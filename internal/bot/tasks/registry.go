package tasks

import (
	"context"
)

// ScheduledTaskFunc is the signature shared by all scheduled tasks. The
// context comes from the scheduler and should be respected for cancellation.
type ScheduledTaskFunc func(ctx context.Context) error

// RegisterAllTasks returns the map of registered scheduled tasks. The keys
// match the task names used in the scheduler section of the configuration.
func RegisterAllTasks(deps TaskDeps) map[string]ScheduledTaskFunc {
	t := map[string]ScheduledTaskFunc{
		"retention_sweep": newRetentionSweepTask(deps),
		"sql_maintenance": newSQLMaintenanceTask(deps),
	}

	deps.Logger.Info("Initialized scheduled tasks", "count", len(t))
	return t
}
