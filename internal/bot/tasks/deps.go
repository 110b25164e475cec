// Package tasks implements the scheduled background jobs of the bot:
// the retention sweep and periodic database maintenance.
package tasks

import (
	"log/slog"

	"github.com/ndemidova/mira-bot/internal/config"
	"github.com/ndemidova/mira-bot/internal/database"
	"github.com/ndemidova/mira-bot/internal/retention"
)

// TaskDeps contains all dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger  *slog.Logger
	Store   database.Store
	Sweeper *retention.Sweeper
	Config  *config.Config
}
