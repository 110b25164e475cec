package handlers

import (
	"log/slog"

	"github.com/ndemidova/mira-bot/internal/config"
	"github.com/ndemidova/mira-bot/internal/database"
	"github.com/ndemidova/mira-bot/internal/openai"
	"github.com/ndemidova/mira-bot/internal/prompt"
	"github.com/ndemidova/mira-bot/internal/quota"
	"github.com/ndemidova/mira-bot/internal/retention"
)

// HandlerDeps provides dependencies for Telegram command handlers.
type HandlerDeps struct {
	Logger     *slog.Logger
	Config     *config.Config
	Store      database.Store
	AIClient   openai.Client
	Quota      *quota.Policy
	Sweeper    *retention.Sweeper
	Classifier prompt.Classifier
}
