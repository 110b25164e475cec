// Package bot implements lifecycle management and component orchestration
// for the Mira Telegram bot.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	tgbot "github.com/go-telegram/bot"
	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	"github.com/ndemidova/mira-bot/internal/config"
	"github.com/ndemidova/mira-bot/internal/database"
	"github.com/ndemidova/mira-bot/internal/openai"
)

// Bot holds the application's components and manages their lifecycle.
type Bot struct {
	logger    *slog.Logger
	cfg       *config.Config
	db        *sqlx.DB
	store     database.Store
	aiClient  openai.Client
	tgBot     *tgbot.Bot
	scheduler *Scheduler
}

// NewBot creates the bot orchestrator over its fully constructed components.
func NewBot(
	logger *slog.Logger,
	cfg *config.Config,
	db *sqlx.DB,
	store database.Store,
	aiClient openai.Client,
	tgBot *tgbot.Bot,
	scheduler *Scheduler,
) *Bot {
	return &Bot{
		logger:    logger.With("component", "bot_orchestrator"),
		cfg:       cfg,
		db:        db,
		store:     store,
		aiClient:  aiClient,
		tgBot:     tgBot,
		scheduler: scheduler,
	}
}

// Run starts the Telegram listener and the scheduler, and blocks until the
// context is cancelled or a component fails.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Starting bot orchestrator")

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		b.logger.Info("Starting Telegram bot listener")

		b.tgBot.Start(gCtx)
		b.logger.Info("Telegram bot listener stopped")

		if gCtx.Err() == nil {
			return fmt.Errorf("telegram listener stopped unexpectedly")
		}
		return nil
	})

	g.Go(func() error {
		if err := b.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		<-gCtx.Done()
		b.logger.Info("Shutdown signal received, stopping scheduler")

		if err := b.scheduler.Stop(); err != nil {
			b.logger.Error("Error stopping scheduler", "error", err)
		}

		return nil
	})

	err := g.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Error("Bot orchestrator stopped due to error", "error", err)
		return err
	}

	b.logger.Info("Bot orchestrator stopped gracefully")
	return nil
}
