// Package main contains the entrypoint for the Mira Telegram bot.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbot "github.com/go-telegram/bot"

	"github.com/ndemidova/mira-bot/internal/bot"
	"github.com/ndemidova/mira-bot/internal/bot/handlers"
	"github.com/ndemidova/mira-bot/internal/bot/tasks"
	"github.com/ndemidova/mira-bot/internal/config"
	"github.com/ndemidova/mira-bot/internal/database"
	"github.com/ndemidova/mira-bot/internal/logger"
	"github.com/ndemidova/mira-bot/internal/openai"
	"github.com/ndemidova/mira-bot/internal/prompt"
	"github.com/ndemidova/mira-bot/internal/quota"
	"github.com/ndemidova/mira-bot/internal/retention"
	"github.com/ndemidova/mira-bot/internal/telegram"

	_ "modernc.org/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes all application components, starts the bot, handles
// graceful shutdown, and returns the process exit code.
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Logger.Level, cfg.Logger.JSON)
	slog.SetDefault(log)
	log.Info("Logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	aiClient, err := openai.NewClient(cfg.OpenAI, log)
	if err != nil {
		log.Error("Failed to initialize OpenAI client", "error", err)
		return 1
	}

	policy := quota.New(store, log, quota.Config{
		DailyCap:          cfg.Quota.DailyCap,
		TierThreshold:     cfg.Quota.TierThreshold,
		VoiceLimitMinutes: cfg.Quota.VoiceLimitMinutes,
	})
	sweeper := retention.NewSweeper(store, log)
	if err := sweeper.Sweep(ctx, time.Now().UTC()); err != nil {
		log.Error("Startup retention sweep failed", "error", err)
	}

	hDeps := handlers.HandlerDeps{
		Logger:     log,
		Config:     cfg,
		Store:      store,
		AIClient:   aiClient,
		Quota:      policy,
		Sweeper:    sweeper,
		Classifier: prompt.DefaultClassifier(),
	}
	tDeps := tasks.TaskDeps{
		Logger:  log,
		Store:   store,
		Sweeper: sweeper,
		Config:  cfg,
	}

	botOpts := []tgbot.Option{
		tgbot.WithMiddlewares(logger.Middleware(log)),
		tgbot.WithDefaultHandler(handlers.NewChatHandler(hDeps)),
	}
	tg, err := telegram.NewTelegramBot(cfg.Telegram.Token, log, botOpts...)
	if err != nil {
		log.Error("Failed to create Telegram bot", "error", err)
		return 1
	}

	cfg.Telegram.BotInfo, err = tg.GetMe(ctx)
	if err != nil {
		log.Error("Failed to get bot info", "error", err)
		return 1
	}
	log.Info("Retrieved bot info", "bot_id", cfg.Telegram.BotInfo.ID, "bot_username", cfg.Telegram.BotInfo.Username)

	cmdHandlers := handlers.RegisterAllCommands(hDeps)
	if err := telegram.RegisterHandlers(tg, log, cmdHandlers); err != nil {
		log.Error("Failed to register Telegram handlers", "error", err)
		return 1
	}

	sched, err := bot.NewScheduler(log, &cfg.Scheduler, tasks.RegisterAllTasks(tDeps))
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}
	app := bot.NewBot(log, cfg, db, store, aiClient, tg, sched)

	log.Info("Starting bot...")
	runErr := app.Run(ctx)
	log.Info("Bot run loop finished. Initiating shutdown...")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Bot stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Bot stopped gracefully.")
	time.Sleep(time.Second)
	return 0
}
