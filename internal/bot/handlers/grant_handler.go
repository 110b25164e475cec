package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewGrantHandler returns a handler for the admin-only /grant command:
// /grant <user_id> [days] gives a user unlimited access for the given number
// of days (defaulting to the configured grant duration).
func NewGrantHandler(deps HandlerDeps) bot.HandlerFunc {
	return grantHandler{deps}.Handle
}

type grantHandler struct {
	deps HandlerDeps
}

func (h grantHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "grant")

	if update.Message == nil || update.Message.From == nil {
		log.WarnContext(ctx, "Grant handler received update with nil message or sender", "update_id", update.ID)
		return
	}
	chatID := update.Message.Chat.ID

	targetID, days, err := h.parseArgs(update.Message.Text)
	if err != nil {
		log.DebugContext(ctx, "Invalid /grant arguments", "text", update.Message.Text, "error", err)
		h.reply(ctx, b, chatID, h.deps.Config.Messages.GrantUsage)
		return
	}

	now := time.Now().UTC()
	if _, err := h.deps.Store.GetOrCreateUser(ctx, targetID, now); err != nil {
		log.ErrorContext(ctx, "Failed to ensure user record before grant", "error", err, "target_id", targetID)
		h.reply(ctx, b, chatID, h.deps.Config.Messages.GeneralError)
		return
	}
	if err := h.deps.Store.GrantUnlimitedAccess(ctx, targetID, now, days); err != nil {
		log.ErrorContext(ctx, "Failed to grant unlimited access", "error", err, "target_id", targetID)
		h.reply(ctx, b, chatID, h.deps.Config.Messages.GeneralError)
		return
	}

	log.InfoContext(ctx, "Granted unlimited access via command", "target_id", targetID, "days", days)
	h.reply(ctx, b, chatID, fmt.Sprintf(h.deps.Config.Messages.GrantDone, targetID, days))
}

func (h grantHandler) parseArgs(text string) (int64, int, error) {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return 0, 0, fmt.Errorf("missing user_id argument")
	}

	targetID, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil || targetID <= 0 {
		return 0, 0, fmt.Errorf("invalid user_id %q", fields[1])
	}

	days := h.deps.Config.Quota.AdminGrantDays
	if len(fields) >= 3 {
		days, err = strconv.Atoi(fields[2])
		if err != nil || days <= 0 {
			return 0, 0, fmt.Errorf("invalid days %q", fields[2])
		}
	}
	return targetID, days, nil
}

func (h grantHandler) reply(ctx context.Context, b *bot.Bot, chatID int64, text string) {
	if _, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
		h.deps.Logger.ErrorContext(ctx, "Failed to send grant reply", "error", err, "chat_id", chatID)
	}
}
