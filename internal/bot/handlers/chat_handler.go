package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/ndemidova/mira-bot/internal/database"
	"github.com/ndemidova/mira-bot/internal/quota"
)

// NewChatHandler creates the default handler that turns every plain text or
// voice message into a model conversation turn. It sequences the ledger, the
// retention sweep, quota admission, transcription, prompt assembly, the
// completion call, and persistence.
func NewChatHandler(deps HandlerDeps) bot.HandlerFunc {
	return chatHandler{deps}.Handle
}

type chatHandler struct {
	deps HandlerDeps
}

func (h chatHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "chat")

	msg := update.Message
	if msg == nil || msg.From == nil {
		log.DebugContext(ctx, "Ignoring update with nil message or sender", "update_id", update.ID)
		return
	}
	if msg.Text == "" && msg.Voice == nil {
		log.DebugContext(ctx, "Ignoring message without text or voice", "chat_id", msg.Chat.ID)
		return
	}

	if err := h.process(ctx, b, msg); err != nil {
		log.ErrorContext(ctx, "Chat processing failed", "error", err,
			"chat_id", msg.Chat.ID, "user_id", msg.From.ID)
		h.reply(ctx, b, msg.Chat.ID, h.deps.Config.Messages.GeneralError)
		NotifyAdmin(ctx, b, h.deps, fmt.Sprintf("chat handler failure for user %d: %v", msg.From.ID, err))
	}
}

// process runs one message through the pipeline. It returns an error only
// for unexpected collaborator failures; admission rejections and input
// problems are answered inline and return nil.
func (h chatHandler) process(ctx context.Context, b *bot.Bot, msg *models.Message) error {
	log := h.deps.Logger.With("handler", "chat")
	chatID := msg.Chat.ID
	userID := msg.From.ID
	now := time.Now().UTC()

	user, err := h.deps.Store.GetOrCreateUser(ctx, userID, now)
	if err != nil {
		return fmt.Errorf("loading user record: %w", err)
	}

	user, err = h.ensureAdminAccess(ctx, user, now)
	if err != nil {
		return fmt.Errorf("granting admin access: %w", err)
	}

	// The sweep is cheap next to the network calls, so it runs on the hot
	// path too; a failure here must not block the conversation.
	if err := h.deps.Sweeper.Sweep(ctx, now); err != nil {
		log.ErrorContext(ctx, "Opportunistic retention sweep failed", "error", err)
	}

	decision, err := h.deps.Quota.Admit(ctx, user, now)
	if err != nil {
		return fmt.Errorf("quota admission: %w", err)
	}

	switch decision.Outcome {
	case quota.OutcomeUpgradeRequired:
		h.reply(ctx, b, chatID, h.deps.Config.Messages.UpgradeRequired)
		return nil
	case quota.OutcomeDailyLimit:
		h.applyDelay(ctx, decision.Delay)
		h.reply(ctx, b, chatID, h.deps.Config.Messages.DailyLimit)
		return nil
	}

	text := msg.Text
	if msg.Voice != nil {
		text, err = h.handleVoice(ctx, b, msg, user, now)
		if err != nil {
			return err
		}
		if text == "" {
			// Limit hit or unintelligible audio, already answered.
			return nil
		}
	}

	if strings.TrimSpace(text) == "" {
		h.reply(ctx, b, chatID, h.deps.Config.Messages.ProvideText)
		return nil
	}

	history, err := h.deps.Store.History(ctx, userID, now)
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}

	comp := h.deps.Classifier.Compose(text, history)

	model := h.deps.Config.OpenAI.PremiumModel
	if decision.Tier == quota.TierStandard && !comp.UpgradeModel {
		model = h.deps.Config.OpenAI.StandardModel
	}
	log.DebugContext(ctx, "Composed prompt", "user_id", userID, "model", model,
		"detailed", comp.Classification.Detailed,
		"relationship", comp.Classification.Relationship,
		"blocks", len(comp.Blocks), "history_len", len(history))

	h.applyDelay(ctx, decision.Delay)

	AppendMessageWithRetry(ctx, h.deps, &database.Message{
		UserID:    userID,
		Role:      database.RoleUser,
		Content:   text,
		Timestamp: now,
	}, "user turn")

	_, _ = b.SendChatAction(ctx, &bot.SendChatActionParams{ChatID: chatID, Action: models.ChatActionTyping})

	aiCtx, cancel := context.WithTimeout(ctx, h.deps.Config.OpenAI.Timeout)
	defer cancel()
	reply, err := h.deps.AIClient.Complete(aiCtx, model, comp.Messages, comp.MaxTokens, comp.Temperature)
	if err != nil {
		return fmt.Errorf("completion call: %w", err)
	}

	AppendMessageWithRetry(ctx, h.deps, &database.Message{
		UserID:    userID,
		Role:      database.RoleAssistant,
		Content:   reply,
		Timestamp: time.Now().UTC(),
	}, "assistant turn")

	h.reply(ctx, b, chatID, reply)
	return nil
}

// handleVoice checks the voice quota, downloads and transcribes the audio.
// It returns empty text when the message was already answered (limit hit or
// nothing recognized) and a non-nil error for collaborator failures.
func (h chatHandler) handleVoice(ctx context.Context, b *bot.Bot, msg *models.Message, user *database.User, now time.Time) (string, error) {
	log := h.deps.Logger.With("handler", "chat")
	chatID := msg.Chat.ID

	allowed, err := h.deps.Quota.CheckVoice(ctx, user, now)
	if err != nil {
		return "", fmt.Errorf("voice quota check: %w", err)
	}
	if !allowed {
		h.reply(ctx, b, chatID, h.deps.Config.Messages.VoiceLimit)
		return "", nil
	}

	duration := time.Duration(msg.Voice.Duration) * time.Second
	if err := h.deps.Quota.RecordVoiceUsage(ctx, user.UserID, duration); err != nil {
		return "", fmt.Errorf("recording voice usage: %w", err)
	}

	audio, err := DownloadVoice(ctx, b, h.deps.Config.Telegram.Token, msg.Voice.FileID)
	if err != nil {
		return "", fmt.Errorf("downloading voice file: %w", err)
	}

	aiCtx, cancel := context.WithTimeout(ctx, h.deps.Config.OpenAI.Timeout)
	defer cancel()
	text, err := h.deps.AIClient.Transcribe(aiCtx, audio)
	if err != nil {
		return "", fmt.Errorf("transcription call: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		log.InfoContext(ctx, "Transcription returned no text", "chat_id", chatID, "user_id", user.UserID)
		h.reply(ctx, b, chatID, h.deps.Config.Messages.EmptyTranscription)
		return "", nil
	}

	log.DebugContext(ctx, "Voice message transcribed",
		"user_id", user.UserID, "duration", duration, "text_len", len(text))
	return text, nil
}

// ensureAdminAccess gives the configured admin identity unlimited quota on
// first contact, so the override is purely a data-layer effect.
func (h chatHandler) ensureAdminAccess(ctx context.Context, user *database.User, now time.Time) (*database.User, error) {
	if user.UserID != h.deps.Config.Telegram.AdminUserID || user.HasActiveSubscription(now) {
		return user, nil
	}

	if err := h.deps.Store.GrantUnlimitedAccess(ctx, user.UserID, now, h.deps.Config.Quota.AdminGrantDays); err != nil {
		return nil, err
	}
	refreshed, err := h.deps.Store.GetUser(ctx, user.UserID)
	if err != nil {
		return nil, err
	}
	if refreshed == nil {
		return user, nil
	}
	return refreshed, nil
}

// applyDelay blocks for the throttling delay chosen by the quota policy,
// honoring context cancellation.
func (h chatHandler) applyDelay(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}

func (h chatHandler) reply(ctx context.Context, b *bot.Bot, chatID int64, text string) {
	sendCtx, cancel := context.WithTimeout(ctx, sendMessageTimeout)
	defer cancel()
	if _, err := b.SendMessage(sendCtx, &bot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
		h.deps.Logger.ErrorContext(ctx, "Failed to send reply", "error", err, "chat_id", chatID)
	}
}
