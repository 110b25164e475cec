package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-telegram/bot"

	"github.com/ndemidova/mira-bot/internal/database"
)

const (
	voiceDownloadTimeout = 30 * time.Second
	sendMessageTimeout   = 10 * time.Second
	dbSaveTimeout        = 5 * time.Second

	maxVoiceFileBytes = 20 * 1024 * 1024
)

// DownloadVoice retrieves the raw audio bytes for a voice note from
// Telegram's file API.
func DownloadVoice(ctx context.Context, b *bot.Bot, token, fileID string) (data []byte, err error) {
	if token == "" {
		return nil, fmt.Errorf("empty token provided")
	}
	if fileID == "" {
		return nil, fmt.Errorf("empty fileID provided")
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("context cancelled before file download: %w", ctx.Err())
	}
	downloadCtx, cancel := context.WithTimeout(ctx, voiceDownloadTimeout)
	defer cancel()
	fileObj, err := b.GetFile(downloadCtx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	if fileObj.FilePath == "" {
		return nil, fmt.Errorf("empty file path returned from Telegram")
	}
	url := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", token, fileObj.FilePath)
	req, err := http.NewRequestWithContext(downloadCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("nil response received from HTTP request")
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close response body: %w", closeErr)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}
	data, err = io.ReadAll(io.LimitReader(resp.Body, maxVoiceFileBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read file data: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("received empty file data")
	}
	return data, nil
}

// AppendMessageWithRetry attempts to persist a conversation turn with retries.
// Persistence is best effort, so a final failure is logged but not returned.
func AppendMessageWithRetry(ctx context.Context, deps HandlerDeps, msg *database.Message, msgType string) {
	log := deps.Logger.With("handler", "chat")
	const maxRetries = 3
	var err error

	for i := range [maxRetries]struct{}{} {
		if ctx.Err() != nil {
			log.WarnContext(ctx, fmt.Sprintf("Context cancelled, aborting %s save attempts", msgType),
				"error", ctx.Err(), "user_id", msg.UserID, "attempt", i+1)
			return
		}

		dbCtx, cancel := context.WithTimeout(ctx, dbSaveTimeout)
		err = deps.Store.AppendMessage(dbCtx, msg)
		cancel()

		if err == nil {
			log.DebugContext(ctx, fmt.Sprintf("%s saved", msgType), "db_message_id", msg.ID, "user_id", msg.UserID)
			return
		}

		log.ErrorContext(ctx, fmt.Sprintf("Failed to save %s, retrying", msgType), "error", err, "user_id", msg.UserID, "attempt", i+1)
		time.Sleep(time.Duration(500*(i+1)) * time.Millisecond)
	}

	log.ErrorContext(ctx, fmt.Sprintf("Failed to save %s after %d retries", msgType, maxRetries), "error", err, "user_id", msg.UserID)
}

// NotifyAdmin forwards a failure description to the configured admin chat so
// outages surface without watching the logs.
func NotifyAdmin(ctx context.Context, b *bot.Bot, deps HandlerDeps, detail string) {
	adminID := deps.Config.Telegram.AdminUserID
	if adminID == 0 {
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, sendMessageTimeout)
	defer cancel()
	text := fmt.Sprintf("⚠️ %s", detail)
	if _, err := b.SendMessage(sendCtx, &bot.SendMessageParams{ChatID: adminID, Text: text}); err != nil {
		deps.Logger.ErrorContext(ctx, "Failed to notify admin", "error", err, "admin_id", adminID)
	}
}
