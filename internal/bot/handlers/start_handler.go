package handlers

import (
	"context"
	"math/rand"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// greetings are shown on /start, one picked at random.
var greetings = []string{
	"Даже если сейчас тяжело — ты можешь всё мне рассказать. Здесь нет осуждения.",
	"Я здесь, чтобы быть рядом. Можешь выложить всё, что носишь в себе.",
	"Если слова не идут — начни с любого. Я буду слушать и слышать.",
	"Тут можно говорить честно. Можно молчать. Я всё равно останусь рядом.",
	"Иногда достаточно, чтобы кто-то был рядом. Я готова быть этим человеком.",
	"Это твоё личное пространство. Место, где можно выговориться или просто молчать, зная, что я рядом.",
	"Можешь сложить сюда усталость, боль и даже пустоту. Здесь их примут бережно.",
	"Ты в безопасности, пока мы здесь. Всё остальное подождёт.",
}

// NewStartHandler returns a handler for the /start command.
func NewStartHandler(deps HandlerDeps) bot.HandlerFunc {
	return startHandler{deps}.Handle
}

// startHandler processes the /start command using injected dependencies.
type startHandler struct {
	deps HandlerDeps
}

func (h startHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "start")

	if update.Message == nil || update.Message.From == nil {
		log.WarnContext(ctx, "Start handler received update with nil message or sender", "update_id", update.ID)
		return
	}

	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID
	now := time.Now().UTC()

	log.InfoContext(ctx, "Handling /start command", "chat_id", chatID, "user_id", userID)

	if _, err := h.deps.Store.GetOrCreateUser(ctx, userID, now); err != nil {
		log.ErrorContext(ctx, "Failed to register user on /start", "error", err, "user_id", userID)
	}

	if err := h.deps.Sweeper.Sweep(ctx, now); err != nil {
		log.ErrorContext(ctx, "Opportunistic retention sweep failed", "error", err)
	}

	keyboard := &models.ReplyKeyboardMarkup{
		Keyboard:       [][]models.KeyboardButton{{{Text: "Начать"}}},
		ResizeKeyboard: true,
	}
	_, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        greetings[rand.Intn(len(greetings))],
		ReplyMarkup: keyboard,
	})
	if err != nil {
		log.ErrorContext(ctx, "Failed to send welcome message", "error", err, "chat_id", chatID)
	}
}
