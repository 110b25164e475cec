// Package openai implements the completion and transcription collaborator on
// top of the OpenAI API. It is the only component that talks to the model
// service; everything above it works with plain role/content messages.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gopenai "github.com/sashabaranov/go-openai"

	"github.com/ndemidova/mira-bot/internal/config"
	"github.com/ndemidova/mira-bot/internal/database"
)

// Client defines the AI operations used by the message handler.
type Client interface {
	// Complete sends the ordered message list to the given model and
	// returns the reply text.
	Complete(ctx context.Context, model string, messages []database.HistoryEntry, maxTokens int, temperature float32) (string, error)

	// Transcribe converts voice audio to text. An empty result means the
	// audio could not be understood.
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

type sdkClient struct {
	api                *gopenai.Client
	log                *slog.Logger
	transcriptionModel string
	maxRetries         int
	retryDelay         time.Duration
}

// NewClient creates an OpenAI-backed Client from configuration.
func NewClient(cfg config.OpenAIConfig, log *slog.Logger) (Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("openai API token is required")
	}

	apiCfg := gopenai.DefaultConfig(cfg.Token)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}

	logger := log.With("component", "openai_client")
	logger.Info("OpenAI client initialized",
		"base_url", apiCfg.BaseURL, "transcription_model", cfg.TranscriptionModel)

	return &sdkClient{
		api:                gopenai.NewClientWithConfig(apiCfg),
		log:                logger,
		transcriptionModel: cfg.TranscriptionModel,
		maxRetries:         cfg.MaxRetries,
		retryDelay:         cfg.RetryDelay,
	}, nil
}

// Complete sends the ordered message list to the completion endpoint,
// retrying transient server errors.
func (c *sdkClient) Complete(ctx context.Context, model string, messages []database.HistoryEntry, maxTokens int, temperature float32) (string, error) {
	if model == "" {
		return "", fmt.Errorf("completion model is required")
	}
	if len(messages) == 0 {
		return "", fmt.Errorf("completion requires at least one message")
	}

	chatMessages := make([]gopenai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		chatMessages = append(chatMessages, gopenai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	req := gopenai.ChatCompletionRequest{
		Model:       model,
		Messages:    chatMessages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}

	var resp gopenai.ChatCompletionResponse
	err := c.withRetries(ctx, "completion", func() error {
		var callErr error
		resp, callErr = c.api.CreateChatCompletion(ctx, req)
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("completion call failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		c.log.WarnContext(ctx, "Completion response has no choices", "model", model)
		return "", fmt.Errorf("completion returned no choices")
	}

	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", fmt.Errorf("completion returned empty text")
	}

	c.log.DebugContext(ctx, "Completion succeeded",
		"model", model, "prompt_messages", len(messages), "reply_len", len(reply))
	return reply, nil
}

// Transcribe converts voice audio to text using the transcription endpoint.
func (c *sdkClient) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("audio data is empty")
	}

	req := gopenai.AudioRequest{
		Model:    c.transcriptionModel,
		Reader:   bytes.NewReader(audio),
		FilePath: "voice.ogg",
	}

	var resp gopenai.AudioResponse
	err := c.withRetries(ctx, "transcription", func() error {
		var callErr error
		resp, callErr = c.api.CreateTranscription(ctx, req)
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("transcription call failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	c.log.DebugContext(ctx, "Transcription finished", "audio_bytes", len(audio), "text_len", len(text))
	return text, nil
}

// withRetries runs call, retrying 500/503 responses with a fixed delay.
// Other failures are returned immediately.
func (c *sdkClient) withRetries(ctx context.Context, op string, call func() error) error {
	var err error
	for i := 0; i <= c.maxRetries; i++ {
		err = call()
		if err == nil {
			return nil
		}

		c.log.WarnContext(ctx, "OpenAI API call failed, checking for retry",
			"operation", op, "attempt", i+1, "max_retries", c.maxRetries, "error", err)

		var apiErr *gopenai.APIError
		if errors.As(err, &apiErr) && (apiErr.HTTPStatusCode == 500 || apiErr.HTTPStatusCode == 503) {
			if i < c.maxRetries {
				c.log.InfoContext(ctx, "Retrying OpenAI API call",
					"operation", op, "delay", c.retryDelay, "status", apiErr.HTTPStatusCode)
				select {
				case <-time.After(c.retryDelay):
					continue
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			c.log.ErrorContext(ctx, "OpenAI API call failed after max retries",
				"operation", op, "status", apiErr.HTTPStatusCode, "error", err)
			return fmt.Errorf("%s failed after %d retries (status %d): %w", op, c.maxRetries, apiErr.HTTPStatusCode, err)
		}

		c.log.ErrorContext(ctx, "OpenAI API call failed with non-retriable error", "operation", op, "error", err)
		return err
	}
	return err
}
