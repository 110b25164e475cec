// Package config loads, defaults, and validates the application
// configuration from config.yaml and BOT_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-telegram/bot/models"
	"github.com/spf13/viper"
)

// Config defines the application configuration for all components.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Quota     QuotaConfig     `mapstructure:"quota"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Messages  MessagesConfig  `mapstructure:"messages"`
}

// LoggerConfig controls log level and output format.
type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// TelegramConfig holds the chat transport settings. BotInfo is filled at
// runtime after GetMe, not from the file.
type TelegramConfig struct {
	Token       string `mapstructure:"token"         validate:"required"`
	AdminUserID int64  `mapstructure:"admin_user_id" validate:"required,gt=0"`

	BotInfo *models.User `mapstructure:"-"`
}

// OpenAIConfig holds the AI collaborator settings. PremiumModel serves
// normal traffic; StandardModel serves the degraded daily-volume tier.
type OpenAIConfig struct {
	Token              string        `mapstructure:"token"               validate:"required"`
	BaseURL            string        `mapstructure:"base_url"            validate:"omitempty,url"`
	PremiumModel       string        `mapstructure:"premium_model"       validate:"required"`
	StandardModel      string        `mapstructure:"standard_model"      validate:"required"`
	TranscriptionModel string        `mapstructure:"transcription_model" validate:"required"`
	Timeout            time.Duration `mapstructure:"timeout"             validate:"required,min=1s,max=10m"`
	MaxRetries         int           `mapstructure:"max_retries"         validate:"min=0,max=10"`
	RetryDelay         time.Duration `mapstructure:"retry_delay"         validate:"min=0"`
}

// DatabaseConfig holds the SQLite storage settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// QuotaConfig holds the admission thresholds.
type QuotaConfig struct {
	DailyCap          int     `mapstructure:"daily_cap"           validate:"required,gt=0"`
	TierThreshold     int     `mapstructure:"tier_threshold"      validate:"required,gt=0,ltfield=DailyCap"`
	VoiceLimitMinutes float64 `mapstructure:"voice_limit_minutes" validate:"required,gt=0"`
	AdminGrantDays    int     `mapstructure:"admin_grant_days"    validate:"required,gt=0"`
}

// TaskConfig enables one scheduled task with a cron expression.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// SchedulerConfig maps task names to schedules.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks"`
}

// MessagesConfig holds the user-facing reply texts.
type MessagesConfig struct {
	UpgradeRequired    string `mapstructure:"upgrade_required"    validate:"required"`
	DailyLimit         string `mapstructure:"daily_limit"         validate:"required"`
	VoiceLimit         string `mapstructure:"voice_limit"         validate:"required"`
	ProvideText        string `mapstructure:"provide_text"        validate:"required"`
	EmptyTranscription string `mapstructure:"empty_transcription" validate:"required"`
	GeneralError       string `mapstructure:"general_error"       validate:"required"`
	NotAuthorized      string `mapstructure:"not_authorized"      validate:"required"`
	GrantUsage         string `mapstructure:"grant_usage"         validate:"required"`
	GrantDone          string `mapstructure:"grant_done"          validate:"required"`
	Help               string `mapstructure:"help"                validate:"required"`
}

// LoadConfig reads configuration from the given YAML file (optional) and
// BOT_* environment variables, applies defaults, and validates the result.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		// Missing config file is fine, defaults plus env vars apply.
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.json", true)

	v.SetDefault("database.path", "storage.db")

	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.premium_model", "gpt-4o-mini")
	v.SetDefault("openai.standard_model", "gpt-3.5-turbo")
	v.SetDefault("openai.transcription_model", "whisper-1")
	v.SetDefault("openai.timeout", 2*time.Minute)
	v.SetDefault("openai.max_retries", 2)
	v.SetDefault("openai.retry_delay", 5*time.Second)

	v.SetDefault("quota.daily_cap", 100)
	v.SetDefault("quota.tier_threshold", 50)
	v.SetDefault("quota.voice_limit_minutes", 20)
	v.SetDefault("quota.admin_grant_days", 365)

	v.SetDefault("scheduler.tasks", map[string]any{
		"retention_sweep": map[string]any{"enabled": true, "schedule": "0 * * * *"},
		"sql_maintenance": map[string]any{"enabled": true, "schedule": "0 4 * * *"},
	})

	v.SetDefault("messages.upgrade_required", "🔒 Лимит бесплатных сообщений исчерпан. Оформи подписку, чтобы продолжить.")
	v.SetDefault("messages.daily_limit", "⏳ Лимит сообщений на сегодня исчерпан. Пожалуйста, подожди немного.")
	v.SetDefault("messages.voice_limit", "🎙 Лимит голосовых сообщений на сегодня исчерпан. Пиши текстом.")
	v.SetDefault("messages.provide_text", "Отправь мне текст или голосовое сообщение.")
	v.SetDefault("messages.empty_transcription", "Кажется, я не расслышала тебя. Попробуй ещё раз сказать или напиши словами.")
	v.SetDefault("messages.general_error", "⚠ Что-то пошло не так. Попробуй, пожалуйста, ещё раз чуть позже.")
	v.SetDefault("messages.not_authorized", "Эта команда доступна только администратору.")
	v.SetDefault("messages.grant_usage", "Использование: /grant <user_id> [дней]")
	v.SetDefault("messages.grant_done", "Доступ выдан: пользователь %d, %d дней.")
	v.SetDefault("messages.help", "Я рядом. Напиши мне текстом или голосом — и я отвечу. /start — начать заново.")
}
