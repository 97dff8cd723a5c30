// Package config provides configuration loading, validation, and management
// for the LeadScout application. It handles reading from YAML files,
// environment variables, default values, and validating configuration
// parameters.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config defines the application configuration parameters for all components
// of the LeadScout system: logging, storage, the Telegram gateway transport,
// scraping limits, the reasoning model, qualification rules, web search, and
// lead delivery.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Qualifier QualifierConfig `mapstructure:"qualifier"`
	Search    SearchConfig    `mapstructure:"search"`
	Notifier  NotifierConfig  `mapstructure:"notifier"`
}

// LoggerConfig controls log level and output format.
type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// DatabaseConfig holds SQLite storage settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// GatewayConfig holds settings for the MTProto gateway sidecar that owns the
// Telegram user session. The gateway speaks plain HTTP/JSON; the token is
// optional for unauthenticated localhost deployments.
type GatewayConfig struct {
	BaseURL           string        `mapstructure:"base_url" validate:"required,url"`
	Token             string        `mapstructure:"token"`
	Session           string        `mapstructure:"session" validate:"required"`
	Timeout           time.Duration `mapstructure:"timeout" validate:"min=1s,max=10m"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"gt=0"`
	LockDir           string        `mapstructure:"lock_dir"`
}

// ScraperConfig bounds chat history scanning. SafetyMode selects the
// randomized delay ranges applied between transport operations.
type ScraperConfig struct {
	SafetyMode          string        `mapstructure:"safety_mode" validate:"required,oneof=fast normal careful"`
	MessageLimit        int           `mapstructure:"message_limit" validate:"gt=0"`
	MaxMessagesPerUser  int           `mapstructure:"max_messages_per_user" validate:"gt=0"`
	MessageMaxAgeDays   int           `mapstructure:"message_max_age_days" validate:"gt=0"`
	FloodWaitExtra      time.Duration `mapstructure:"flood_wait_extra" validate:"min=0"`
	MaxFloodWaitRetries int           `mapstructure:"max_flood_wait_retries" validate:"min=0"`
	BatchScreening      bool          `mapstructure:"batch_screening"`
	OnlyWithChannels    bool          `mapstructure:"only_with_channels"`
	PostsToFetch        int           `mapstructure:"posts_to_fetch" validate:"gt=0"`
	MaxSessionDuration  time.Duration `mapstructure:"max_session_duration" validate:"gt=0"`
	MaxChatsPerRun      int           `mapstructure:"max_chats_per_run" validate:"gt=0"`
}

// LLMConfig selects and tunes the reasoning-model backend. BaseURL applies to
// the openai provider only and may point at any OpenAI-compatible endpoint.
type LLMConfig struct {
	Provider    string        `mapstructure:"provider" validate:"required,oneof=openai gemini"`
	APIKey      string        `mapstructure:"api_key" validate:"required"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model" validate:"required"`
	Temperature float32       `mapstructure:"temperature" validate:"min=0,max=2"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"min=1s,max=10m"`
	MaxRetries  int           `mapstructure:"max_retries" validate:"min=0"`
	RetryDelay  time.Duration `mapstructure:"retry_delay" validate:"min=0"`
}

// QualifierConfig holds prompt template locations and the score-override
// phrase lists. Empty prompt paths fall back to the embedded templates.
// Matching against the phrase lists is literal lowercase substring search.
type QualifierConfig struct {
	PromptPath       string   `mapstructure:"prompt_path"`
	BatchPromptPath  string   `mapstructure:"batch_prompt_path"`
	CantSolvePhrases []string `mapstructure:"cant_solve_phrases"`
	VaguePhrases     []string `mapstructure:"vague_phrases"`
}

// SearchConfig holds Google Programmable Search credentials. Web enrichment
// is disabled when the key is empty.
type SearchConfig struct {
	APIKey string `mapstructure:"api_key"`
	CX     string `mapstructure:"cx"`
}

// NotifierConfig holds the Bot API token used to deliver lead cards to
// program owners. Delivery is disabled when the token is empty.
type NotifierConfig struct {
	Token string `mapstructure:"token"`
}

// Validate checks the configuration against the struct validation tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
