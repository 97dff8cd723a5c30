package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig loads and validates configuration from:
// 1. Default values
// 2. The YAML file at path (missing file is tolerated)
// 3. LEADSCOUT_* environment variables
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("LEADSCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Allow missing config file; defaults and env cover everything required
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setDefaults registers default values for every configuration key. Secrets
// default to empty strings so that environment overrides bind through
// AutomaticEnv.
func setDefaults(v *viper.Viper) {
	// Logger defaults
	v.SetDefault("logger.level", DefaultLogLevel)
	v.SetDefault("logger.json", false)

	// Database defaults
	v.SetDefault("database.path", DefaultDBPath)

	// Gateway defaults
	v.SetDefault("gateway.base_url", DefaultGatewayBaseURL)
	v.SetDefault("gateway.token", "")
	v.SetDefault("gateway.session", DefaultGatewaySession)
	v.SetDefault("gateway.timeout", DefaultGatewayTimeout)
	v.SetDefault("gateway.requests_per_second", DefaultGatewayRPS)
	v.SetDefault("gateway.lock_dir", os.TempDir())

	// Scraper defaults
	v.SetDefault("scraper.safety_mode", DefaultSafetyMode)
	v.SetDefault("scraper.message_limit", DefaultMessageLimit)
	v.SetDefault("scraper.max_messages_per_user", DefaultMaxMessagesPerUser)
	v.SetDefault("scraper.message_max_age_days", DefaultMessageMaxAgeDays)
	v.SetDefault("scraper.flood_wait_extra", DefaultFloodWaitExtra)
	v.SetDefault("scraper.max_flood_wait_retries", DefaultMaxFloodWaitRetries)
	v.SetDefault("scraper.batch_screening", true)
	v.SetDefault("scraper.only_with_channels", false)
	v.SetDefault("scraper.posts_to_fetch", DefaultPostsToFetch)
	v.SetDefault("scraper.max_session_duration", DefaultMaxSessionDuration)
	v.SetDefault("scraper.max_chats_per_run", DefaultMaxChatsPerRun)

	// Reasoning model defaults
	v.SetDefault("llm.provider", DefaultLLMProvider)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", DefaultLLMBaseURL)
	v.SetDefault("llm.model", DefaultLLMModel)
	v.SetDefault("llm.temperature", DefaultLLMTemperature)
	v.SetDefault("llm.timeout", DefaultLLMTimeout)
	v.SetDefault("llm.max_retries", DefaultLLMMaxRetries)
	v.SetDefault("llm.retry_delay", DefaultLLMRetryDelay)

	// Qualifier defaults
	v.SetDefault("qualifier.prompt_path", "")
	v.SetDefault("qualifier.batch_prompt_path", "")
	v.SetDefault("qualifier.cant_solve_phrases", DefaultCantSolvePhrases)
	v.SetDefault("qualifier.vague_phrases", DefaultVaguePhrases)

	// Web search defaults
	v.SetDefault("search.api_key", "")
	v.SetDefault("search.cx", "")

	// Notifier defaults
	v.SetDefault("notifier.token", "")
}
