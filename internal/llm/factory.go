package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/edgard/leadscout/internal/config"
)

// New builds the reasoning-model client selected by the configuration.
func New(ctx context.Context, cfg config.LLMConfig, log *slog.Logger) (Client, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(cfg, log)
	case "gemini":
		return NewGeminiClient(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("unknown reasoning model provider %q", cfg.Provider)
	}
}
