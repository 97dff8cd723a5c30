package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/edgard/leadscout/internal/config"
)

type openAIClient struct {
	client      *openai.Client
	log         *slog.Logger
	model       string
	temperature float32
	timeout     time.Duration
	maxRetries  int
	retryDelay  time.Duration
}

// NewOpenAIClient creates a client for an OpenAI-compatible chat completion
// endpoint. BaseURL may point at any aggregator that speaks the same
// protocol; the default configuration targets one.
func NewOpenAIClient(cfg config.LLMConfig, log *slog.Logger) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("reasoning model API key is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	logger := log.With("component", "llm", "provider", "openai")
	logger.Info("Reasoning model client initialized", "model", cfg.Model, "base_url", clientCfg.BaseURL)

	return &openAIClient{
		client:      openai.NewClientWithConfig(clientCfg),
		log:         logger,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		maxRetries:  cfg.MaxRetries,
		retryDelay:  cfg.RetryDelay,
	}, nil
}

func (c *openAIClient) Complete(ctx context.Context, req Request) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.log.WarnContext(ctx, "Retrying chat completion",
				"attempt", attempt, "max_retries", c.maxRetries, "error", lastErr)
			timer := time.NewTimer(c.retryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return "", fmt.Errorf("context error: %w", ctx.Err())
			case <-timer.C:
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		resp, err := c.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
			Model:       c.model,
			Messages:    messages,
			Temperature: c.temperature,
		})
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return "", fmt.Errorf("context error: %w", ctx.Err())
			}
			if !retriableOpenAIError(err) {
				return "", fmt.Errorf("chat completion failed: %w", err)
			}
			lastErr = err
			continue
		}

		if len(resp.Choices) == 0 {
			return "", errors.New("chat completion returned no choices")
		}
		return resp.Choices[0].Message.Content, nil
	}

	return "", fmt.Errorf("chat completion failed after %d retries: %w", c.maxRetries, lastErr)
}

// retriableOpenAIError reports whether the request may succeed on a later
// attempt: rate limits, server-side failures, and per-attempt timeouts.
func retriableOpenAIError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= http.StatusInternalServerError
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= http.StatusInternalServerError
	}

	return false
}
