// Package notify delivers qualified leads and run summaries to the program
// owner's Telegram chat through the Bot API. An empty bot token disables
// delivery; every send becomes a no-op so the pipeline can run headless.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/leadscout/internal/config"
	"github.com/edgard/leadscout/internal/database"
)

type sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// Notifier sends formatted lead cards over the Telegram Bot API.
type Notifier struct {
	bot sender
	log *slog.Logger
}

// New creates a Notifier. With an empty token the returned Notifier is
// disabled and silently drops everything handed to it.
func New(cfg config.NotifierConfig, logger *slog.Logger) (*Notifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "notifier")

	if cfg.Token == "" {
		log.Info("Bot token not configured, lead delivery disabled")
		return &Notifier{log: log}, nil
	}

	b, err := bot.New(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("creating delivery bot: %w", err)
	}
	log.Info("Lead delivery bot ready")
	return &Notifier{bot: b, log: log}, nil
}

// Enabled reports whether a bot token was configured.
func (n *Notifier) Enabled() bool { return n.bot != nil }

// SendLeadCard delivers one qualified lead to chatID.
func (n *Notifier) SendLeadCard(ctx context.Context, chatID int64, programName string, lead *database.Lead) error {
	if n.bot == nil {
		n.log.DebugContext(ctx, "Delivery disabled, dropping lead card",
			"lead_id", lead.ID, "username", lead.TelegramUsername)
		return nil
	}

	if err := n.send(ctx, chatID, Card(programName, lead)); err != nil {
		return fmt.Errorf("sending lead card for @%s: %w", lead.TelegramUsername, err)
	}
	n.log.InfoContext(ctx, "Lead card delivered",
		"lead_id", lead.ID, "username", lead.TelegramUsername, "chat_id", chatID)
	return nil
}

// SendRunSummary reports a finished program run to chatID.
func (n *Notifier) SendRunSummary(ctx context.Context, chatID int64, programName string, newLeads int) error {
	if n.bot == nil {
		n.log.DebugContext(ctx, "Delivery disabled, dropping run summary", "program", programName)
		return nil
	}

	text := fmt.Sprintf("✅ Готово! Поиск по программе \"%s\" завершен.\n• Найдено новых лидов: %d.",
		programName, newLeads)
	if err := n.send(ctx, chatID, text); err != nil {
		return fmt.Errorf("sending run summary for %q: %w", programName, err)
	}
	return nil
}

func (n *Notifier) send(ctx context.Context, chatID int64, text string) error {
	// Cards quote raw chat messages; a link preview would expand whatever
	// URL the prospect happened to post.
	disabled := true
	_, err := n.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:             chatID,
		Text:               text,
		LinkPreviewOptions: &models.LinkPreviewOptions{IsDisabled: &disabled},
	})
	return err
}
