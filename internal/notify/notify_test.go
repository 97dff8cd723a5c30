package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/leadscout/internal/config"
	"github.com/edgard/leadscout/internal/database"
)

type fakeSender struct {
	params []*bot.SendMessageParams
	err    error
}

func (f *fakeSender) SendMessage(_ context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	f.params = append(f.params, params)
	if f.err != nil {
		return nil, f.err
	}
	return &models.Message{ID: len(f.params)}, nil
}

func newTestNotifier(sender sender) *Notifier {
	return &Notifier{
		bot: sender,
		log: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func fullLead() *database.Lead {
	return &database.Lead{
		ID:                 1,
		TelegramUsername:   "anna_beauty",
		QualificationScore: 8,
		Status:             database.LeadStatusNew,
		BusinessSummary:    "салон красоты (микробизнес)",
		PainsSummary:       "• заявки теряются\n• запись вручную",
		SolutionIdea:       "Бот записи с напоминаниями",
		RecommendedMessage: "Здравствуйте! Видел ваше сообщение про заявки.",
		RawQualification: `{
			"qualification": {"score": 8, "reasoning": "Прямой запрос на бота."},
			"product_idea": {
				"idea": "Бот записи",
				"pain_addressed": "теряющиеся заявки",
				"estimated_value": "2 часа администратора в день"
			}
		}`,
	}
}

func TestCard(t *testing.T) {
	t.Parallel()

	t.Run("full lead", func(t *testing.T) {
		t.Parallel()

		want := "🎯 Новый лид\n" +
			"Программа: Салоны Москвы\n" +
			"━━━━━━━━━━━━━\n" +
			"\n" +
			"👤 @anna_beauty\n" +
			"⭐ Оценка: 8/10\n" +
			"💭 Прямой запрос на бота.\n" +
			"\n" +
			"💼 Бизнес:\n" +
			"салон красоты (микробизнес)\n" +
			"\n" +
			"😤 Боли:\n" +
			"• заявки теряются\n" +
			"• запись вручную\n" +
			"\n" +
			"💡 Что предложить:\n" +
			"Бот записи с напоминаниями\n" +
			"✅ Решает: теряющиеся заявки\n" +
			"💰 Ценность: 2 часа администратора в день\n" +
			"\n" +
			"📝 Сообщение для @anna_beauty:\n" +
			"━━━━━━━━━━━━━\n" +
			"\n" +
			"Здравствуйте! Видел ваше сообщение про заявки.\n"

		if got := Card("Салоны Москвы", fullLead()); got != want {
			t.Errorf("Card() = %q, want %q", got, want)
		}
	})

	t.Run("empty lead falls back to placeholders", func(t *testing.T) {
		t.Parallel()

		got := Card("Тест", &database.Lead{TelegramUsername: "ghost"})
		want := "🎯 Новый лид\n" +
			"Программа: Тест\n" +
			"━━━━━━━━━━━━━\n" +
			"\n" +
			"👤 @ghost\n" +
			"⭐ Оценка: 0/10\n" +
			"\n" +
			"💼 Бизнес:\n" +
			"Нет данных\n" +
			"\n" +
			"😤 Боли:\n" +
			"Нет данных\n" +
			"\n" +
			"💡 Что предложить:\n" +
			"Нет данных\n"

		if got != want {
			t.Errorf("Card() = %q, want %q", got, want)
		}
	})

	t.Run("status labels", func(t *testing.T) {
		t.Parallel()

		lead := fullLead()
		lead.Status = database.LeadStatusContacted
		if got := Card("Тест", lead); !strings.Contains(got, "✅ Написал\n") {
			t.Errorf("Card() for contacted lead missing status label:\n%s", got)
		}

		lead.Status = database.LeadStatusSkipped
		if got := Card("Тест", lead); !strings.Contains(got, "❌ Пропущен\n") {
			t.Errorf("Card() for skipped lead missing status label:\n%s", got)
		}

		lead.Status = database.LeadStatusNew
		if got := Card("Тест", lead); strings.Contains(got, "Написал") || strings.Contains(got, "Пропущен") {
			t.Errorf("Card() for new lead should carry no status label:\n%s", got)
		}
	})

	t.Run("malformed raw verdict drops optional lines", func(t *testing.T) {
		t.Parallel()

		lead := fullLead()
		lead.RawQualification = `{"qualification": truncated`

		got := Card("Тест", lead)
		if strings.Contains(got, "💭") || strings.Contains(got, "✅ Решает") {
			t.Errorf("Card() rendered lines from unparsable verdict:\n%s", got)
		}
		if !strings.Contains(got, "😤 Боли:\n• заявки теряются") {
			t.Errorf("Card() lost stored fields on unparsable verdict:\n%s", got)
		}
	})
}

func TestSendLeadCard(t *testing.T) {
	t.Parallel()

	t.Run("sends with previews disabled", func(t *testing.T) {
		t.Parallel()

		sender := &fakeSender{}
		n := newTestNotifier(sender)

		if err := n.SendLeadCard(context.Background(), 42, "Салоны Москвы", fullLead()); err != nil {
			t.Fatalf("SendLeadCard() error = %v", err)
		}
		if len(sender.params) != 1 {
			t.Fatalf("sent messages = %d, want 1", len(sender.params))
		}

		params := sender.params[0]
		if params.ChatID != int64(42) {
			t.Errorf("ChatID = %v, want 42", params.ChatID)
		}
		if !strings.HasPrefix(params.Text, "🎯 Новый лид") {
			t.Errorf("Text = %q, want a lead card", params.Text)
		}
		if params.LinkPreviewOptions == nil || params.LinkPreviewOptions.IsDisabled == nil || !*params.LinkPreviewOptions.IsDisabled {
			t.Error("link previews not disabled")
		}
	})

	t.Run("wraps transport errors", func(t *testing.T) {
		t.Parallel()

		sendErr := errors.New("bot was blocked by the user")
		n := newTestNotifier(&fakeSender{err: sendErr})

		err := n.SendLeadCard(context.Background(), 42, "Салоны Москвы", fullLead())
		if !errors.Is(err, sendErr) {
			t.Fatalf("SendLeadCard() error = %v, want wrapped send error", err)
		}
		if !strings.Contains(err.Error(), "anna_beauty") {
			t.Errorf("error %q does not name the lead", err)
		}
	})
}

func TestSendRunSummary(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	n := newTestNotifier(sender)

	if err := n.SendRunSummary(context.Background(), 42, "Салоны Москвы", 3); err != nil {
		t.Fatalf("SendRunSummary() error = %v", err)
	}
	want := "✅ Готово! Поиск по программе \"Салоны Москвы\" завершен.\n• Найдено новых лидов: 3."
	if got := sender.params[0].Text; got != want {
		t.Errorf("summary = %q, want %q", got, want)
	}
}

func TestDisabledNotifier(t *testing.T) {
	t.Parallel()

	n, err := New(config.NotifierConfig{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if n.Enabled() {
		t.Error("Enabled() = true without a token")
	}
	if err := n.SendLeadCard(context.Background(), 42, "Тест", fullLead()); err != nil {
		t.Errorf("SendLeadCard() on disabled notifier error = %v", err)
	}
	if err := n.SendRunSummary(context.Background(), 42, "Тест", 0); err != nil {
		t.Errorf("SendRunSummary() on disabled notifier error = %v", err)
	}
}
