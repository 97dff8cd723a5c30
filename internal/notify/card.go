package notify

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/edgard/leadscout/internal/database"
)

const noData = "Нет данных"

var statusLabels = map[string]string{
	database.LeadStatusNew:       "",
	database.LeadStatusContacted: "✅ Написал",
	database.LeadStatusSkipped:   "❌ Пропущен",
}

// Card renders a lead as a plain-text Telegram message. Detail fields the
// qualifier did not fill render as "Нет данных"; the extra product-idea
// lines come from the stored raw verdict and are omitted when absent.
func Card(programName string, lead *database.Lead) string {
	raw := map[string]any{}
	if lead.RawQualification != "" {
		// A verdict that never parsed still produced a lead row; the card
		// just loses its optional lines.
		_ = json.Unmarshal([]byte(lead.RawQualification), &raw)
	}
	qualification := subMap(raw, "qualification")
	productIdea := subMap(raw, "product_idea")

	var b strings.Builder
	fmt.Fprintf(&b, "🎯 Новый лид\nПрограмма: %s\n━━━━━━━━━━━━━\n\n", programName)
	fmt.Fprintf(&b, "👤 @%s\n⭐ Оценка: %d/10\n", lead.TelegramUsername, lead.QualificationScore)
	if label := statusLabels[lead.Status]; label != "" {
		b.WriteString(label + "\n")
	}
	if reasoning := stringField(qualification, "reasoning"); reasoning != "" {
		fmt.Fprintf(&b, "💭 %s\n", reasoning)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "💼 Бизнес:\n%s\n\n", orNoData(lead.BusinessSummary))
	fmt.Fprintf(&b, "😤 Боли:\n%s\n\n", orNoData(lead.PainsSummary))
	fmt.Fprintf(&b, "💡 Что предложить:\n%s\n", orNoData(lead.SolutionIdea))
	if v := stringField(productIdea, "pain_addressed"); v != "" {
		fmt.Fprintf(&b, "✅ Решает: %s\n", v)
	}
	if v := stringField(productIdea, "estimated_value"); v != "" {
		fmt.Fprintf(&b, "💰 Ценность: %s\n", v)
	}

	if lead.RecommendedMessage != "" {
		fmt.Fprintf(&b, "\n📝 Сообщение для @%s:\n━━━━━━━━━━━━━\n\n%s\n",
			lead.TelegramUsername, lead.RecommendedMessage)
	}
	return b.String()
}

func orNoData(s string) string {
	if s == "" {
		return noData
	}
	return s
}

func subMap(m map[string]any, key string) map[string]any {
	sub, _ := m[key].(map[string]any)
	return sub
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}
