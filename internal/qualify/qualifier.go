// Package qualify turns scraped candidates into scored leads through the
// reasoning model. It owns both analysis stages: the cheap batch screening
// pass over a whole chat and the deep per-candidate qualification, plus the
// deterministic penalty rules applied on top of model scores.
package qualify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/edgard/leadscout/internal/config"
	"github.com/edgard/leadscout/internal/enrich"
	"github.com/edgard/leadscout/internal/llm"
	"github.com/edgard/leadscout/internal/scraper"
)

// Qualifier runs model-backed lead analysis.
type Qualifier struct {
	llm llm.Client
	log *slog.Logger

	prompt      string
	batchPrompt string
	cantSolve   []string
	vague       []string
}

// NewQualifier creates a qualifier. Prompt paths override the embedded
// templates; the phrase lists are matched lowercase.
func NewQualifier(client llm.Client, cfg config.QualifierConfig, log *slog.Logger) (*Qualifier, error) {
	q := &Qualifier{
		llm:         client,
		log:         log.With("component", "qualify"),
		prompt:      defaultQualifyPrompt,
		batchPrompt: defaultBatchPrompt,
		cantSolve:   lowerAll(cfg.CantSolvePhrases),
		vague:       lowerAll(cfg.VaguePhrases),
	}

	if cfg.PromptPath != "" {
		data, err := os.ReadFile(cfg.PromptPath)
		if err != nil {
			return nil, fmt.Errorf("reading qualification prompt: %w", err)
		}
		q.prompt = string(data)
	}
	if cfg.BatchPromptPath != "" {
		data, err := os.ReadFile(cfg.BatchPromptPath)
		if err != nil {
			return nil, fmt.Errorf("reading batch screening prompt: %w", err)
		}
		q.batchPrompt = string(data)
	}

	if !strings.Contains(q.prompt, servicesPlaceholder) {
		return nil, fmt.Errorf("qualification prompt is missing the %s placeholder", servicesPlaceholder)
	}
	return q, nil
}

func lowerAll(phrases []string) []string {
	out := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Input carries everything one deep analysis needs besides the candidate
// itself: enrichment, the program niche, the owner's services description,
// and the pre-fetched niche ideas block.
type Input struct {
	Candidate  *scraper.Candidate
	Enrichment *enrich.Data
	Niche      string
	Services   string
	NicheIdeas string
}

// Result is one candidate's verdict. Score is the final score after penalty
// rules; LLMScore preserves what the model originally returned. Raw carries
// the full response payload with the final verdict folded back in.
type Result struct {
	Score          int
	LLMScore       int
	PenaltyApplied bool
	PenaltyReason  string
	Reasoning      string
	BusinessType   string
	BusinessScale  string
	Pains          []string
	ProductIdea    string
	Outreach       string
	Raw            map[string]any
	InputBlock     string
}

// Qualify runs the deep analysis for one candidate and applies the penalty
// rules to the model's verdict.
func (q *Qualifier) Qualify(ctx context.Context, in Input) (*Result, error) {
	cand := in.Candidate

	services := strings.TrimSpace(in.Services)
	if services == "" {
		services = defaultServicesDescription
	}
	template := strings.Replace(q.prompt, servicesPlaceholder, services, 1)

	input := q.buildInput(in)
	raw, err := q.llm.Complete(ctx, llm.Request{
		System: qualifySystemPrompt,
		Prompt: template + "\n\nВот полные данные для анализа:\n" + input,
	})
	if err != nil {
		return nil, fmt.Errorf("qualification request for @%s: %w", cand.Username, err)
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(ExtractJSONPayload(raw)), &payload); err != nil {
		return nil, fmt.Errorf("parsing qualification response for @%s: %w", cand.Username, err)
	}

	res := &Result{Raw: payload, InputBlock: input}

	qual, _ := payload["qualification"].(map[string]any)
	if score, ok := qual["score"].(float64); ok {
		res.LLMScore = int(score)
	}
	res.Reasoning, _ = qual["reasoning"].(string)

	res.Score = res.LLMScore
	if phrase, reason := q.penalty(res.Reasoning); reason != "" {
		res.Score = 0
		res.PenaltyApplied = true
		res.PenaltyReason = reason
		q.log.InfoContext(ctx, "Score zeroed by penalty rule",
			"username", cand.Username,
			"reason", reason,
			"phrase", phrase,
			"llm_score", res.LLMScore)
	}

	// Fold the final verdict back into the raw payload so the persisted
	// record never disagrees with the applied score.
	if qual == nil {
		qual = make(map[string]any)
		payload["qualification"] = qual
	}
	qual["llm_score"] = res.LLMScore
	qual["score"] = res.Score
	qual["penalty_applied"] = res.PenaltyApplied
	qual["penalty_reason"] = res.PenaltyReason

	res.Pains = painTexts(payload["identified_pains"])
	if ident, ok := payload["identification"].(map[string]any); ok {
		res.BusinessType, _ = ident["business_type"].(string)
		res.BusinessScale, _ = ident["business_scale"].(string)
	}
	if idea, ok := payload["product_idea"].(map[string]any); ok {
		res.ProductIdea, _ = idea["idea"].(string)
	}
	if outreach, ok := payload["outreach"].(map[string]any); ok {
		res.Outreach, _ = outreach["message"].(string)
	}

	return res, nil
}

// penalty scans the reasoning for phrases that invalidate the score. The
// cant_solve list wins over the vague list when both match.
func (q *Qualifier) penalty(reasoning string) (string, string) {
	if reasoning == "" {
		return "", ""
	}
	lowered := strings.ToLower(reasoning)
	for _, phrase := range q.cantSolve {
		if strings.Contains(lowered, phrase) {
			return phrase, "cant_solve"
		}
	}
	for _, phrase := range q.vague {
		if strings.Contains(lowered, phrase) {
			return phrase, "vague"
		}
	}
	return "", ""
}

func (q *Qualifier) buildInput(in Input) string {
	cand := in.Candidate

	niche := in.Niche
	if niche == "" {
		niche = cand.SourceChat
	}

	var b strings.Builder
	b.WriteString("--- Профиль пользователя в Telegram ---\n")
	fmt.Fprintf(&b, "Ниша, в которой он найден: %s\n", niche)
	fmt.Fprintf(&b, "Имя: %s %s\n", cand.FirstName, cand.LastName)
	fmt.Fprintf(&b, "Username: @%s\n", cand.Username)
	fmt.Fprintf(&b, "Био: %s\n", orNA(cand.Bio))
	fmt.Fprintf(&b, "Сообщений в чате-источнике: %d\n\n", cand.MessageCount)

	b.WriteString(messagesBlock(cand.Messages))

	if in.Enrichment != nil && in.Enrichment.Channel != nil {
		entity := in.Enrichment.Channel.Entity
		b.WriteString("--- Данные с личного Telegram-канала ---\n")
		fmt.Fprintf(&b, "Название: %s\n", orNA(entity.Title))
		fmt.Fprintf(&b, "Подписчиков: %s\n", orNACount(entity.MemberCount))
		fmt.Fprintf(&b, "Описание: %s\n\n", orNA(entity.About))
	}

	if in.Enrichment != nil && in.Enrichment.Web != nil {
		web := in.Enrichment.Web
		b.WriteString("--- Данные из веб-поиска ---\n")
		if web.Website != "" {
			fmt.Fprintf(&b, "Найденный сайт: %s\n", web.Website)
		}
		if len(web.Mentions) > 0 {
			b.WriteString("Упоминания в сети:\n")
			for _, m := range web.Mentions {
				fmt.Fprintf(&b, "- %s (%s)\n", m.Title, m.Source)
			}
		}
		b.WriteString("\n")
	}

	if in.NicheIdeas != "" {
		b.WriteString(in.NicheIdeas)
	}

	return b.String()
}

// messagesBlock renders the candidate's messages with age markers and
// permalinks so the model can cite and weigh them.
func messagesBlock(messages []scraper.ChatMessage) string {
	var b strings.Builder
	b.WriteString("--- Сообщения пользователя в чате (с датами и ссылками) ---\n")
	for _, m := range messages {
		text := truncateRunes(m.Text, 200)
		if emoji := freshnessEmoji(m.Freshness); emoji != "" {
			fmt.Fprintf(&b, "- %s [%s] \"%s\"", emoji, m.AgeLabel, text)
		} else {
			fmt.Fprintf(&b, "- [%s] \"%s\"", m.AgeLabel, text)
		}
		if m.Link != "" {
			chat := m.ChatUsername
			if chat == "" {
				chat = "private chat"
			}
			fmt.Fprintf(&b, "\n  📍 %s | 🔗 %s", chat, m.Link)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}

func freshnessEmoji(freshness string) string {
	switch freshness {
	case scraper.FreshnessHot:
		return "🔥"
	case scraper.FreshnessCold:
		return "⚠️"
	case scraper.FreshnessStale:
		return "🥶"
	}
	return ""
}

// painTexts accepts both response shapes the model produces: plain strings
// and objects keyed pain/text/description.
func painTexts(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var pains []string
	for _, item := range items {
		switch p := item.(type) {
		case string:
			if s := strings.TrimSpace(p); s != "" {
				pains = append(pains, s)
			}
		case map[string]any:
			for _, key := range []string{"pain", "text", "description"} {
				if s, ok := p[key].(string); ok {
					if s = strings.TrimSpace(s); s != "" {
						pains = append(pains, s)
						break
					}
				}
			}
		}
	}
	return pains
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

func orNACount(n int64) string {
	if n <= 0 {
		return "N/A"
	}
	return strconv.FormatInt(n, 10)
}
