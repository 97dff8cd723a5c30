package qualify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/edgard/leadscout/internal/llm"
	"github.com/edgard/leadscout/internal/scraper"
)

var _ scraper.BatchScreener = (*Qualifier)(nil)

// Screen ranks a whole chat's aggregated activity in one model call. An
// unparsable response is retried once with a stricter instruction; a
// truncated response is salvaged object by object before giving up.
func (q *Qualifier) Screen(ctx context.Context, entries []scraper.ScreenEntry) (*scraper.ScreenResult, error) {
	payload, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding screening entries: %w", err)
	}
	prompt := q.batchPrompt + "\n\nСообщения для анализа:\n" + string(payload)

	raw, err := q.complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("batch screening request: %w", err)
	}
	if result := q.parseBatch(raw, len(entries)); result != nil {
		return result, nil
	}

	q.log.WarnContext(ctx, "Batch screening response was not valid JSON, retrying once")
	raw, err = q.complete(ctx, prompt+"\n\n"+batchRetryInstruction)
	if err != nil {
		return nil, fmt.Errorf("batch screening retry: %w", err)
	}
	if result := q.parseBatch(raw, len(entries)); result != nil {
		return result, nil
	}
	return nil, fmt.Errorf("batch screening produced no parsable verdict for %d entries", len(entries))
}

func (q *Qualifier) complete(ctx context.Context, prompt string) (string, error) {
	return q.llm.Complete(ctx, llm.Request{System: batchSystemPrompt, Prompt: prompt})
}

// parseBatch decodes a screening response, falling back to truncation
// recovery. Returns nil when neither path yields a payload.
func (q *Qualifier) parseBatch(raw string, analyzed int) *scraper.ScreenResult {
	var payload map[string]any
	if err := json.Unmarshal([]byte(ExtractJSONPayload(raw)), &payload); err != nil {
		payload = RecoverPartialBatch(raw, analyzed)
		if payload == nil {
			return nil
		}
	}
	return batchResult(payload)
}

func batchResult(payload map[string]any) *scraper.ScreenResult {
	res := &scraper.ScreenResult{}
	if recovered, ok := payload["recovered_from_truncated_json"].(bool); ok {
		res.Recovered = recovered
	}

	if stats, ok := payload["filtering_stats"].(map[string]any); ok {
		res.Stats.Analyzed = intField(stats, "analyzed")
		res.Stats.WithPainSignals = intField(stats, "with_pain_signals")
		res.Stats.Selected = intField(stats, "selected_for_detailed_analysis")
	}
	if res.Stats.Analyzed == 0 {
		res.Stats.Analyzed = intField(payload, "total_messages_analyzed")
	}

	leads, _ := payload["potential_leads"].([]any)
	for _, item := range leads {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := obj["username"].(string)
		if name == "" {
			continue
		}
		res.Leads = append(res.Leads, scraper.ScreenedLead{Username: name, Verdict: obj})
	}
	return res
}

// intField reads a count that is float64 after JSON decoding but a plain int
// in payloads synthesized by truncation recovery.
func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
