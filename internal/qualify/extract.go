package qualify

import (
	"encoding/json"
	"strings"
)

// ExtractJSONPayload cuts the JSON object out of a model response, tolerating
// markdown fences and prose around it. Returns the cleaned response as-is
// when no object boundaries are found.
func ExtractJSONPayload(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if strings.HasPrefix(cleaned, "```") {
		if idx := strings.Index(cleaned, "\n"); idx >= 0 {
			cleaned = cleaned[idx+1:]
		}
		cleaned = strings.TrimSpace(cleaned)
		cleaned = strings.TrimSuffix(cleaned, "```")
		cleaned = strings.TrimSpace(cleaned)
	}

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start >= 0 && end > start {
		return cleaned[start : end+1]
	}
	return cleaned
}

// RecoverPartialBatch salvages complete lead objects out of a truncated batch
// screening response. Long responses get cut mid-array by output limits; every
// fully closed object with a username is still usable. Returns nil when
// nothing could be recovered.
func RecoverPartialBatch(raw string, analyzed int) map[string]any {
	idx := strings.Index(raw, `"potential_leads"`)
	if idx < 0 {
		return nil
	}
	arr := strings.Index(raw[idx:], "[")
	if arr < 0 {
		return nil
	}

	var leads []any
	depth := 0
	objStart := -1
	inString := false
	escaped := false

scan:
	for i := idx + arr + 1; i < len(raw); i++ {
		ch := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				objStart = i
			}
			depth++
		case '}':
			depth--
			if depth == 0 && objStart >= 0 {
				var obj map[string]any
				if err := json.Unmarshal([]byte(raw[objStart:i+1]), &obj); err == nil {
					if name, ok := obj["username"].(string); ok && name != "" {
						leads = append(leads, obj)
					}
				}
				objStart = -1
			}
		case ']':
			if depth == 0 {
				break scan
			}
		}
	}

	if len(leads) == 0 {
		return nil
	}

	n := len(leads)
	return map[string]any{
		"total_messages_analyzed": analyzed,
		"potential_leads":         leads,
		"filtering_stats": map[string]any{
			"analyzed":                       analyzed,
			"with_business_signals":          n,
			"with_pain_signals":              n,
			"selected_for_detailed_analysis": n,
		},
		"recovered_from_truncated_json": true,
	}
}
