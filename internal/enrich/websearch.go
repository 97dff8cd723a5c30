package enrich

import (
	"context"
	"fmt"
	"strings"

	"github.com/edgard/leadscout/internal/scraper"
)

const searchResultsPerQuery = 5

// Social profiles do not count as a candidate's own website.
var websiteExclusions = []string{"instagram.com", "t.me", "youtube.com", "vk.com"}

// Web searches the public web for traces of the candidate: their own site
// and mentions. Returns nil when search is not configured or nothing was
// found.
func (e *Enricher) Web(ctx context.Context, cand *scraper.Candidate) *WebData {
	if e.searchFn == nil {
		return nil
	}

	queries := make([]string, 0, 3)
	if cand.FirstName != "" {
		queries = append(queries, strings.TrimSpace(fmt.Sprintf("%s %s %s", cand.FirstName, cand.LastName, cand.Bio)))
	}
	queries = append(queries, fmt.Sprintf("telegram @%s", cand.Username))
	if cand.ChannelRef != "" {
		queries = append(queries, fmt.Sprintf("telegram channel %s", cand.ChannelRef))
	}

	data := &WebData{}
	seen := make(map[string]struct{})
	for _, q := range queries {
		items, err := e.searchFn(ctx, q, searchResultsPerQuery)
		if err != nil {
			e.log.WarnContext(ctx, "Web search failed", "query", q, "error", err)
			continue
		}
		for _, item := range items {
			if item.Link == "" {
				continue
			}
			if _, ok := seen[item.Link]; ok {
				continue
			}
			seen[item.Link] = struct{}{}

			if data.Website == "" && !excludedWebsite(item.Link) {
				data.Website = item.Link
			}
			data.Mentions = append(data.Mentions, Mention{
				Source:  item.DisplayLink,
				Title:   item.Title,
				Snippet: item.Snippet,
				Link:    item.Link,
			})
		}
	}

	if data.Website == "" && len(data.Mentions) == 0 {
		return nil
	}
	return data
}

// NicheIdeas searches for current automation offerings in the niche and
// formats them as a prompt block. Returns "" when search is not configured
// or nothing was found.
func (e *Enricher) NicheIdeas(ctx context.Context, niche string) string {
	if e.searchFn == nil || niche == "" {
		return ""
	}

	query := fmt.Sprintf("AI автоматизация интеграция для бизнеса %s 2025", niche)
	items, err := e.searchFn(ctx, query, searchResultsPerQuery)
	if err != nil {
		e.log.WarnContext(ctx, "Niche ideas search failed", "niche", niche, "error", err)
		return ""
	}
	if len(items) == 0 {
		return ""
	}

	lines := []string{"--- Актуальные AI-решения для ниши (из сети) ---"}
	for _, item := range items {
		if item.Title == "" {
			continue
		}
		if item.Snippet != "" {
			lines = append(lines, fmt.Sprintf("- %s: %s", item.Title, item.Snippet))
		} else {
			lines = append(lines, fmt.Sprintf("- %s", item.Title))
		}
	}
	if len(lines) == 1 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n\n"
}

func excludedWebsite(link string) bool {
	for _, host := range websiteExclusions {
		if strings.Contains(link, host) {
			return true
		}
	}
	return false
}
