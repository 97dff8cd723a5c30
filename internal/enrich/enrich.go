// Package enrich gathers optional context about a candidate before deep
// analysis: their personal Telegram channel and public web mentions. Every
// enrichment degrades to nothing on failure; a candidate is never dropped
// because enrichment broke.
package enrich

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"google.golang.org/api/customsearch/v1"

	"github.com/edgard/leadscout/internal/config"
	"github.com/edgard/leadscout/internal/telegram"
)

// Entity describes the resolved channel or user behind a bio reference.
type Entity struct {
	ID          int64  `json:"id"`
	Kind        string `json:"kind"`
	Title       string `json:"title"`
	Username    string `json:"username"`
	About       string `json:"about"`
	MemberCount int64  `json:"member_count"`
}

// ChannelPost is one recent post included in the channel payload.
type ChannelPost struct {
	ID    int64  `json:"id"`
	Date  string `json:"date"`
	Text  string `json:"text"`
	Views int64  `json:"views"`
}

// Contacts are reachability hints pulled out of a channel description.
type Contacts struct {
	TelegramUsername string   `json:"telegram_username,omitempty"`
	Website          string   `json:"website,omitempty"`
	OtherLinks       []string `json:"other_links,omitempty"`
}

// ChannelData is everything collected from a candidate's personal channel.
// The JSON field names are stable because the payload is embedded into
// prompts and persisted lead records.
type ChannelData struct {
	Entity      Entity        `json:"entity_data"`
	RecentPosts []ChannelPost `json:"recent_posts"`
	Contacts    Contacts      `json:"contact_info"`
}

// Mention is one web search result referencing the candidate.
type Mention struct {
	Source  string `json:"source"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Link    string `json:"link"`
}

// WebData is the web search enrichment result.
type WebData struct {
	Website  string    `json:"website,omitempty"`
	Mentions []Mention `json:"mentions"`
}

// Data bundles all enrichment collected for one candidate.
type Data struct {
	Channel *ChannelData `json:"channel_data,omitempty"`
	Web     *WebData     `json:"web_search_data,omitempty"`
}

// Enricher collects channel and web context. Either source may be absent:
// a nil telegram client disables channel enrichment and a nil search
// service disables web enrichment.
type Enricher struct {
	client telegram.Client
	search *customsearch.Service
	cx     string
	cfg    config.ScraperConfig
	log    *slog.Logger

	// Overridable in tests.
	searchFn func(ctx context.Context, query string, num int64) ([]*customsearch.Result, error)
	sleep    func(ctx context.Context, d time.Duration) error
}

// New creates an enricher. Channel enrichment needs the telegram client;
// web enrichment needs the search service and engine id.
func New(client telegram.Client, search *customsearch.Service, searchCX string, cfg config.ScraperConfig, log *slog.Logger) *Enricher {
	e := &Enricher{
		client: client,
		search: search,
		cx:     searchCX,
		cfg:    cfg,
		log:    log.With("component", "enrich"),
		sleep:  sleepContext,
	}
	if search != nil && searchCX != "" {
		e.searchFn = e.doSearch
	}
	return e
}

func (e *Enricher) doSearch(ctx context.Context, query string, num int64) ([]*customsearch.Result, error) {
	resp, err := e.search.Cse.List().Q(query).Cx(e.cx).Num(num).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Enricher) randomPause(ctx context.Context, operation string) error {
	r := config.Delay(e.cfg.SafetyMode, operation)
	d := r.Min
	if r.Max > r.Min {
		d += time.Duration(rand.Int63n(int64(r.Max - r.Min)))
	}
	return e.sleep(ctx, d)
}
