// Package pipeline orchestrates a full scouting run: scanning a program's
// source chats, enriching and qualifying the candidates found there, and
// persisting accepted leads together with their extracted pains.
package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/edgard/leadscout/internal/config"
	"github.com/edgard/leadscout/internal/database"
	"github.com/edgard/leadscout/internal/enrich"
	"github.com/edgard/leadscout/internal/qualify"
	"github.com/edgard/leadscout/internal/scraper"
	"github.com/edgard/leadscout/internal/telegram"
)

// ErrNoSources reports a program without any source chats to scan.
var ErrNoSources = errors.New("program has no source chats")

// Scraper scans one chat into candidates plus the raw message corpus.
type Scraper interface {
	Scrape(ctx context.Context, chatRef string) ([]scraper.Candidate, []scraper.ChatMessage, error)
}

// Qualifier runs the deep per-candidate analysis.
type Qualifier interface {
	Qualify(ctx context.Context, in qualify.Input) (*qualify.Result, error)
}

// Enricher gathers optional channel and web context for candidates.
type Enricher interface {
	Channel(ctx context.Context, ref string) *enrich.ChannelData
	Web(ctx context.Context, cand *scraper.Candidate) *enrich.WebData
	NicheIdeas(ctx context.Context, niche string) string
}

// LeadHandler is invoked after a lead row is committed. Handler failures are
// logged and never roll the lead back.
type LeadHandler func(ctx context.Context, lead *database.Lead) error

// RunStats summarizes one program run.
type RunStats struct {
	ProgramName     string
	SourcesScanned  int
	SourcesPaused   int
	CandidatesFound int
	LeadsQualified  int
	PainsSaved      int
}

// Runner executes scouting programs against the shared Telegram session.
type Runner struct {
	store     database.Store
	scraper   Scraper
	qualifier Qualifier
	enricher  Enricher
	cfg       config.ScraperConfig
	log       *slog.Logger

	// Overridable in tests.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewRunner creates a runner. The enricher may be nil when neither channel
// nor web enrichment is configured.
func NewRunner(store database.Store, sc Scraper, q Qualifier, e Enricher, cfg config.ScraperConfig, log *slog.Logger) *Runner {
	return &Runner{
		store:     store,
		scraper:   sc,
		qualifier: q,
		enricher:  e,
		cfg:       cfg,
		log:       log.With("component", "pipeline"),
		sleep:     sleepContext,
		now:       time.Now,
	}
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

func (r *Runner) pause(ctx context.Context, operation string) error {
	d := config.Delay(r.cfg.SafetyMode, operation)
	wait := d.Min
	if d.Max > d.Min {
		wait += time.Duration(rand.Int63n(int64(d.Max - d.Min)))
	}
	return r.sleep(ctx, wait)
}

// Run executes one program end to end. An unauthorized session aborts the
// run; a source that exhausts its flood wait budget is skipped. The handler
// is called once per accepted lead, after the row is committed.
func (r *Runner) Run(ctx context.Context, program *database.Program, onLead LeadHandler) (*RunStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log := r.log.With("run_id", uuid.NewString(), "program", program.Name)

	if len(program.Chats) == 0 {
		return nil, fmt.Errorf("program %q: %w", program.Name, ErrNoSources)
	}

	sources := program.Chats
	if len(sources) > r.cfg.MaxChatsPerRun {
		log.WarnContext(ctx, "Truncating source list",
			"requested", len(sources), "max", r.cfg.MaxChatsPerRun)
		sources = sources[:r.cfg.MaxChatsPerRun]
	}

	stats := &RunStats{ProgramName: program.Name}
	started := r.now()
	log.InfoContext(ctx, "Run started", "sources", len(sources), "min_score", program.MinScore)

	var candidates []scraper.Candidate
	corpusTotal := 0
	for i, source := range sources {
		if i > 0 {
			if r.now().Sub(started) > r.cfg.MaxSessionDuration {
				log.WarnContext(ctx, "Session duration limit reached, skipping remaining sources",
					"scanned", i)
				break
			}
			if err := r.pause(ctx, config.DelayBetweenChats); err != nil {
				return stats, err
			}
		}

		found, corpus, err := r.scraper.Scrape(ctx, source)
		switch {
		case errors.Is(err, telegram.ErrUnauthorized):
			return nil, fmt.Errorf("scanning %s: %w", source, err)
		case errors.Is(err, scraper.ErrParsingPaused):
			log.WarnContext(ctx, "Source paused after flood waits, moving on", "source", source)
			stats.SourcesPaused++
			continue
		case err != nil:
			log.ErrorContext(ctx, "Source scan failed", "source", source, "error", err)
			continue
		}

		stats.SourcesScanned++
		corpusTotal += len(corpus)
		candidates = append(candidates, found...)
	}

	stats.CandidatesFound = len(candidates)
	log.InfoContext(ctx, "Scanning finished", "candidates", len(candidates), "corpus", corpusTotal)
	if len(candidates) == 0 {
		return stats, nil
	}

	services := ""
	if owner, err := r.store.GetUser(ctx, program.UserID); err != nil {
		log.WarnContext(ctx, "Loading program owner failed, qualifying without services description",
			"error", err)
	} else if owner != nil {
		services = owner.ServicesDescription
	}

	nicheIdeas := ""
	if r.enricher != nil {
		nicheIdeas = r.enricher.NicheIdeas(ctx, program.NicheDescription)
	}

	for i := range candidates {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		cand := &candidates[i]
		if cand.Username == "" {
			continue
		}

		res, err := r.qualifier.Qualify(ctx, qualify.Input{
			Candidate:  cand,
			Enrichment: r.enrichCandidate(ctx, cand, program.EnrichWeb),
			Niche:      program.NicheDescription,
			Services:   services,
			NicheIdeas: nicheIdeas,
		})
		if err != nil {
			log.ErrorContext(ctx, "Qualification failed", "username", cand.Username, "error", err)
			continue
		}

		if res.Score < program.MinScore {
			log.DebugContext(ctx, "Candidate below threshold",
				"username", cand.Username, "score", res.Score, "min_score", program.MinScore)
			continue
		}

		lead, err := r.saveLead(ctx, program, cand, res)
		if err != nil {
			log.ErrorContext(ctx, "Saving lead failed", "username", cand.Username, "error", err)
			continue
		}
		stats.LeadsQualified++
		stats.PainsSaved += r.savePains(ctx, log, program, cand, res)

		log.InfoContext(ctx, "Lead accepted",
			"username", cand.Username, "score", res.Score, "penalty", res.PenaltyApplied)

		if onLead != nil {
			if err := onLead(ctx, lead); err != nil {
				log.WarnContext(ctx, "Lead notification failed", "username", cand.Username, "error", err)
			}
		}

		if program.MaxLeadsPerRun > 0 && stats.LeadsQualified >= program.MaxLeadsPerRun {
			log.InfoContext(ctx, "Lead limit for this run reached", "leads", stats.LeadsQualified)
			break
		}
	}

	log.InfoContext(ctx, "Run complete",
		"candidates", stats.CandidatesFound,
		"qualified", stats.LeadsQualified,
		"pains", stats.PainsSaved)
	return stats, nil
}

func (r *Runner) enrichCandidate(ctx context.Context, cand *scraper.Candidate, web bool) *enrich.Data {
	if r.enricher == nil {
		return nil
	}
	data := &enrich.Data{}
	if cand.HasChannel && cand.ChannelRef != "" {
		data.Channel = r.enricher.Channel(ctx, cand.ChannelRef)
	}
	if web {
		data.Web = r.enricher.Web(ctx, cand)
	}
	if data.Channel == nil && data.Web == nil {
		return nil
	}
	return data
}

func (r *Runner) saveLead(ctx context.Context, program *database.Program, cand *scraper.Candidate, res *qualify.Result) (*database.Lead, error) {
	rawQual, err := json.Marshal(res.Raw)
	if err != nil {
		return nil, fmt.Errorf("encoding qualification payload: %w", err)
	}
	rawProfile, err := json.Marshal(cand)
	if err != nil {
		return nil, fmt.Errorf("encoding candidate payload: %w", err)
	}

	lead := &database.Lead{
		UserID:             program.UserID,
		ProgramID:          program.ID,
		TelegramUsername:   cand.Username,
		TelegramUserID:     cand.UserID,
		QualificationScore: res.Score,
		BusinessSummary:    businessSummary(res),
		PainsSummary:       painsSummary(res.Pains),
		SolutionIdea:       res.ProductIdea,
		RecommendedMessage: res.Outreach,
		RawQualification:   string(rawQual),
		RawUserProfile:     string(rawProfile),
		RawLLMInput:        res.InputBlock,
	}
	if err := r.store.SaveLead(ctx, lead); err != nil {
		return nil, err
	}
	return lead, nil
}

// savePains records each extracted pain against a source message, pairing
// pain i with stored message i mod len(messages). The pairing is positional
// only; the quote under a pain is approximate. Duplicates within the run and
// against the store are skipped; individual failures never abort the lead.
func (r *Runner) savePains(ctx context.Context, log *slog.Logger, program *database.Program, cand *scraper.Candidate, res *qualify.Result) int {
	if len(res.Pains) == 0 || len(cand.Messages) == 0 {
		return 0
	}

	sourceChat := cand.SourceChatUsername
	if sourceChat == "" {
		sourceChat = cand.SourceChat
	}
	sourceChat = strings.TrimLeft(sourceChat, "@")

	type painKey struct {
		messageID int64
		quote     string
	}
	seen := make(map[painKey]struct{})

	saved := 0
	for idx, painText := range res.Pains {
		msg := cand.Messages[idx%len(cand.Messages)]
		if msg.MessageID == 0 {
			continue
		}

		quote := msg.Text
		if quote == "" {
			quote = painText
		}
		quote = strings.TrimSpace(quote)
		if quote == "" {
			continue
		}

		key := painKey{messageID: msg.MessageID, quote: quote}
		if _, ok := seen[key]; ok {
			continue
		}

		exists, err := r.store.PainExists(ctx, program.UserID, sourceChat, msg.MessageID, quote)
		if err != nil {
			log.WarnContext(ctx, "Pain dedup lookup failed", "username", cand.Username, "error", err)
			continue
		}
		if exists {
			seen[key] = struct{}{}
			continue
		}

		pain := &database.Pain{
			UserID:            program.UserID,
			ProgramID:         sql.NullInt64{Int64: program.ID, Valid: true},
			PainText:          painText,
			OriginalQuote:     quote,
			Category:          "other",
			Intensity:         "medium",
			BusinessType:      res.BusinessType,
			SourceChat:        sourceChat,
			SourceMessageID:   msg.MessageID,
			SourceMessageLink: msg.Link,
			SourceUserID:      cand.UserID,
			SourceUsername:    cand.Username,
		}
		if !msg.Date.IsZero() {
			pain.MessageDate = sql.NullTime{Time: msg.Date, Valid: true}
		}

		if err := r.store.SavePain(ctx, pain); err != nil {
			log.WarnContext(ctx, "Saving pain failed", "username", cand.Username, "error", err)
			continue
		}
		seen[key] = struct{}{}
		saved++
	}
	return saved
}

func businessSummary(res *qualify.Result) string {
	if res.BusinessType == "" {
		return ""
	}
	if res.BusinessScale != "" {
		return res.BusinessType + " (" + res.BusinessScale + ")"
	}
	return res.BusinessType
}

func painsSummary(pains []string) string {
	if len(pains) == 0 {
		return ""
	}
	return "• " + strings.Join(pains, "\n• ")
}
