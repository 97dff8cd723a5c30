// Package scraper reads chat history through the Telegram gateway and
// aggregates per-user activity into qualification candidates. All pacing
// policy lives here: randomized safety delays, flood wait retries, and the
// age-based early stop.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/edgard/leadscout/internal/config"
	"github.com/edgard/leadscout/internal/telegram"
)

// ErrParsingPaused reports that a chat scan gave up after exhausting its
// flood wait retry budget. The source is abandoned for this run; other
// sources are unaffected.
var ErrParsingPaused = errors.New("parsing paused after repeated flood waits")

const historyPageSize = 100

// ScreenEntry is one user's aggregated recent activity submitted for batch
// screening. The JSON field names are part of the screening prompt contract.
type ScreenEntry struct {
	Username     string `json:"username"`
	Text         string `json:"text"`
	Date         string `json:"date"`
	MessageCount int    `json:"messages_count"`
}

// ScreenedLead is one screened-in user together with the raw verdict
// payload the model produced for it.
type ScreenedLead struct {
	Username string
	Verdict  map[string]any
}

// ScreenStats summarizes a screening pass.
type ScreenStats struct {
	Analyzed        int
	WithPainSignals int
	Selected        int
}

// ScreenResult is the outcome of one batch screening call. Recovered marks
// results salvaged from a truncated model response.
type ScreenResult struct {
	Leads     []ScreenedLead
	Stats     ScreenStats
	Recovered bool
}

// BatchScreener ranks aggregated chat activity in a single model call so
// that only promising users get the expensive profile fetch and deep
// analysis. A screening failure is not fatal: the scraper falls back to
// keeping every user.
type BatchScreener interface {
	Screen(ctx context.Context, entries []ScreenEntry) (*ScreenResult, error)
}

// Scraper scans chat histories and produces qualification candidates.
type Scraper struct {
	client   telegram.Client
	screener BatchScreener
	cfg      config.ScraperConfig
	log      *slog.Logger

	// Overridable in tests to avoid real delays and wall-clock reads.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New creates a scraper. The screener may be nil when batch screening is
// disabled.
func New(client telegram.Client, screener BatchScreener, cfg config.ScraperConfig, log *slog.Logger) *Scraper {
	return &Scraper{
		client:   client,
		screener: screener,
		cfg:      cfg,
		log:      log.With("component", "scraper"),
		sleep:    sleepContext,
		now:      time.Now,
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

// randomPause sleeps a randomized duration drawn from the safety mode range
// for the given operation class.
func (s *Scraper) randomPause(ctx context.Context, operation string) error {
	r := config.Delay(s.cfg.SafetyMode, operation)
	d := r.Min
	if r.Max > r.Min {
		d += time.Duration(rand.Int63n(int64(r.Max - r.Min)))
	}
	return s.sleep(ctx, d)
}

func (s *Scraper) floodPause(ctx context.Context, fw *telegram.FloodWaitError) error {
	return s.sleep(ctx, fw.Wait()+s.cfg.FloodWaitExtra)
}

type senderState struct {
	user     *telegram.User
	count    int
	messages []ChatMessage
}

// Scrape reads one chat's recent history and aggregates it into
// qualification candidates, one per qualifying user. The second return is
// the unfiltered text corpus of the scanned window. When the flood wait
// retry budget runs out the returned error wraps ErrParsingPaused.
func (s *Scraper) Scrape(ctx context.Context, chatRef string) ([]Candidate, []ChatMessage, error) {
	log := s.log.With("chat", chatRef)

	if _, err := s.client.Me(ctx); err != nil {
		return nil, nil, fmt.Errorf("checking session authorization: %w", err)
	}

	log.InfoContext(ctx, "Scanning chat history",
		"limit", s.cfg.MessageLimit,
		"max_age_days", s.cfg.MessageMaxAgeDays,
		"safety_mode", s.cfg.SafetyMode)

	chat, err := s.resolveChat(ctx, chatRef)
	if err != nil {
		return nil, nil, err
	}
	public := chat.Public

	senders := make(map[int64]*senderState)
	order := make([]int64, 0, 64)
	userCache := make(map[int64]*telegram.User)

	var corpus []ChatMessage
	processed := 0
	floodRetries := 0
	now := s.now()

	var offsetID int64
scan:
	for processed < s.cfg.MessageLimit {
		limit := s.cfg.MessageLimit - processed
		if limit > historyPageSize {
			limit = historyPageSize
		}

		page, err := s.history(ctx, chat.ID, offsetID, limit, &floodRetries)
		if err != nil {
			return nil, nil, err
		}
		if len(page) == 0 {
			break
		}

		for i := range page {
			msg := &page[i]
			offsetID = msg.ID
			processed++

			if ageDays(msg.Date, now) > s.cfg.MessageMaxAgeDays {
				log.InfoContext(ctx, "Reached messages older than age limit, stopping scan",
					"processed", processed)
				break scan
			}

			if processed%50 == 0 {
				if err := s.randomPause(ctx, config.DelayBetweenRequests); err != nil {
					return nil, nil, err
				}
			}

			if msg.Text == "" {
				continue
			}

			corpus = append(corpus, ChatMessage{
				MessageID:    msg.ID,
				Text:         msg.Text,
				Date:         msg.Date,
				ChatUsername: chat.Username,
				ChatID:       chat.ID,
				Public:       public,
				Link:         MessageLink(chat.Username, chat.ID, msg.ID, public),
			})

			if msg.SenderID <= 0 {
				continue
			}

			sender, ok := userCache[msg.SenderID]
			if !ok {
				sender, err = s.lookupSender(ctx, log, msg.SenderID, &floodRetries)
				if err != nil {
					return nil, nil, err
				}
				if sender == nil {
					continue
				}
				userCache[msg.SenderID] = sender
			}

			if sender.Bot || sender.Deleted || sender.Username == "" {
				continue
			}

			st, ok := senders[sender.ID]
			if !ok {
				st = &senderState{user: sender}
				senders[sender.ID] = st
				order = append(order, sender.ID)
			}
			st.count++
			if len(st.messages) < s.cfg.MaxMessagesPerUser {
				st.messages = append(st.messages, ChatMessage{
					MessageID:    msg.ID,
					Text:         msg.Text,
					Date:         msg.Date,
					ChatUsername: chat.Username,
					ChatID:       chat.ID,
					Public:       public,
					Link:         MessageLink(chat.Username, chat.ID, msg.ID, public),
					Freshness:    Freshness(msg.Date, now),
					AgeLabel:     AgeLabel(msg.Date, now),
				})
			}
		}

		// A short page means the history is exhausted.
		if len(page) < limit {
			break
		}
	}

	log.InfoContext(ctx, "History scan finished",
		"processed", processed,
		"unique_users", len(order),
		"corpus", len(corpus))

	selected := order
	verdicts := make(map[string]map[string]any)

	if s.cfg.BatchScreening && s.screener != nil && len(order) > 0 {
		entries := make([]ScreenEntry, 0, len(order))
		for _, id := range order {
			st := senders[id]
			texts := make([]string, 0, 3)
			for i, m := range st.messages {
				if i == 3 {
					break
				}
				texts = append(texts, m.Text)
			}
			var date string
			if len(st.messages) > 0 && !st.messages[0].Date.IsZero() {
				date = st.messages[0].Date.UTC().Format(time.RFC3339)
			}
			entries = append(entries, ScreenEntry{
				Username:     "@" + st.user.Username,
				Text:         strings.Join(texts, " | "),
				Date:         date,
				MessageCount: st.count,
			})
		}

		result, err := s.screener.Screen(ctx, entries)
		if err != nil {
			log.WarnContext(ctx, "Batch screening failed, keeping all candidates", "error", err)
		} else {
			screenedIn := make(map[string]struct{}, len(result.Leads))
			for _, lead := range result.Leads {
				name := strings.TrimPrefix(lead.Username, "@")
				screenedIn[name] = struct{}{}
				verdicts[name] = lead.Verdict
			}
			filtered := make([]int64, 0, len(screenedIn))
			for _, id := range order {
				if _, ok := screenedIn[senders[id].user.Username]; ok {
					filtered = append(filtered, id)
				}
			}
			selected = filtered
			log.InfoContext(ctx, "Batch screening complete",
				"selected", len(selected),
				"total", len(order),
				"analyzed", result.Stats.Analyzed,
				"with_pain_signals", result.Stats.WithPainSignals,
				"recovered", result.Recovered)
		}
	} else {
		log.InfoContext(ctx, "Batch screening disabled, keeping all candidates")
	}

	profiles := s.fetchProfiles(ctx, log, selected)

	candidates := make([]Candidate, 0, len(selected))
	for _, id := range selected {
		st := senders[id]
		user := st.user
		bio := ""
		if p, ok := profiles[id]; ok {
			user = &p.User
			bio = p.About
		}

		channel := ChannelFromBio(bio)
		if s.cfg.OnlyWithChannels && channel == "" {
			continue
		}
		if len(st.messages) == 0 {
			continue
		}

		hasFresh := false
		for _, m := range st.messages {
			if m.Freshness == FreshnessHot {
				hasFresh = true
				break
			}
		}

		candidates = append(candidates, Candidate{
			UserID:             user.ID,
			Username:           user.Username,
			FirstName:          user.FirstName,
			LastName:           user.LastName,
			Bio:                bio,
			HasChannel:         channel != "",
			ChannelRef:         channel,
			SourceChat:         chatRef,
			SourceChatUsername: chat.Username,
			SourceChatID:       chat.ID,
			SourceChatPublic:   public,
			MessageCount:       st.count,
			Messages:           st.messages,
			HasFreshMessage:    hasFresh,
			Screening:          verdicts[user.Username],
		})
	}

	log.InfoContext(ctx, "Chat scan complete", "candidates", len(candidates))
	return candidates, corpus, nil
}

func (s *Scraper) resolveChat(ctx context.Context, ref string) (*telegram.Chat, error) {
	for attempt := 0; ; attempt++ {
		chat, err := s.client.ResolveChat(ctx, ref)
		if err == nil {
			return chat, nil
		}
		var fw *telegram.FloodWaitError
		if !errors.As(err, &fw) {
			return nil, fmt.Errorf("resolving chat %s: %w", ref, err)
		}
		if attempt >= s.cfg.MaxFloodWaitRetries {
			return nil, fmt.Errorf("resolving chat %s: %w", ref, ErrParsingPaused)
		}
		s.log.WarnContext(ctx, "Flood wait while resolving chat",
			"chat", ref,
			"wait", fw.Wait()+s.cfg.FloodWaitExtra,
			"attempt", attempt+1)
		if serr := s.floodPause(ctx, fw); serr != nil {
			return nil, serr
		}
	}
}

// history fetches one page, retrying flood waits against the scan's shared
// retry budget.
func (s *Scraper) history(ctx context.Context, chatID, offsetID int64, limit int, floodRetries *int) ([]telegram.Message, error) {
	for {
		page, err := s.client.History(ctx, chatID, offsetID, limit)
		if err == nil {
			return page, nil
		}
		var fw *telegram.FloodWaitError
		if !errors.As(err, &fw) {
			return nil, fmt.Errorf("fetching history: %w", err)
		}
		if *floodRetries >= s.cfg.MaxFloodWaitRetries {
			return nil, fmt.Errorf("fetching history: %w", ErrParsingPaused)
		}
		s.log.WarnContext(ctx, "Flood wait while fetching history",
			"wait", fw.Wait()+s.cfg.FloodWaitExtra,
			"retry", *floodRetries+1)
		if serr := s.floodPause(ctx, fw); serr != nil {
			return nil, serr
		}
		*floodRetries++
	}
}

// lookupSender resolves a message sender. A flood wait within budget sleeps
// and skips the message (sender nil); past the budget the scan is abandoned
// with ErrParsingPaused. Other lookup failures just skip the message.
func (s *Scraper) lookupSender(ctx context.Context, log *slog.Logger, senderID int64, floodRetries *int) (*telegram.User, error) {
	user, err := s.client.User(ctx, senderID)
	if err == nil {
		return user, nil
	}
	var fw *telegram.FloodWaitError
	if errors.As(err, &fw) {
		if *floodRetries >= s.cfg.MaxFloodWaitRetries {
			return nil, fmt.Errorf("fetching sender %d: %w", senderID, ErrParsingPaused)
		}
		log.WarnContext(ctx, "Flood wait during sender lookup",
			"wait", fw.Wait()+s.cfg.FloodWaitExtra,
			"retry", *floodRetries+1)
		if serr := s.floodPause(ctx, fw); serr != nil {
			return nil, serr
		}
		*floodRetries++
		return nil, nil
	}
	log.WarnContext(ctx, "Sender lookup failed", "sender_id", senderID, "error", err)
	return nil, nil
}

// fetchProfiles loads full profiles for the selected users. A flood wait
// triggers one wait-and-retry; a second failure falls back to the
// lightweight sender data already cached. When retries are disabled the
// first flood wait stops all remaining fetches.
func (s *Scraper) fetchProfiles(ctx context.Context, log *slog.Logger, selected []int64) map[int64]*telegram.Profile {
	profiles := make(map[int64]*telegram.Profile, len(selected))
	if len(selected) == 0 {
		return profiles
	}

	log.InfoContext(ctx, "Fetching full profiles", "count", len(selected))
	for idx, id := range selected {
		if ctx.Err() != nil {
			return profiles
		}
		if idx > 0 && idx%10 == 0 {
			if err := s.randomPause(ctx, config.DelayBetweenRequests); err != nil {
				return profiles
			}
		}

		p, err := s.client.UserProfile(ctx, id)
		if err != nil {
			var fw *telegram.FloodWaitError
			if errors.As(err, &fw) {
				if s.cfg.MaxFloodWaitRetries <= 0 {
					log.WarnContext(ctx, "Stopping profile fetches on flood wait", "fetched", idx)
					return profiles
				}
				log.WarnContext(ctx, "Flood wait during profile fetch",
					"user_id", id,
					"wait", fw.Wait()+s.cfg.FloodWaitExtra)
				if serr := s.floodPause(ctx, fw); serr != nil {
					return profiles
				}
				p, err = s.client.UserProfile(ctx, id)
			}
			if err != nil {
				log.WarnContext(ctx, "Profile fetch failed, using lightweight sender data",
					"user_id", id, "error", err)
				continue
			}
		}
		profiles[id] = p
	}
	return profiles
}

// ageDays is the age in whole days used by the early stop. Messages without
// a date count as ancient.
func ageDays(date, now time.Time) int {
	if date.IsZero() {
		return 999
	}
	return daysBetween(date, now)
}
