package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/edgard/leadscout/internal/config"
	"github.com/edgard/leadscout/internal/database"
	"github.com/edgard/leadscout/internal/enrich"
	"github.com/edgard/leadscout/internal/qualify"
	"github.com/edgard/leadscout/internal/scraper"
	"github.com/edgard/leadscout/internal/telegram"
)

type fakeStore struct {
	owner       *database.User
	ownerErr    error
	leads       []*database.Lead
	saveLeadErr error

	pains        []*database.Pain
	savePainErr  error
	existingPain map[string]bool
	painChecks   int
}

func painStoreKey(chat string, msgID int64, quote string) string {
	return fmt.Sprintf("%s|%d|%s", chat, msgID, quote)
}

func (f *fakeStore) Ping(_ context.Context) error { return nil }

func (f *fakeStore) GetOrCreateUser(_ context.Context, _ int64, _, _ string) (*database.User, error) {
	return nil, errors.New("not scripted")
}

func (f *fakeStore) GetUser(_ context.Context, _ int64) (*database.User, error) {
	if f.ownerErr != nil {
		return nil, f.ownerErr
	}
	return f.owner, nil
}

func (f *fakeStore) UpdateUserServices(_ context.Context, _ int64, _ string) error { return nil }

func (f *fakeStore) GetProgram(_ context.Context, _ int64) (*database.Program, error) {
	return nil, nil
}

func (f *fakeStore) GetActivePrograms(_ context.Context) ([]*database.Program, error) {
	return nil, nil
}

func (f *fakeStore) SaveProgram(_ context.Context, _ *database.Program) error { return nil }

func (f *fakeStore) FindLead(_ context.Context, _ int64, _ string) (*database.Lead, error) {
	return nil, nil
}

func (f *fakeStore) SaveLead(_ context.Context, lead *database.Lead) error {
	if f.saveLeadErr != nil {
		return f.saveLeadErr
	}
	lead.ID = int64(len(f.leads) + 1)
	f.leads = append(f.leads, lead)
	return nil
}

func (f *fakeStore) UpdateLeadStatus(_ context.Context, _ int64, _ string) error { return nil }

func (f *fakeStore) PainExists(_ context.Context, _ int64, sourceChat string, sourceMessageID int64, originalQuote string) (bool, error) {
	f.painChecks++
	return f.existingPain[painStoreKey(sourceChat, sourceMessageID, originalQuote)], nil
}

func (f *fakeStore) SavePain(_ context.Context, pain *database.Pain) error {
	if f.savePainErr != nil {
		return f.savePainErr
	}
	f.pains = append(f.pains, pain)
	return nil
}

type scrapeReply struct {
	candidates []scraper.Candidate
	corpus     []scraper.ChatMessage
	err        error
}

type fakeScraper struct {
	replies map[string]scrapeReply
	scanned []string
}

func (f *fakeScraper) Scrape(_ context.Context, chatRef string) ([]scraper.Candidate, []scraper.ChatMessage, error) {
	f.scanned = append(f.scanned, chatRef)
	r := f.replies[chatRef]
	return r.candidates, r.corpus, r.err
}

type fakeQualifier struct {
	results map[string]*qualify.Result
	errs    map[string]error
	inputs  []qualify.Input
}

func (f *fakeQualifier) Qualify(_ context.Context, in qualify.Input) (*qualify.Result, error) {
	f.inputs = append(f.inputs, in)
	if err := f.errs[in.Candidate.Username]; err != nil {
		return nil, err
	}
	if res, ok := f.results[in.Candidate.Username]; ok {
		return res, nil
	}
	return &qualify.Result{}, nil
}

type fakeEnricher struct {
	channel *enrich.ChannelData
	web     *enrich.WebData
	ideas   string

	channelCalls []string
	webCalls     int
	nicheCalls   []string
}

func (f *fakeEnricher) Channel(_ context.Context, ref string) *enrich.ChannelData {
	f.channelCalls = append(f.channelCalls, ref)
	return f.channel
}

func (f *fakeEnricher) Web(_ context.Context, _ *scraper.Candidate) *enrich.WebData {
	f.webCalls++
	return f.web
}

func (f *fakeEnricher) NicheIdeas(_ context.Context, niche string) string {
	f.nicheCalls = append(f.nicheCalls, niche)
	return f.ideas
}

func newTestRunner(t *testing.T, store database.Store, sc Scraper, q Qualifier, e Enricher) *Runner {
	t.Helper()

	cfg := config.ScraperConfig{
		SafetyMode:         "fast",
		MaxChatsPerRun:     5,
		MaxSessionDuration: 40 * time.Minute,
	}
	r := NewRunner(store, sc, q, e, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.sleep = func(_ context.Context, _ time.Duration) error { return nil }
	return r
}

func testProgram(chats ...string) *database.Program {
	return &database.Program{
		ID:               7,
		UserID:           3,
		Name:             "Салоны Москвы",
		NicheDescription: "салоны красоты",
		MinScore:         5,
		MaxLeadsPerRun:   10,
		Active:           true,
		Chats:            chats,
	}
}

func runCandidate(username string) scraper.Candidate {
	return scraper.Candidate{
		UserID:             100,
		Username:           username,
		FirstName:          "Анна",
		SourceChat:         "@beauty_biz_chat",
		SourceChatUsername: "beauty_biz_chat",
		MessageCount:       2,
		Messages: []scraper.ChatMessage{
			{
				MessageID: 11,
				Text:      "теряем заявки из чатов",
				Date:      time.Date(2025, time.June, 14, 10, 0, 0, 0, time.UTC),
				Link:      "t.me/beauty_biz_chat/11",
			},
			{
				MessageID: 12,
				Text:      "запись ведём в тетради",
				Date:      time.Date(2025, time.June, 13, 10, 0, 0, 0, time.UTC),
				Link:      "t.me/beauty_biz_chat/12",
			},
		},
	}
}

func qualifiedResult(score int, pains ...string) *qualify.Result {
	return &qualify.Result{
		Score:         score,
		LLMScore:      score,
		Reasoning:     "прямой запрос на автоматизацию",
		BusinessType:  "салон красоты",
		BusinessScale: "микробизнес",
		Pains:         pains,
		ProductIdea:   "бот записи с напоминаниями",
		Outreach:      "Здравствуйте!",
		Raw:           map[string]any{"qualification": map[string]any{"score": score}},
		InputBlock:    "вход для модели",
	}
}

func TestRunQualifiesAndNotifies(t *testing.T) {
	t.Parallel()

	store := &fakeStore{owner: &database.User{ID: 3, ServicesDescription: "Делаю Telegram-ботов"}}
	sc := &fakeScraper{replies: map[string]scrapeReply{
		"@beauty_biz_chat": {candidates: []scraper.Candidate{runCandidate("anna_beauty")}},
		"@auto_biz_chat":   {candidates: []scraper.Candidate{runCandidate("boris_auto")}},
	}}
	q := &fakeQualifier{results: map[string]*qualify.Result{
		"anna_beauty": qualifiedResult(7, "заявки теряются", "запись вручную"),
		"boris_auto":  qualifiedResult(3),
	}}
	e := &fakeEnricher{ideas: "идеи для ниши"}
	r := newTestRunner(t, store, sc, q, e)

	var notified []string
	onLead := func(_ context.Context, lead *database.Lead) error {
		if lead.ID == 0 {
			t.Error("handler invoked before the lead was committed")
		}
		if len(store.leads) == 0 {
			t.Error("handler invoked before the store saw the lead")
		}
		notified = append(notified, lead.TelegramUsername)
		return errors.New("notification channel down")
	}

	stats, err := r.Run(context.Background(), testProgram("@beauty_biz_chat", "@auto_biz_chat"), onLead)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if stats.SourcesScanned != 2 || stats.CandidatesFound != 2 || stats.LeadsQualified != 1 {
		t.Errorf("stats = %+v, want 2 sources, 2 candidates, 1 lead", stats)
	}
	if len(notified) != 1 || notified[0] != "anna_beauty" {
		t.Errorf("notified = %v, want the accepted lead despite handler error", notified)
	}

	if len(store.leads) != 1 {
		t.Fatalf("saved leads = %d, want 1", len(store.leads))
	}
	lead := store.leads[0]
	if lead.ProgramID != 7 || lead.UserID != 3 || lead.QualificationScore != 7 {
		t.Errorf("lead = %+v, want program owner and final score", lead)
	}
	if lead.PainsSummary != "• заявки теряются\n• запись вручную" {
		t.Errorf("pains summary = %q, want bulleted list", lead.PainsSummary)
	}
	if lead.BusinessSummary != "салон красоты (микробизнес)" {
		t.Errorf("business summary = %q", lead.BusinessSummary)
	}
	if !strings.Contains(lead.RawQualification, `"score":7`) {
		t.Errorf("raw qualification = %q, want serialized verdict", lead.RawQualification)
	}
	if lead.RawLLMInput != "вход для модели" {
		t.Errorf("raw llm input = %q", lead.RawLLMInput)
	}

	if len(q.inputs) != 2 {
		t.Fatalf("qualification calls = %d, want 2", len(q.inputs))
	}
	in := q.inputs[0]
	if in.Services != "Делаю Telegram-ботов" || in.Niche != "салоны красоты" || in.NicheIdeas != "идеи для ниши" {
		t.Errorf("qualification input = %+v, want owner services and niche context", in)
	}
	if len(e.nicheCalls) != 1 {
		t.Errorf("niche idea lookups = %d, want once per run", len(e.nicheCalls))
	}
	if e.webCalls != 0 {
		t.Errorf("web enrichments = %d, want none when the program disables them", e.webCalls)
	}
}

func TestRunEnrichment(t *testing.T) {
	t.Parallel()

	cand := runCandidate("inna_beauty")
	cand.HasChannel = true
	cand.ChannelRef = "@inna_channel"

	store := &fakeStore{owner: &database.User{ID: 3}}
	sc := &fakeScraper{replies: map[string]scrapeReply{
		"@beauty_biz_chat": {candidates: []scraper.Candidate{cand}},
	}}
	q := &fakeQualifier{results: map[string]*qualify.Result{
		"inna_beauty": qualifiedResult(8, "заявки теряются"),
	}}
	e := &fakeEnricher{
		channel: &enrich.ChannelData{Entity: enrich.Entity{Title: "Канал Инны"}},
		web:     &enrich.WebData{Website: "https://inna.ru"},
	}
	r := newTestRunner(t, store, sc, q, e)

	program := testProgram("@beauty_biz_chat")
	program.EnrichWeb = true

	if _, err := r.Run(context.Background(), program, nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(e.channelCalls) != 1 || e.channelCalls[0] != "@inna_channel" {
		t.Errorf("channel calls = %v, want the candidate's channel", e.channelCalls)
	}
	if e.webCalls != 1 {
		t.Errorf("web calls = %d, want 1", e.webCalls)
	}

	in := q.inputs[0]
	if in.Enrichment == nil || in.Enrichment.Channel == nil || in.Enrichment.Web == nil {
		t.Fatalf("enrichment = %+v, want both channel and web data", in.Enrichment)
	}
}

func TestRunSourceFailures(t *testing.T) {
	t.Parallel()

	t.Run("no sources", func(t *testing.T) {
		t.Parallel()

		r := newTestRunner(t, &fakeStore{}, &fakeScraper{}, &fakeQualifier{}, nil)
		_, err := r.Run(context.Background(), testProgram(), nil)
		if !errors.Is(err, ErrNoSources) {
			t.Errorf("Run() error = %v, want ErrNoSources", err)
		}
	})

	t.Run("unauthorized aborts the run", func(t *testing.T) {
		t.Parallel()

		sc := &fakeScraper{replies: map[string]scrapeReply{
			"@first_chat": {err: fmt.Errorf("checking session authorization: %w", telegram.ErrUnauthorized)},
		}}
		r := newTestRunner(t, &fakeStore{}, sc, &fakeQualifier{}, nil)

		_, err := r.Run(context.Background(), testProgram("@first_chat", "@second_chat"), nil)
		if !errors.Is(err, telegram.ErrUnauthorized) {
			t.Fatalf("Run() error = %v, want ErrUnauthorized", err)
		}
		if len(sc.scanned) != 1 {
			t.Errorf("scanned sources = %v, want abort before the second", sc.scanned)
		}
	})

	t.Run("paused source is skipped", func(t *testing.T) {
		t.Parallel()

		store := &fakeStore{owner: &database.User{ID: 3}}
		sc := &fakeScraper{replies: map[string]scrapeReply{
			"@first_chat":  {err: fmt.Errorf("fetching history: %w", scraper.ErrParsingPaused)},
			"@second_chat": {candidates: []scraper.Candidate{runCandidate("anna_beauty")}},
		}}
		q := &fakeQualifier{results: map[string]*qualify.Result{"anna_beauty": qualifiedResult(9)}}
		r := newTestRunner(t, store, sc, q, nil)

		stats, err := r.Run(context.Background(), testProgram("@first_chat", "@second_chat"), nil)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if stats.SourcesPaused != 1 || stats.SourcesScanned != 1 || stats.LeadsQualified != 1 {
			t.Errorf("stats = %+v, want paused source skipped and the rest processed", stats)
		}
	})

	t.Run("session duration limit stops scanning", func(t *testing.T) {
		t.Parallel()

		sc := &fakeScraper{replies: map[string]scrapeReply{
			"@first_chat":  {candidates: []scraper.Candidate{runCandidate("anna_beauty")}},
			"@second_chat": {candidates: []scraper.Candidate{runCandidate("boris_auto")}},
		}}
		r := newTestRunner(t, &fakeStore{owner: &database.User{ID: 3}}, sc, &fakeQualifier{}, nil)

		start := time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)
		calls := 0
		r.now = func() time.Time {
			calls++
			if calls == 1 {
				return start
			}
			return start.Add(41 * time.Minute)
		}

		stats, err := r.Run(context.Background(), testProgram("@first_chat", "@second_chat"), nil)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if len(sc.scanned) != 1 || stats.SourcesScanned != 1 {
			t.Errorf("scanned = %v, want only the first source before the time limit", sc.scanned)
		}
	})
}

func TestRunCandidateFailures(t *testing.T) {
	t.Parallel()

	t.Run("qualification error skips the candidate", func(t *testing.T) {
		t.Parallel()

		store := &fakeStore{owner: &database.User{ID: 3}}
		sc := &fakeScraper{replies: map[string]scrapeReply{
			"@beauty_biz_chat": {candidates: []scraper.Candidate{
				runCandidate("broken_one"), runCandidate("anna_beauty"),
			}},
		}}
		q := &fakeQualifier{
			results: map[string]*qualify.Result{"anna_beauty": qualifiedResult(8)},
			errs:    map[string]error{"broken_one": errors.New("model exploded")},
		}
		r := newTestRunner(t, store, sc, q, nil)

		stats, err := r.Run(context.Background(), testProgram("@beauty_biz_chat"), nil)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if stats.LeadsQualified != 1 || len(store.leads) != 1 {
			t.Errorf("leads = %d, want the healthy candidate only", stats.LeadsQualified)
		}
	})

	t.Run("save failure skips the notification", func(t *testing.T) {
		t.Parallel()

		store := &fakeStore{owner: &database.User{ID: 3}, saveLeadErr: errors.New("disk full")}
		sc := &fakeScraper{replies: map[string]scrapeReply{
			"@beauty_biz_chat": {candidates: []scraper.Candidate{runCandidate("anna_beauty")}},
		}}
		q := &fakeQualifier{results: map[string]*qualify.Result{"anna_beauty": qualifiedResult(8)}}
		r := newTestRunner(t, store, sc, q, nil)

		notified := 0
		stats, err := r.Run(context.Background(), testProgram("@beauty_biz_chat"),
			func(_ context.Context, _ *database.Lead) error {
				notified++
				return nil
			})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if stats.LeadsQualified != 0 || notified != 0 {
			t.Errorf("qualified = %d, notified = %d; want 0/0 on save failure", stats.LeadsQualified, notified)
		}
	})

	t.Run("lead limit stops qualification", func(t *testing.T) {
		t.Parallel()

		store := &fakeStore{owner: &database.User{ID: 3}}
		sc := &fakeScraper{replies: map[string]scrapeReply{
			"@beauty_biz_chat": {candidates: []scraper.Candidate{
				runCandidate("anna_beauty"), runCandidate("boris_auto"), runCandidate("carl_shop"),
			}},
		}}
		q := &fakeQualifier{results: map[string]*qualify.Result{
			"anna_beauty": qualifiedResult(8),
			"boris_auto":  qualifiedResult(9),
			"carl_shop":   qualifiedResult(10),
		}}
		r := newTestRunner(t, store, sc, q, nil)

		program := testProgram("@beauty_biz_chat")
		program.MaxLeadsPerRun = 2

		stats, err := r.Run(context.Background(), program, nil)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if stats.LeadsQualified != 2 || len(q.inputs) != 2 {
			t.Errorf("qualified = %d with %d model calls, want limit of 2", stats.LeadsQualified, len(q.inputs))
		}
	})
}

func TestRunSavesPains(t *testing.T) {
	t.Parallel()

	t.Run("round robin pairing with dedup", func(t *testing.T) {
		t.Parallel()

		store := &fakeStore{owner: &database.User{ID: 3}}
		cand := runCandidate("anna_beauty")
		cand.SourceChatUsername = ""

		sc := &fakeScraper{replies: map[string]scrapeReply{
			"@beauty_biz_chat": {candidates: []scraper.Candidate{cand}},
		}}
		q := &fakeQualifier{results: map[string]*qualify.Result{
			"anna_beauty": qualifiedResult(8, "боль один", "боль два", "боль три"),
		}}
		r := newTestRunner(t, store, sc, q, nil)

		stats, err := r.Run(context.Background(), testProgram("@beauty_biz_chat"), nil)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		if stats.PainsSaved != 2 || len(store.pains) != 2 {
			t.Fatalf("pains saved = %d, want third pain deduplicated against the first message", stats.PainsSaved)
		}
		if store.painChecks != 2 {
			t.Errorf("dedup lookups = %d, want in-run duplicate caught before the store", store.painChecks)
		}

		pain := store.pains[0]
		if pain.PainText != "боль один" || pain.OriginalQuote != "теряем заявки из чатов" {
			t.Errorf("pain = %+v, want first pain quoting the first message", pain)
		}
		if pain.SourceChat != "beauty_biz_chat" {
			t.Errorf("source chat = %q, want the @ stripped", pain.SourceChat)
		}
		if pain.Category != "other" || pain.Intensity != "medium" {
			t.Errorf("category/intensity = %q/%q, want other/medium", pain.Category, pain.Intensity)
		}
		if !pain.ProgramID.Valid || pain.ProgramID.Int64 != 7 {
			t.Errorf("program id = %+v, want 7", pain.ProgramID)
		}
		if !pain.MessageDate.Valid {
			t.Error("message date not recorded")
		}
		if store.pains[1].SourceMessageID != 12 {
			t.Errorf("second pain message = %d, want round robin onto message 12", store.pains[1].SourceMessageID)
		}
	})

	t.Run("already recorded pain is skipped", func(t *testing.T) {
		t.Parallel()

		store := &fakeStore{
			owner: &database.User{ID: 3},
			existingPain: map[string]bool{
				painStoreKey("beauty_biz_chat", 11, "теряем заявки из чатов"): true,
			},
		}
		sc := &fakeScraper{replies: map[string]scrapeReply{
			"@beauty_biz_chat": {candidates: []scraper.Candidate{runCandidate("anna_beauty")}},
		}}
		q := &fakeQualifier{results: map[string]*qualify.Result{
			"anna_beauty": qualifiedResult(8, "боль один", "боль два"),
		}}
		r := newTestRunner(t, store, sc, q, nil)

		stats, err := r.Run(context.Background(), testProgram("@beauty_biz_chat"), nil)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if stats.PainsSaved != 1 || len(store.pains) != 1 {
			t.Errorf("pains saved = %d, want only the unseen one", stats.PainsSaved)
		}
	})

	t.Run("empty message text falls back to the pain text", func(t *testing.T) {
		t.Parallel()

		store := &fakeStore{owner: &database.User{ID: 3}}
		cand := runCandidate("anna_beauty")
		cand.Messages = []scraper.ChatMessage{{MessageID: 21, Text: ""}}

		sc := &fakeScraper{replies: map[string]scrapeReply{
			"@beauty_biz_chat": {candidates: []scraper.Candidate{cand}},
		}}
		q := &fakeQualifier{results: map[string]*qualify.Result{
			"anna_beauty": qualifiedResult(8, "чистая боль"),
		}}
		r := newTestRunner(t, store, sc, q, nil)

		if _, err := r.Run(context.Background(), testProgram("@beauty_biz_chat"), nil); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if len(store.pains) != 1 || store.pains[0].OriginalQuote != "чистая боль" {
			t.Errorf("pains = %+v, want quote falling back to the pain text", store.pains)
		}
	})
}

func TestRunAll(t *testing.T) {
	t.Parallel()

	t.Run("records outcomes in order", func(t *testing.T) {
		t.Parallel()

		store := &fakeStore{owner: &database.User{ID: 3}}
		sc := &fakeScraper{replies: map[string]scrapeReply{
			"@beauty_biz_chat": {candidates: []scraper.Candidate{runCandidate("anna_beauty")}},
			"@auto_biz_chat":   {},
		}}
		q := &fakeQualifier{results: map[string]*qualify.Result{"anna_beauty": qualifiedResult(8)}}
		r := newTestRunner(t, store, sc, q, nil)

		first := testProgram("@beauty_biz_chat")
		second := testProgram("@auto_biz_chat")
		second.ID = 8
		second.Name = "Автосервисы"

		outcomes, err := r.RunAll(context.Background(), []*database.Program{first, second}, nil)
		if err != nil {
			t.Fatalf("RunAll() error = %v", err)
		}
		if len(outcomes) != 2 {
			t.Fatalf("outcomes = %d, want 2", len(outcomes))
		}
		if outcomes[0].Stats.LeadsQualified != 1 || outcomes[0].Err != nil {
			t.Errorf("first outcome = %+v, want one lead", outcomes[0])
		}
		if outcomes[1].Stats.LeadsQualified != 0 || outcomes[1].Err != nil {
			t.Errorf("second outcome = %+v, want clean empty run", outcomes[1])
		}
	})

	t.Run("unauthorized cancels the remainder", func(t *testing.T) {
		t.Parallel()

		sc := &fakeScraper{replies: map[string]scrapeReply{
			"@beauty_biz_chat": {err: fmt.Errorf("checking session authorization: %w", telegram.ErrUnauthorized)},
		}}
		r := newTestRunner(t, &fakeStore{}, sc, &fakeQualifier{}, nil)

		first := testProgram("@beauty_biz_chat")
		second := testProgram("@auto_biz_chat")

		outcomes, err := r.RunAll(context.Background(), []*database.Program{first, second}, nil)
		if !errors.Is(err, telegram.ErrUnauthorized) {
			t.Fatalf("RunAll() error = %v, want ErrUnauthorized", err)
		}
		if !errors.Is(outcomes[0].Err, telegram.ErrUnauthorized) {
			t.Errorf("first outcome error = %v, want ErrUnauthorized", outcomes[0].Err)
		}
		if !errors.Is(outcomes[1].Err, context.Canceled) {
			t.Errorf("second outcome error = %v, want cancellation", outcomes[1].Err)
		}
	})
}
