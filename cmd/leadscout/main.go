// Package main contains the entrypoint for the LeadScout lead-finding worker.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"

	"github.com/edgard/leadscout/internal/config"
	"github.com/edgard/leadscout/internal/database"
	"github.com/edgard/leadscout/internal/enrich"
	"github.com/edgard/leadscout/internal/llm"
	"github.com/edgard/leadscout/internal/logger"
	"github.com/edgard/leadscout/internal/notify"
	"github.com/edgard/leadscout/internal/pipeline"
	"github.com/edgard/leadscout/internal/qualify"
	"github.com/edgard/leadscout/internal/scraper"
	"github.com/edgard/leadscout/internal/telegram"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop() // Ensure context cancellation is signaled before exit
	os.Exit(exitCode)
}

// run initializes all components (config, logger, db, gateway client,
// reasoning model, enricher, qualifier, scraper, notifier), executes the
// selected lead-finding programs, and returns an exit code.
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	programID := flag.Int64("program", 0, "Program ID to run (0 runs every active program)")
	seedPath := flag.String("seed", "", "YAML file with an owner and program to create before running")
	flag.Parse()

	// Deployments keep credentials in a .env next to the binary; absence is fine
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Logger.Level, cfg.Logger.JSON)
	slog.SetDefault(log)
	log.Info("Logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	if *seedPath != "" {
		if err := seed(ctx, store, *seedPath); err != nil {
			log.Error("Failed to apply seed file", "path", *seedPath, "error", err)
			return 1
		}
		log.Info("Seed file applied", "path", *seedPath)
	}

	// One scraping process per gateway session; Telegram bans accounts that
	// scrape from two places at once.
	lock := telegram.NewSessionLock(cfg.Gateway.LockDir, cfg.Gateway.Session)
	if err := lock.Acquire(); err != nil {
		log.Error("Session is busy", "error", err)
		return 1
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.Warn("Failed to release session lock", "error", err)
		}
	}()

	tg := telegram.NewGatewayClient(cfg.Gateway, log)

	llmClient, err := llm.New(ctx, cfg.LLM, log)
	if err != nil {
		log.Error("Failed to initialize reasoning model client", "error", err)
		return 1
	}

	var search *customsearch.Service
	if cfg.Search.APIKey != "" {
		search, err = customsearch.NewService(ctx, option.WithAPIKey(cfg.Search.APIKey))
		if err != nil {
			log.Error("Failed to initialize web search client", "error", err)
			return 1
		}
	}

	enricher := enrich.New(tg, search, cfg.Search.CX, cfg.Scraper, log)

	qualifier, err := qualify.NewQualifier(llmClient, cfg.Qualifier, log)
	if err != nil {
		log.Error("Failed to initialize qualifier", "error", err)
		return 1
	}

	sc := scraper.New(tg, qualifier, cfg.Scraper, log)

	notifier, err := notify.New(cfg.Notifier, log)
	if err != nil {
		log.Error("Failed to initialize notifier", "error", err)
		return 1
	}

	runner := pipeline.NewRunner(store, sc, qualifier, enricher, cfg.Scraper, log)

	programs, err := selectPrograms(ctx, store, *programID)
	if err != nil {
		log.Error("Failed to load programs", "error", err)
		return 1
	}
	if len(programs) == 0 {
		log.Warn("No active programs to run")
		return 0
	}

	programNames := make(map[int64]string, len(programs))
	for _, program := range programs {
		programNames[program.ID] = program.Name
	}

	log.Info("Starting lead search", "programs", len(programs))
	outcomes, runErr := runner.RunAll(ctx, programs, leadDelivery(store, notifier, programNames))

	for _, outcome := range outcomes {
		reportOutcome(ctx, store, notifier, log, outcome)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Lead search stopped due to error", "error", runErr)
		// Allow logs to flush before exiting on error
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Lead search finished.")
	time.Sleep(time.Second)
	return 0
}

// leadDelivery builds the per-lead callback that pushes a card to the program
// owner's chat. Returns nil when delivery is disabled so the pipeline skips
// the owner lookup entirely.
func leadDelivery(store database.Store, notifier *notify.Notifier, programNames map[int64]string) pipeline.LeadHandler {
	if !notifier.Enabled() {
		return nil
	}
	return func(ctx context.Context, lead *database.Lead) error {
		owner, err := store.GetUser(ctx, lead.UserID)
		if err != nil {
			return fmt.Errorf("resolving lead owner: %w", err)
		}
		if owner == nil {
			return fmt.Errorf("lead owner %d not found", lead.UserID)
		}
		return notifier.SendLeadCard(ctx, owner.TelegramID, programNames[lead.ProgramID], lead)
	}
}

func reportOutcome(ctx context.Context, store database.Store, notifier *notify.Notifier, log *slog.Logger, outcome pipeline.RunOutcome) {
	switch {
	case errors.Is(outcome.Err, context.Canceled):
		log.Warn("Program run canceled", "program", outcome.Program.Name)
	case outcome.Err != nil:
		log.Error("Program run failed", "program", outcome.Program.Name, "error", outcome.Err)
	case outcome.Stats != nil:
		log.Info("Program run finished",
			"program", outcome.Program.Name,
			"sources_scanned", outcome.Stats.SourcesScanned,
			"sources_paused", outcome.Stats.SourcesPaused,
			"candidates", outcome.Stats.CandidatesFound,
			"leads", outcome.Stats.LeadsQualified,
			"pains", outcome.Stats.PainsSaved)
	}

	if outcome.Stats == nil || outcome.Err != nil || !notifier.Enabled() {
		return
	}
	owner, err := store.GetUser(ctx, outcome.Program.UserID)
	if err != nil || owner == nil {
		log.Warn("Cannot resolve program owner for run summary",
			"program", outcome.Program.Name, "error", err)
		return
	}
	if err := notifier.SendRunSummary(ctx, owner.TelegramID, outcome.Program.Name, outcome.Stats.LeadsQualified); err != nil {
		log.Warn("Failed to deliver run summary", "program", outcome.Program.Name, "error", err)
	}
}

func selectPrograms(ctx context.Context, store database.Store, programID int64) ([]*database.Program, error) {
	if programID != 0 {
		program, err := store.GetProgram(ctx, programID)
		if err != nil {
			return nil, err
		}
		if program == nil {
			return nil, fmt.Errorf("program %d not found", programID)
		}
		return []*database.Program{program}, nil
	}
	return store.GetActivePrograms(ctx)
}

// seedFile describes the YAML accepted by -seed: the program owner and
// optionally one program to (re)create under them.
type seedFile struct {
	Owner struct {
		TelegramID int64  `mapstructure:"telegram_id"`
		Username   string `mapstructure:"username"`
		FirstName  string `mapstructure:"first_name"`
		Services   string `mapstructure:"services"`
	} `mapstructure:"owner"`
	Program struct {
		Name      string   `mapstructure:"name"`
		Niche     string   `mapstructure:"niche"`
		MinScore  int      `mapstructure:"min_score"`
		MaxLeads  int      `mapstructure:"max_leads_per_run"`
		EnrichWeb bool     `mapstructure:"enrich_web"`
		Chats     []string `mapstructure:"chats"`
	} `mapstructure:"program"`
}

func seed(ctx context.Context, store database.Store, path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading seed file: %w", err)
	}

	var s seedFile
	if err := v.Unmarshal(&s); err != nil {
		return fmt.Errorf("parsing seed file: %w", err)
	}
	if s.Owner.TelegramID == 0 {
		return fmt.Errorf("seed owner needs a telegram_id")
	}

	owner, err := store.GetOrCreateUser(ctx, s.Owner.TelegramID, s.Owner.Username, s.Owner.FirstName)
	if err != nil {
		return fmt.Errorf("creating owner: %w", err)
	}
	if s.Owner.Services != "" {
		if err := store.UpdateUserServices(ctx, owner.ID, s.Owner.Services); err != nil {
			return fmt.Errorf("saving services description: %w", err)
		}
	}

	if s.Program.Name == "" {
		return nil
	}
	minScore := s.Program.MinScore
	if minScore == 0 {
		minScore = config.DefaultProgramMinScore
	}
	maxLeads := s.Program.MaxLeads
	if maxLeads == 0 {
		maxLeads = config.DefaultProgramMaxLeadsPerRun
	}
	program := &database.Program{
		UserID:           owner.ID,
		Name:             s.Program.Name,
		NicheDescription: s.Program.Niche,
		MinScore:         minScore,
		MaxLeadsPerRun:   maxLeads,
		EnrichWeb:        s.Program.EnrichWeb,
		Active:           true,
		Chats:            s.Program.Chats,
	}
	if err := store.SaveProgram(ctx, program); err != nil {
		return fmt.Errorf("saving program: %w", err)
	}
	return nil
}
