package database

import (
	"database/sql"
	"time"
)

// Lead lifecycle states.
const (
	LeadStatusNew       = "new"
	LeadStatusContacted = "contacted"
	LeadStatusSkipped   = "skipped"
)

// User owns scouting programs. ServicesDescription is the owner's own
// offering in free text and is injected into every qualification prompt
// run for this user's programs.
type User struct {
	ID        int64     `db:"id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`

	TelegramID          int64  `db:"telegram_id"`
	Username            string `db:"username"`
	FirstName           string `db:"first_name"`
	ServicesDescription string `db:"services_description"`
}

// Program describes one scouting campaign: which chats to scan, what niche
// to reason about, and the acceptance thresholds for a run.
type Program struct {
	ID        int64     `db:"id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`

	UserID           int64  `db:"user_id"`
	Name             string `db:"name"`
	NicheDescription string `db:"niche_description"`
	MinScore         int    `db:"min_score"`
	MaxLeadsPerRun   int    `db:"max_leads_per_run"`
	EnrichWeb        bool   `db:"enrich_web"`
	Active           bool   `db:"active"`

	// Source chat references, stored in program_chats and loaded together
	// with the program row.
	Chats []string `db:"-"`
}

// Lead is a qualified candidate. One row per (program, telegram username);
// re-qualification updates the row in place and leaves status untouched.
type Lead struct {
	ID        int64     `db:"id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`

	UserID             int64  `db:"user_id"`
	ProgramID          int64  `db:"program_id"`
	TelegramUsername   string `db:"telegram_username"`
	TelegramUserID     int64  `db:"telegram_user_id"`
	QualificationScore int    `db:"qualification_score"`
	BusinessSummary    string `db:"business_summary"`
	PainsSummary       string `db:"pains_summary"`
	SolutionIdea       string `db:"solution_idea"`
	RecommendedMessage string `db:"recommended_message"`
	RawQualification   string `db:"raw_qualification_data"`
	RawUserProfile     string `db:"raw_user_profile_data"`
	RawLLMInput        string `db:"raw_llm_input"`
	Status             string `db:"status"`
}

// Pain is a single extracted pain statement tied to the chat message it was
// observed in. Deduplicated per owning user on (source chat, source message
// id, original quote); the program reference is informational only.
type Pain struct {
	ID        int64     `db:"id"`
	CreatedAt time.Time `db:"created_at"`

	UserID            int64         `db:"user_id"`
	ProgramID         sql.NullInt64 `db:"program_id"`
	PainText          string        `db:"pain_text"`
	OriginalQuote     string        `db:"original_quote"`
	Category          string        `db:"category"`
	Intensity         string        `db:"intensity"`
	BusinessType      string        `db:"business_type"`
	SourceChat        string        `db:"source_chat"`
	SourceMessageID   int64         `db:"source_message_id"`
	SourceMessageLink string        `db:"source_message_link"`
	SourceUserID      int64         `db:"source_user_id"`
	SourceUsername    string        `db:"source_username"`
	MessageDate       sql.NullTime  `db:"message_date"`
}
