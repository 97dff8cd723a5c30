package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store defines the interface for database operations.
// Methods accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// GetOrCreateUser returns the user with the given Telegram ID, creating
	// the row on first sight.
	GetOrCreateUser(ctx context.Context, telegramID int64, username, firstName string) (*User, error)

	// GetUser retrieves a user by primary key. Returns nil, nil if not found.
	GetUser(ctx context.Context, id int64) (*User, error)

	// UpdateUserServices replaces the user's services description.
	UpdateUserServices(ctx context.Context, userID int64, services string) error

	// GetProgram retrieves a program with its source chats. Returns nil, nil
	// if not found.
	GetProgram(ctx context.Context, id int64) (*Program, error)

	// GetActivePrograms retrieves all active programs with their source chats.
	GetActivePrograms(ctx context.Context) ([]*Program, error)

	// SaveProgram inserts or updates a program and replaces its source chat
	// list.
	SaveProgram(ctx context.Context, program *Program) error

	// FindLead retrieves a lead by its unique (program, username) key.
	// Returns nil, nil if not found.
	FindLead(ctx context.Context, programID int64, telegramUsername string) (*Lead, error)

	// SaveLead inserts a new lead or updates the existing row for the same
	// (program, username) key, leaving status and created_at untouched on
	// update.
	SaveLead(ctx context.Context, lead *Lead) error

	// UpdateLeadStatus moves a lead through its lifecycle.
	UpdateLeadStatus(ctx context.Context, leadID int64, status string) error

	// PainExists reports whether a pain with the same dedup key was already
	// recorded for the user.
	PainExists(ctx context.Context, userID int64, sourceChat string, sourceMessageID int64, originalQuote string) (bool, error)

	// SavePain inserts a single pain record.
	SavePain(ctx context.Context, pain *Pain) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const userColumns = `id, created_at, updated_at, telegram_id, username, first_name, services_description`

// GetOrCreateUser returns the user with the given Telegram ID, inserting a
// fresh row when none exists yet.
func (s *sqlxStore) GetOrCreateUser(ctx context.Context, telegramID int64, username, firstName string) (*User, error) {
	if telegramID == 0 {
		return nil, fmt.Errorf("telegram_id cannot be zero")
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var user User
	err := s.db.GetContext(ctx, &user,
		`SELECT `+userColumns+` FROM users WHERE telegram_id = ?`, telegramID)

	switch {
	case err == nil:
		return &user, nil

	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return nil, err

	case !errors.Is(err, sql.ErrNoRows):
		s.logger.ErrorContext(ctx, "Error looking up user", "telegram_id", telegramID, "error", err)
		return nil, fmt.Errorf("failed to look up user %d: %w", telegramID, err)
	}

	now := time.Now().UTC()
	user = User{
		CreatedAt:  now,
		UpdatedAt:  now,
		TelegramID: telegramID,
		Username:   username,
		FirstName:  firstName,
	}

	result, err := s.db.NamedExecContext(ctx, `
        INSERT INTO users (telegram_id, username, first_name, services_description, created_at, updated_at)
        VALUES (:telegram_id, :username, :first_name, :services_description, :created_at, :updated_at)`,
		&user)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error creating user", "telegram_id", telegramID, "error", err)
		return nil, fmt.Errorf("failed to create user %d: %w", telegramID, err)
	}

	if id, idErr := result.LastInsertId(); idErr == nil {
		user.ID = id
	} else {
		s.logger.WarnContext(ctx, "Could not retrieve last insert ID after creating user",
			"telegram_id", telegramID, "error", idErr)
	}

	s.logger.DebugContext(ctx, "User created", "telegram_id", telegramID, "user_id", user.ID)
	return &user, nil
}

// GetUser retrieves a user by primary key. Returns nil, nil if not found.
func (s *sqlxStore) GetUser(ctx context.Context, id int64) (*User, error) {
	if id == 0 {
		return nil, fmt.Errorf("user id cannot be zero")
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var user User
	err := s.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.logger.DebugContext(ctx, "No user found", "user_id", id)
		return nil, nil

	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return nil, err

	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting user", "user_id", id, "error", err)
		return nil, fmt.Errorf("failed to get user %d: %w", id, err)
	}

	return &user, nil
}

// UpdateUserServices replaces the user's services description.
func (s *sqlxStore) UpdateUserServices(ctx context.Context, userID int64, services string) error {
	if userID == 0 {
		return fmt.Errorf("user id cannot be zero")
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET services_description = ?, updated_at = ? WHERE id = ?`,
		services, time.Now().UTC(), userID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error updating user services", "user_id", userID, "error", err)
		return fmt.Errorf("failed to update services for user %d: %w", userID, err)
	}

	if affected, affErr := result.RowsAffected(); affErr == nil && affected == 0 {
		return fmt.Errorf("user %d not found", userID)
	}
	return nil
}

const programColumns = `id, created_at, updated_at, user_id, name, niche_description, min_score, max_leads_per_run, enrich_web, active`

// GetProgram retrieves a program with its source chats. Returns nil, nil if
// not found.
func (s *sqlxStore) GetProgram(ctx context.Context, id int64) (*Program, error) {
	if id == 0 {
		return nil, fmt.Errorf("program id cannot be zero")
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var program Program
	err := s.db.GetContext(ctx, &program, `SELECT `+programColumns+` FROM programs WHERE id = ?`, id)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.logger.DebugContext(ctx, "No program found", "program_id", id)
		return nil, nil

	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return nil, err

	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting program", "program_id", id, "error", err)
		return nil, fmt.Errorf("failed to get program %d: %w", id, err)
	}

	if err := s.loadProgramChats(ctx, &program); err != nil {
		return nil, err
	}
	return &program, nil
}

// GetActivePrograms retrieves all active programs with their source chats.
func (s *sqlxStore) GetActivePrograms(ctx context.Context) ([]*Program, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var programs []*Program
	err := s.db.SelectContext(ctx, &programs,
		`SELECT `+programColumns+` FROM programs WHERE active = 1 ORDER BY id`)

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return nil, err

	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting active programs", "error", err)
		return nil, fmt.Errorf("failed to get active programs: %w", err)
	}

	for _, program := range programs {
		if err := s.loadProgramChats(ctx, program); err != nil {
			return nil, err
		}
	}

	s.logger.DebugContext(ctx, "Fetched active programs", "count", len(programs))
	return programs, nil
}

func (s *sqlxStore) loadProgramChats(ctx context.Context, program *Program) error {
	err := s.db.SelectContext(ctx, &program.Chats,
		`SELECT chat_ref FROM program_chats WHERE program_id = ? ORDER BY position, id`, program.ID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error loading program chats", "program_id", program.ID, "error", err)
		return fmt.Errorf("failed to load chats for program %d: %w", program.ID, err)
	}
	return nil
}

// SaveProgram inserts or updates a program and replaces its source chat list
// in a single transaction.
func (s *sqlxStore) SaveProgram(ctx context.Context, program *Program) error {
	if program == nil {
		return fmt.Errorf("cannot save nil program")
	}
	if program.UserID == 0 {
		return fmt.Errorf("program must have a non-zero user_id")
	}
	if program.Name == "" {
		return fmt.Errorf("program must have a non-empty name")
	}

	now := time.Now().UTC()
	program.UpdatedAt = now
	if program.CreatedAt.IsZero() {
		program.CreatedAt = now
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for saving program",
			"program_name", program.Name, "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				if !errors.Is(rollbackErr, sql.ErrTxDone) {
					s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
				}
			}
		}
	}()

	if program.ID != 0 {
		_, err = tx.NamedExecContext(ctx, `
            UPDATE programs SET
                user_id = :user_id,
                name = :name,
                niche_description = :niche_description,
                min_score = :min_score,
                max_leads_per_run = :max_leads_per_run,
                enrich_web = :enrich_web,
                active = :active,
                updated_at = :updated_at
            WHERE id = :id`, program)
		if err != nil {
			s.logger.ErrorContext(ctx, "Error updating program", "program_id", program.ID, "error", err)
			return fmt.Errorf("failed to update program %d: %w", program.ID, err)
		}
	} else {
		result, insErr := tx.NamedExecContext(ctx, `
            INSERT INTO programs (
                user_id, name, niche_description, min_score, max_leads_per_run,
                enrich_web, active, created_at, updated_at
            ) VALUES (
                :user_id, :name, :niche_description, :min_score, :max_leads_per_run,
                :enrich_web, :active, :created_at, :updated_at
            )`, program)
		if insErr != nil {
			s.logger.ErrorContext(ctx, "Error inserting program", "program_name", program.Name, "error", insErr)
			return fmt.Errorf("failed to insert program %q: %w", program.Name, insErr)
		}
		if id, idErr := result.LastInsertId(); idErr == nil {
			program.ID = id
		} else {
			s.logger.WarnContext(ctx, "Could not retrieve last insert ID after saving program",
				"program_name", program.Name, "error", idErr)
		}
	}

	// Replace the chat list wholesale; ordering is preserved via position
	if _, err = tx.ExecContext(ctx, `DELETE FROM program_chats WHERE program_id = ?`, program.ID); err != nil {
		s.logger.ErrorContext(ctx, "Error clearing program chats", "program_id", program.ID, "error", err)
		return fmt.Errorf("failed to clear chats for program %d: %w", program.ID, err)
	}
	for i, chat := range program.Chats {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO program_chats (program_id, chat_ref, position) VALUES (?, ?, ?)`,
			program.ID, chat, i); err != nil {
			s.logger.ErrorContext(ctx, "Error inserting program chat",
				"program_id", program.ID, "chat_ref", chat, "error", err)
			return fmt.Errorf("failed to insert chat %q for program %d: %w", chat, program.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit transaction", "program_id", program.ID, "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	s.logger.DebugContext(ctx, "Program saved", "program_id", program.ID, "chats", len(program.Chats))
	return nil
}

const leadColumns = `id, created_at, updated_at, user_id, program_id, telegram_username, telegram_user_id,
    qualification_score, business_summary, pains_summary, solution_idea, recommended_message,
    raw_qualification_data, raw_user_profile_data, raw_llm_input, status`

// FindLead retrieves a lead by its unique (program, username) key.
// Returns nil, nil if not found.
func (s *sqlxStore) FindLead(ctx context.Context, programID int64, telegramUsername string) (*Lead, error) {
	if programID == 0 {
		return nil, fmt.Errorf("program id cannot be zero")
	}
	if telegramUsername == "" {
		return nil, fmt.Errorf("telegram username cannot be empty")
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var lead Lead
	err := s.db.GetContext(ctx, &lead,
		`SELECT `+leadColumns+` FROM leads WHERE program_id = ? AND telegram_username = ?`,
		programID, telegramUsername)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil

	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return nil, err

	case err != nil:
		s.logger.ErrorContext(ctx, "Error finding lead",
			"program_id", programID, "username", telegramUsername, "error", err)
		return nil, fmt.Errorf("failed to find lead %q in program %d: %w", telegramUsername, programID, err)
	}

	return &lead, nil
}

// SaveLead inserts a new lead or updates the existing row for the same
// (program, username) key. On update the row keeps its status and
// created_at; only the derived qualification fields are refreshed.
func (s *sqlxStore) SaveLead(ctx context.Context, lead *Lead) error {
	if lead == nil {
		return fmt.Errorf("cannot save nil lead")
	}
	if lead.UserID == 0 {
		return fmt.Errorf("lead must have a non-zero user_id")
	}
	if lead.ProgramID == 0 {
		return fmt.Errorf("lead must have a non-zero program_id")
	}
	if lead.TelegramUsername == "" {
		return fmt.Errorf("lead must have a non-empty telegram_username")
	}

	now := time.Now().UTC()
	lead.UpdatedAt = now
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = now
	}
	if lead.Status == "" {
		lead.Status = LeadStatusNew
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for saving lead",
			"program_id", lead.ProgramID, "username", lead.TelegramUsername, "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				if !errors.Is(rollbackErr, sql.ErrTxDone) {
					s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
				}
			}
		}
	}()

	var existingID int64
	err = tx.GetContext(ctx, &existingID,
		`SELECT id FROM leads WHERE program_id = ? AND telegram_username = ? LIMIT 1`,
		lead.ProgramID, lead.TelegramUsername)

	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		s.logger.ErrorContext(ctx, "Error checking if lead exists",
			"program_id", lead.ProgramID, "username", lead.TelegramUsername, "error", err)
		return fmt.Errorf("failed to check lead %q in program %d: %w", lead.TelegramUsername, lead.ProgramID, err)
	}
	exists := err == nil

	var result sql.Result
	if exists {
		lead.ID = existingID
		result, err = tx.NamedExecContext(ctx, `
            UPDATE leads SET
                telegram_user_id = :telegram_user_id,
                qualification_score = :qualification_score,
                business_summary = :business_summary,
                pains_summary = :pains_summary,
                solution_idea = :solution_idea,
                recommended_message = :recommended_message,
                raw_qualification_data = :raw_qualification_data,
                raw_user_profile_data = :raw_user_profile_data,
                raw_llm_input = :raw_llm_input,
                updated_at = :updated_at
            WHERE id = :id`, lead)
	} else {
		result, err = tx.NamedExecContext(ctx, `
            INSERT INTO leads (
                user_id, program_id, telegram_username, telegram_user_id,
                qualification_score, business_summary, pains_summary, solution_idea,
                recommended_message, raw_qualification_data, raw_user_profile_data,
                raw_llm_input, status, created_at, updated_at
            ) VALUES (
                :user_id, :program_id, :telegram_username, :telegram_user_id,
                :qualification_score, :business_summary, :pains_summary, :solution_idea,
                :recommended_message, :raw_qualification_data, :raw_user_profile_data,
                :raw_llm_input, :status, :created_at, :updated_at
            )`, lead)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Error saving lead",
			"program_id", lead.ProgramID, "username", lead.TelegramUsername, "error", err)
		return fmt.Errorf("failed to save lead %q in program %d: %w", lead.TelegramUsername, lead.ProgramID, err)
	}

	if affected, affErr := result.RowsAffected(); affErr == nil && affected != 1 {
		s.logger.WarnContext(ctx, "Unexpected number of rows affected when saving lead",
			"program_id", lead.ProgramID, "username", lead.TelegramUsername, "affected", affected)
	}

	if !exists {
		if id, idErr := result.LastInsertId(); idErr == nil {
			lead.ID = id
		} else {
			s.logger.WarnContext(ctx, "Could not retrieve last insert ID after saving lead",
				"program_id", lead.ProgramID, "username", lead.TelegramUsername, "error", idErr)
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit transaction",
			"program_id", lead.ProgramID, "username", lead.TelegramUsername, "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	operation := "updated"
	if !exists {
		operation = "created"
	}
	s.logger.DebugContext(ctx, "Lead saved",
		"operation", operation, "program_id", lead.ProgramID, "username", lead.TelegramUsername, "lead_id", lead.ID)
	return nil
}

// UpdateLeadStatus moves a lead through its lifecycle.
func (s *sqlxStore) UpdateLeadStatus(ctx context.Context, leadID int64, status string) error {
	if leadID == 0 {
		return fmt.Errorf("lead id cannot be zero")
	}
	switch status {
	case LeadStatusNew, LeadStatusContacted, LeadStatusSkipped:
	default:
		return fmt.Errorf("invalid lead status %q", status)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE leads SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), leadID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error updating lead status", "lead_id", leadID, "status", status, "error", err)
		return fmt.Errorf("failed to update status of lead %d: %w", leadID, err)
	}

	if affected, affErr := result.RowsAffected(); affErr == nil && affected == 0 {
		return fmt.Errorf("lead %d not found", leadID)
	}

	s.logger.DebugContext(ctx, "Lead status updated", "lead_id", leadID, "status", status)
	return nil
}

// PainExists reports whether a pain with the same dedup key was already
// recorded for the user.
func (s *sqlxStore) PainExists(ctx context.Context, userID int64, sourceChat string, sourceMessageID int64, originalQuote string) (bool, error) {
	if userID == 0 {
		return false, fmt.Errorf("user id cannot be zero")
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	var one int
	err := s.db.GetContext(ctx, &one, `
        SELECT 1 FROM pains
        WHERE user_id = ? AND source_chat = ? AND source_message_id = ? AND original_quote = ?
        LIMIT 1`,
		userID, sourceChat, sourceMessageID, originalQuote)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil

	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return false, err

	case err != nil:
		s.logger.ErrorContext(ctx, "Error checking pain existence",
			"user_id", userID, "source_chat", sourceChat, "source_message_id", sourceMessageID, "error", err)
		return false, fmt.Errorf("failed to check pain existence for user %d: %w", userID, err)
	}

	return true, nil
}

// SavePain inserts a single pain record.
func (s *sqlxStore) SavePain(ctx context.Context, pain *Pain) error {
	if pain == nil {
		return fmt.Errorf("cannot save nil pain")
	}
	if pain.UserID == 0 {
		return fmt.Errorf("pain must have a non-zero user_id")
	}
	if pain.OriginalQuote == "" {
		return fmt.Errorf("pain must have a non-empty original_quote")
	}

	if pain.CreatedAt.IsZero() {
		pain.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for saving pain",
			"user_id", pain.UserID, "source_message_id", pain.SourceMessageID, "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				if !errors.Is(rollbackErr, sql.ErrTxDone) {
					s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
				}
			}
		}
	}()

	result, err := tx.NamedExecContext(ctx, `
        INSERT INTO pains (
            user_id, program_id, pain_text, original_quote, category, intensity,
            business_type, source_chat, source_message_id, source_message_link,
            source_user_id, source_username, message_date, created_at
        ) VALUES (
            :user_id, :program_id, :pain_text, :original_quote, :category, :intensity,
            :business_type, :source_chat, :source_message_id, :source_message_link,
            :source_user_id, :source_username, :message_date, :created_at
        )`, pain)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error saving pain",
			"user_id", pain.UserID, "source_message_id", pain.SourceMessageID, "error", err)
		return fmt.Errorf("failed to save pain for user %d (message %d): %w", pain.UserID, pain.SourceMessageID, err)
	}

	if id, idErr := result.LastInsertId(); idErr == nil {
		pain.ID = id
	} else {
		s.logger.WarnContext(ctx, "Could not retrieve last insert ID after saving pain",
			"user_id", pain.UserID, "source_message_id", pain.SourceMessageID, "error", idErr)
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit transaction",
			"user_id", pain.UserID, "source_message_id", pain.SourceMessageID, "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	s.logger.DebugContext(ctx, "Pain saved",
		"user_id", pain.UserID, "source_message_id", pain.SourceMessageID, "pain_id", pain.ID)
	return nil
}
