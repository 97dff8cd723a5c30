package database

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
)

func newTestStore(t *testing.T) Store {
	t.Helper()

	db, err := NewDB(":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { CloseDB(db) })

	return NewStore(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func seedUserAndProgram(t *testing.T, store Store) (*User, *Program) {
	t.Helper()
	ctx := context.Background()

	user, err := store.GetOrCreateUser(ctx, 100500, "owner", "Alice")
	if err != nil {
		t.Fatalf("GetOrCreateUser() error = %v", err)
	}

	program := &Program{
		UserID:           user.ID,
		Name:             "fitness studios",
		NicheDescription: "fitness studio owners",
		MinScore:         5,
		MaxLeadsPerRun:   20,
		Active:           true,
		Chats:            []string{"@fitness_chat", "@gym_owners"},
	}
	if err := store.SaveProgram(ctx, program); err != nil {
		t.Fatalf("SaveProgram() error = %v", err)
	}
	return user, program
}

func TestGetOrCreateUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.GetOrCreateUser(ctx, 42, "bob", "Bob")
	if err != nil {
		t.Fatalf("GetOrCreateUser() error = %v", err)
	}
	if created.ID == 0 {
		t.Fatal("GetOrCreateUser() returned user with zero ID")
	}

	again, err := store.GetOrCreateUser(ctx, 42, "ignored", "Ignored")
	if err != nil {
		t.Fatalf("GetOrCreateUser() second call error = %v", err)
	}
	if again.ID != created.ID {
		t.Errorf("GetOrCreateUser() second call ID = %d, want %d", again.ID, created.ID)
	}
	if again.Username != "bob" {
		t.Errorf("GetOrCreateUser() second call Username = %q, want original %q", again.Username, "bob")
	}

	if _, err := store.GetOrCreateUser(ctx, 0, "", ""); err == nil {
		t.Error("GetOrCreateUser() with zero telegram_id expected error")
	}
}

func TestUpdateUserServices(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user, err := store.GetOrCreateUser(ctx, 7, "carol", "Carol")
	if err != nil {
		t.Fatalf("GetOrCreateUser() error = %v", err)
	}

	if err := store.UpdateUserServices(ctx, user.ID, "Telegram bots for retail"); err != nil {
		t.Fatalf("UpdateUserServices() error = %v", err)
	}

	got, err := store.GetUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if got.ServicesDescription != "Telegram bots for retail" {
		t.Errorf("ServicesDescription = %q, want %q", got.ServicesDescription, "Telegram bots for retail")
	}

	if err := store.UpdateUserServices(ctx, 9999, "x"); err == nil {
		t.Error("UpdateUserServices() for missing user expected error")
	}
}

func TestSaveProgramRoundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, program := seedUserAndProgram(t, store)

	got, err := store.GetProgram(ctx, program.ID)
	if err != nil {
		t.Fatalf("GetProgram() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetProgram() = nil, want program")
	}
	if got.Name != "fitness studios" {
		t.Errorf("Name = %q, want %q", got.Name, "fitness studios")
	}
	if len(got.Chats) != 2 || got.Chats[0] != "@fitness_chat" || got.Chats[1] != "@gym_owners" {
		t.Errorf("Chats = %v, want ordered original list", got.Chats)
	}

	// Updating replaces the chat list wholesale
	got.Chats = []string{"@new_chat"}
	got.MinScore = 7
	if err := store.SaveProgram(ctx, got); err != nil {
		t.Fatalf("SaveProgram() update error = %v", err)
	}

	updated, err := store.GetProgram(ctx, program.ID)
	if err != nil {
		t.Fatalf("GetProgram() after update error = %v", err)
	}
	if updated.MinScore != 7 {
		t.Errorf("MinScore = %d, want 7", updated.MinScore)
	}
	if len(updated.Chats) != 1 || updated.Chats[0] != "@new_chat" {
		t.Errorf("Chats after update = %v, want [@new_chat]", updated.Chats)
	}

	missing, err := store.GetProgram(ctx, 424242)
	if err != nil {
		t.Fatalf("GetProgram() for missing id error = %v", err)
	}
	if missing != nil {
		t.Errorf("GetProgram() for missing id = %+v, want nil", missing)
	}
}

func TestGetActivePrograms(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user, _ := seedUserAndProgram(t, store)

	inactive := &Program{
		UserID: user.ID,
		Name:   "paused campaign",
		Active: false,
		Chats:  []string{"@somewhere"},
	}
	if err := store.SaveProgram(ctx, inactive); err != nil {
		t.Fatalf("SaveProgram() error = %v", err)
	}

	programs, err := store.GetActivePrograms(ctx)
	if err != nil {
		t.Fatalf("GetActivePrograms() error = %v", err)
	}
	if len(programs) != 1 {
		t.Fatalf("GetActivePrograms() returned %d programs, want 1", len(programs))
	}
	if programs[0].Name != "fitness studios" {
		t.Errorf("active program Name = %q, want %q", programs[0].Name, "fitness studios")
	}
}

func TestSaveLeadUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user, program := seedUserAndProgram(t, store)

	lead := &Lead{
		UserID:             user.ID,
		ProgramID:          program.ID,
		TelegramUsername:   "prospect",
		TelegramUserID:     555,
		QualificationScore: 6,
		BusinessSummary:    "bakery chain",
	}
	if err := store.SaveLead(ctx, lead); err != nil {
		t.Fatalf("SaveLead() insert error = %v", err)
	}
	if lead.ID == 0 {
		t.Fatal("SaveLead() left lead ID zero after insert")
	}
	if lead.Status != LeadStatusNew {
		t.Errorf("Status after insert = %q, want %q", lead.Status, LeadStatusNew)
	}

	// Operator moves the lead forward between runs
	if err := store.UpdateLeadStatus(ctx, lead.ID, LeadStatusContacted); err != nil {
		t.Fatalf("UpdateLeadStatus() error = %v", err)
	}

	// Re-qualification updates the same row in place
	requalified := &Lead{
		UserID:             user.ID,
		ProgramID:          program.ID,
		TelegramUsername:   "prospect",
		TelegramUserID:     555,
		QualificationScore: 9,
		BusinessSummary:    "bakery chain, growing",
	}
	if err := store.SaveLead(ctx, requalified); err != nil {
		t.Fatalf("SaveLead() update error = %v", err)
	}
	if requalified.ID != lead.ID {
		t.Errorf("SaveLead() update produced ID %d, want existing %d", requalified.ID, lead.ID)
	}

	got, err := store.FindLead(ctx, program.ID, "prospect")
	if err != nil {
		t.Fatalf("FindLead() error = %v", err)
	}
	if got == nil {
		t.Fatal("FindLead() = nil, want lead")
	}
	if got.QualificationScore != 9 {
		t.Errorf("QualificationScore = %d, want 9", got.QualificationScore)
	}
	if got.Status != LeadStatusContacted {
		t.Errorf("Status after re-qualification = %q, want preserved %q", got.Status, LeadStatusContacted)
	}

	absent, err := store.FindLead(ctx, program.ID, "nobody")
	if err != nil {
		t.Fatalf("FindLead() for missing lead error = %v", err)
	}
	if absent != nil {
		t.Errorf("FindLead() for missing lead = %+v, want nil", absent)
	}
}

func TestUpdateLeadStatusValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.UpdateLeadStatus(ctx, 1, "archived"); err == nil {
		t.Error("UpdateLeadStatus() with invalid status expected error")
	}
	if err := store.UpdateLeadStatus(ctx, 9999, LeadStatusSkipped); err == nil {
		t.Error("UpdateLeadStatus() for missing lead expected error")
	}
}

func TestPainDedup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	user, program := seedUserAndProgram(t, store)

	pain := &Pain{
		UserID:          user.ID,
		ProgramID:       sql.NullInt64{Int64: program.ID, Valid: true},
		PainText:        "orders get lost between channels",
		OriginalQuote:   "заявки теряются в личке",
		Category:        "other",
		Intensity:       "medium",
		SourceChat:      "fitness_chat",
		SourceMessageID: 777,
		SourceUserID:    555,
		SourceUsername:  "prospect",
	}

	exists, err := store.PainExists(ctx, user.ID, "fitness_chat", 777, "заявки теряются в личке")
	if err != nil {
		t.Fatalf("PainExists() before save error = %v", err)
	}
	if exists {
		t.Error("PainExists() before save = true, want false")
	}

	if err := store.SavePain(ctx, pain); err != nil {
		t.Fatalf("SavePain() error = %v", err)
	}

	exists, err = store.PainExists(ctx, user.ID, "fitness_chat", 777, "заявки теряются в личке")
	if err != nil {
		t.Fatalf("PainExists() after save error = %v", err)
	}
	if !exists {
		t.Error("PainExists() after save = false, want true")
	}

	// The unique index rejects the same observation in a later run
	dup := *pain
	dup.ID = 0
	if err := store.SavePain(ctx, &dup); err == nil {
		t.Error("SavePain() duplicate expected error from unique index")
	}

	// A different quote from the same message is a distinct pain
	other := *pain
	other.ID = 0
	other.OriginalQuote = "клиенты уходят без ответа"
	if err := store.SavePain(ctx, &other); err != nil {
		t.Errorf("SavePain() with different quote error = %v", err)
	}
}
