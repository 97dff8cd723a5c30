package scraper

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/edgard/leadscout/internal/config"
)

// Freshness buckets for a message age.
const (
	FreshnessHot   = "hot"
	FreshnessWarm  = "warm"
	FreshnessCold  = "cold"
	FreshnessStale = "stale"
)

// ChatMessage is one text message with the metadata needed to cite it in a
// prompt or a lead card: permalink, freshness bucket, and a human-readable
// age. Corpus messages carry no freshness fields. The JSON field names are
// stable because candidates are persisted as raw lead payloads.
type ChatMessage struct {
	MessageID    int64     `json:"message_id"`
	Text         string    `json:"text"`
	Date         time.Time `json:"date"`
	ChatUsername string    `json:"chat_username"`
	ChatID       int64     `json:"chat_id"`
	Public       bool      `json:"is_public"`
	Link         string    `json:"link"`
	Freshness    string    `json:"freshness,omitempty"`
	AgeLabel     string    `json:"age_display,omitempty"`
}

// Candidate aggregates one chat member's recent activity. Candidates are
// built fresh on every run and never persisted directly; an accepted one is
// embedded into the lead record as a raw payload.
type Candidate struct {
	UserID             int64          `json:"user_id"`
	Username           string         `json:"username"`
	FirstName          string         `json:"first_name"`
	LastName           string         `json:"last_name"`
	Bio                string         `json:"bio"`
	HasChannel         bool           `json:"has_channel"`
	ChannelRef         string         `json:"channel_username"`
	SourceChat         string         `json:"source_chat"`
	SourceChatUsername string         `json:"source_chat_username"`
	SourceChatID       int64          `json:"source_chat_id"`
	SourceChatPublic   bool           `json:"source_chat_is_public"`
	MessageCount       int            `json:"messages_in_chat"`
	Messages           []ChatMessage  `json:"messages_with_metadata"`
	HasFreshMessage    bool           `json:"has_fresh_message"`
	Screening          map[string]any `json:"batch_analysis_data,omitempty"`
}

// Freshness buckets a message by its age at the given reference time.
func Freshness(date, now time.Time) string {
	if date.IsZero() {
		return FreshnessStale
	}
	days := daysBetween(date, now)
	switch {
	case days < config.FreshnessHotDays:
		return FreshnessHot
	case days < config.FreshnessWarmDays:
		return FreshnessWarm
	case days < config.FreshnessColdDays:
		return FreshnessCold
	}
	return FreshnessStale
}

// AgeLabel renders a message age the way lead cards and prompts show it.
func AgeLabel(date, now time.Time) string {
	if date.IsZero() {
		return "дата неизвестна"
	}
	days := daysBetween(date, now)
	switch {
	case days == 0:
		return "сегодня"
	case days == 1:
		return "вчера"
	case days < 7:
		return fmt.Sprintf("%d дн. назад", days)
	case days < 14:
		return "неделю назад"
	case days < 30:
		return fmt.Sprintf("%d нед. назад", days/7)
	}
	return "больше месяца назад"
}

func daysBetween(date, now time.Time) int {
	return int(now.Sub(date).Hours() / 24)
}

// MessageLink builds a t.me permalink. Public chats link by username;
// private chats link by numeric id with the internal "100" channel prefix
// stripped.
func MessageLink(chatUsername string, chatID, messageID int64, public bool) string {
	if public && chatUsername != "" {
		return fmt.Sprintf("t.me/%s/%d", strings.TrimLeft(chatUsername, "@"), messageID)
	}
	if chatID != 0 {
		id := strings.TrimPrefix(strconv.FormatInt(chatID, 10), "-")
		id = strings.TrimPrefix(id, "100")
		return fmt.Sprintf("t.me/c/%s/%d", id, messageID)
	}
	return ""
}

// A handle counts only when it is not glued to a preceding word character,
// so "text@handle" and email addresses do not match.
var (
	bioHandleRe = regexp.MustCompile(`(?:^|[^\p{L}\p{N}_])(@[A-Za-z0-9_]{5,32})`)
	bioLinkRe   = regexp.MustCompile(`t\.me/([A-Za-z0-9_]{5,32})`)
)

// ChannelFromBio finds a personal channel reference in a user bio: an
// @handle or a t.me link. Returns the reference as written, or "".
func ChannelFromBio(bio string) string {
	if bio == "" {
		return ""
	}
	if m := bioHandleRe.FindStringSubmatch(bio); m != nil {
		return m[1]
	}
	if m := bioLinkRe.FindStringSubmatch(bio); m != nil {
		return "t.me/" + m[1]
	}
	return ""
}
