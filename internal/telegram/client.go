// Package telegram provides the transport layer for reading Telegram data
// through an MTProto gateway sidecar that holds the user session. All
// scraping policy (delays, retries, early stops) lives above this package;
// the transport only moves data and maps gateway failures to typed errors.
package telegram

import (
	"context"
	"time"
)

// Account is the authorized user behind the gateway session.
type Account struct {
	ID        int64
	Username  string
	FirstName string
	Phone     string
}

// Chat is a resolved group or channel that can be scanned.
type Chat struct {
	ID          int64
	Title       string
	Username    string
	Public      bool
	MemberCount int64
}

// Message is a single chat message as the transport sees it. Sender details
// are fetched separately so callers can cache per-sender lookups.
type Message struct {
	ID       int64
	ChatID   int64
	SenderID int64
	Text     string
	Date     time.Time
}

// User is the lightweight sender record carried with chat history.
type User struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
	Bot       bool
	Deleted   bool
}

// Profile is a full user profile including the bio, which requires an extra
// request per user.
type Profile struct {
	User
	About string
}

// Peer is a resolved public handle. Kind is "channel" or "user".
type Peer struct {
	Kind        string
	ID          int64
	Title       string
	Username    string
	About       string
	MemberCount int64
}

// Post is a single channel post used for enrichment.
type Post struct {
	ID    int64
	Date  time.Time
	Text  string
	Views int64
}

// Peer kinds.
const (
	PeerChannel = "channel"
	PeerUser    = "user"
)

// Client reads Telegram data on behalf of the authorized user session.
// Implementations return *FloodWaitError when the platform imposes a wait
// and ErrUnauthorized when the session is not signed in.
type Client interface {
	// Me returns the authorized account.
	Me(ctx context.Context) (*Account, error)

	// ResolveChat resolves a chat reference: @name, bare name, t.me link,
	// or numeric id.
	ResolveChat(ctx context.Context, ref string) (*Chat, error)

	// History returns up to limit messages of a chat, newest first,
	// starting strictly before offsetID (0 means from the latest).
	History(ctx context.Context, chatID int64, offsetID int64, limit int) ([]Message, error)

	// User returns the lightweight record of one user.
	User(ctx context.Context, userID int64) (*User, error)

	// UserProfile returns the full profile of one user including the bio.
	UserProfile(ctx context.Context, userID int64) (*Profile, error)

	// ResolvePeer resolves a public handle to a channel or user.
	ResolvePeer(ctx context.Context, ref string) (*Peer, error)

	// ChannelPosts returns recent posts of a channel, newest first.
	ChannelPosts(ctx context.Context, channelID int64, limit int) ([]Post, error)
}
