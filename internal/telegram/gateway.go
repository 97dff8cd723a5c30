package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/edgard/leadscout/internal/config"
)

// Fallback when the gateway rate-limits without telling us for how long.
const defaultFloodWaitSeconds = 60

// GatewayClient implements Client over the HTTP/JSON API of the MTProto
// gateway sidecar. A token-bucket limiter paces requests below the
// randomized safety delays applied by callers.
type GatewayClient struct {
	baseURL string
	token   string
	session string
	hc      *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ Client = (*GatewayClient)(nil)

// NewGatewayClient creates a gateway-backed transport from configuration.
func NewGatewayClient(cfg config.GatewayConfig, logger *slog.Logger) *GatewayClient {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &GatewayClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		session: cfg.Session,
		hc:      &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:  logger.With("component", "telegram"),
	}
}

type wireAccount struct {
	ID         int64  `json:"id"`
	Username   string `json:"username"`
	FirstName  string `json:"first_name"`
	Phone      string `json:"phone"`
	Authorized bool   `json:"authorized"`
}

type wireChat struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Username    string `json:"username"`
	Public      bool   `json:"public"`
	MemberCount int64  `json:"member_count"`
}

type wireMessage struct {
	ID       int64  `json:"id"`
	ChatID   int64  `json:"chat_id"`
	SenderID int64  `json:"sender_id"`
	Text     string `json:"text"`
	Date     int64  `json:"date"`
}

type wireUser struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Bot       bool   `json:"bot"`
	Deleted   bool   `json:"deleted"`
	About     string `json:"about"`
}

type wirePeer struct {
	Kind        string `json:"kind"`
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Username    string `json:"username"`
	About       string `json:"about"`
	MemberCount int64  `json:"member_count"`
}

type wirePost struct {
	ID    int64  `json:"id"`
	Date  int64  `json:"date"`
	Text  string `json:"text"`
	Views int64  `json:"views"`
}

// Me returns the authorized account behind the session, or ErrUnauthorized
// when the gateway reports a signed-out session.
func (c *GatewayClient) Me(ctx context.Context) (*Account, error) {
	var w wireAccount
	if err := c.get(ctx, "/v1/me", nil, &w); err != nil {
		return nil, err
	}
	if !w.Authorized {
		return nil, ErrUnauthorized
	}
	return &Account{ID: w.ID, Username: w.Username, FirstName: w.FirstName, Phone: w.Phone}, nil
}

// ResolveChat resolves a chat reference to a scannable chat.
func (c *GatewayClient) ResolveChat(ctx context.Context, ref string) (*Chat, error) {
	if ref == "" {
		return nil, fmt.Errorf("chat reference cannot be empty")
	}
	var w wireChat
	q := url.Values{"ref": {ref}}
	if err := c.get(ctx, "/v1/chats/resolve", q, &w); err != nil {
		return nil, err
	}
	return &Chat{
		ID:          w.ID,
		Title:       w.Title,
		Username:    w.Username,
		Public:      w.Public,
		MemberCount: w.MemberCount,
	}, nil
}

// History returns up to limit messages of a chat, newest first, starting
// strictly before offsetID (0 means from the latest message).
func (c *GatewayClient) History(ctx context.Context, chatID int64, offsetID int64, limit int) ([]Message, error) {
	if chatID == 0 {
		return nil, fmt.Errorf("chat id cannot be zero")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("history limit must be positive")
	}

	q := url.Values{
		"offset_id": {strconv.FormatInt(offsetID, 10)},
		"limit":     {strconv.Itoa(limit)},
	}
	var ws []wireMessage
	if err := c.get(ctx, fmt.Sprintf("/v1/chats/%d/history", chatID), q, &ws); err != nil {
		return nil, err
	}

	messages := make([]Message, 0, len(ws))
	for _, w := range ws {
		messages = append(messages, Message{
			ID:       w.ID,
			ChatID:   w.ChatID,
			SenderID: w.SenderID,
			Text:     w.Text,
			Date:     time.Unix(w.Date, 0).UTC(),
		})
	}
	return messages, nil
}

// User returns the lightweight record of one user.
func (c *GatewayClient) User(ctx context.Context, userID int64) (*User, error) {
	if userID == 0 {
		return nil, fmt.Errorf("user id cannot be zero")
	}
	var w wireUser
	if err := c.get(ctx, fmt.Sprintf("/v1/users/%d", userID), nil, &w); err != nil {
		return nil, err
	}
	return &User{
		ID:        w.ID,
		Username:  w.Username,
		FirstName: w.FirstName,
		LastName:  w.LastName,
		Bot:       w.Bot,
		Deleted:   w.Deleted,
	}, nil
}

// UserProfile returns the full profile of one user including the bio.
func (c *GatewayClient) UserProfile(ctx context.Context, userID int64) (*Profile, error) {
	if userID == 0 {
		return nil, fmt.Errorf("user id cannot be zero")
	}
	var w wireUser
	if err := c.get(ctx, fmt.Sprintf("/v1/users/%d/full", userID), nil, &w); err != nil {
		return nil, err
	}
	return &Profile{
		User: User{
			ID:        w.ID,
			Username:  w.Username,
			FirstName: w.FirstName,
			LastName:  w.LastName,
			Bot:       w.Bot,
			Deleted:   w.Deleted,
		},
		About: w.About,
	}, nil
}

// ResolvePeer resolves a public handle to a channel or user.
func (c *GatewayClient) ResolvePeer(ctx context.Context, ref string) (*Peer, error) {
	if ref == "" {
		return nil, fmt.Errorf("peer reference cannot be empty")
	}
	var w wirePeer
	q := url.Values{"ref": {ref}}
	if err := c.get(ctx, "/v1/peers/resolve", q, &w); err != nil {
		return nil, err
	}
	return &Peer{
		Kind:        w.Kind,
		ID:          w.ID,
		Title:       w.Title,
		Username:    w.Username,
		About:       w.About,
		MemberCount: w.MemberCount,
	}, nil
}

// ChannelPosts returns recent posts of a channel, newest first.
func (c *GatewayClient) ChannelPosts(ctx context.Context, channelID int64, limit int) ([]Post, error) {
	if channelID == 0 {
		return nil, fmt.Errorf("channel id cannot be zero")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("posts limit must be positive")
	}

	q := url.Values{"limit": {strconv.Itoa(limit)}}
	var ws []wirePost
	if err := c.get(ctx, fmt.Sprintf("/v1/channels/%d/posts", channelID), q, &ws); err != nil {
		return nil, err
	}

	posts := make([]Post, 0, len(ws))
	for _, w := range ws {
		posts = append(posts, Post{
			ID:    w.ID,
			Date:  time.Unix(w.Date, 0).UTC(),
			Text:  w.Text,
			Views: w.Views,
		})
	}
	return posts, nil
}

// get performs a paced JSON GET against the gateway and decodes the response
// into out when it is non-nil.
func (c *GatewayClient) get(ctx context.Context, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build gateway request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Session", c.session)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request %s failed: %w", path, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Error closing gateway response body", "path", path, "error", closeErr)
		}
	}()

	if err := c.checkStatus(resp, path); err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode gateway response for %s: %w", path, err)
	}
	return nil
}

// checkStatus maps gateway HTTP failures to the transport error taxonomy.
func (c *GatewayClient) checkStatus(resp *http.Response, path string) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil

	case resp.StatusCode == http.StatusUnauthorized:
		c.logger.Warn("Gateway session unauthorized", "path", path)
		return ErrUnauthorized

	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound

	case resp.StatusCode == http.StatusTooManyRequests:
		seconds := retryAfterSeconds(resp)
		c.logger.Warn("Gateway flood wait", "path", path, "seconds", seconds)
		return &FloodWaitError{Seconds: seconds}

	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway %s returned status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

// retryAfterSeconds extracts the wait from the Retry-After header, falling
// back to the retry_after body field and then to a conservative default.
func retryAfterSeconds(resp *http.Response) int {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}

	var payload struct {
		RetryAfter int `json:"retry_after"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.RetryAfter > 0 {
		return payload.RetryAfter
	}
	return defaultFloodWaitSeconds
}
