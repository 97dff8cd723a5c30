package telegram

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnauthorized means the gateway session is not signed in. A run cannot
// proceed without an authorized session, so callers treat this as fatal.
var ErrUnauthorized = errors.New("telegram session is not authorized")

// ErrNotFound means the requested peer, chat, or message does not exist or
// is not visible to the session.
var ErrNotFound = errors.New("peer not found")

// FloodWaitError is returned when Telegram imposes a wait before the next
// request may be sent. Seconds carries the wait signaled by the platform.
type FloodWaitError struct {
	Seconds int
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("flood wait for %d seconds", e.Seconds)
}

// Wait returns the signaled pause as a duration.
func (e *FloodWaitError) Wait() time.Duration {
	return time.Duration(e.Seconds) * time.Second
}
