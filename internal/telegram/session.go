package telegram

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
)

// SessionLock guards a gateway user session against concurrent scraping
// processes. Telegram bans accounts that scrape from two places at once, so
// each session takes an exclusive file lock for the duration of a run's
// scraping phase.
type SessionLock struct {
	fl *flock.Flock
}

// NewSessionLock creates a lock for the named session in dir.
func NewSessionLock(dir, session string) *SessionLock {
	name := fmt.Sprintf("leadscout-%s.lock", session)
	return &SessionLock{fl: flock.New(filepath.Join(dir, name))}
}

// Acquire takes the lock, failing immediately when another process holds it.
func (l *SessionLock) Acquire() error {
	ok, err := l.fl.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire session lock %s: %w", l.fl.Path(), err)
	}
	if !ok {
		return fmt.Errorf("session lock %s is held by another process", l.fl.Path())
	}
	return nil
}

// Release drops the lock. Safe to call after a failed Acquire.
func (l *SessionLock) Release() error {
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("failed to release session lock %s: %w", l.fl.Path(), err)
	}
	return nil
}
