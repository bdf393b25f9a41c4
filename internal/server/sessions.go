package server

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/mailsweep/mailsweep/internal/logging"
)

const (
	// DefaultSessionTimeout is how long a session survives without activity.
	DefaultSessionTimeout = 24 * time.Hour

	// sessionCleanupInterval is how often expired sessions are swept.
	sessionCleanupInterval = 10 * time.Minute
)

// sessionInfo tracks session metadata for cleanup.
type sessionInfo struct {
	email      string
	lastAccess time.Time
}

// SessionManager issues opaque session IDs after a successful consent flow
// and maps them back to the user's email on later requests. Sessions expire
// after a period of inactivity and are swept by a background goroutine.
type SessionManager struct {
	sessions       map[string]*sessionInfo
	mu             sync.RWMutex
	cleanupTicker  *time.Ticker
	cleanupDone    chan struct{}
	sessionTimeout time.Duration
	logger         *slog.Logger
}

// NewSessionManager creates a session manager with the default timeout.
func NewSessionManager(logger *slog.Logger) *SessionManager {
	return NewSessionManagerWithTimeout(DefaultSessionTimeout, logger)
}

// NewSessionManagerWithTimeout creates a session manager with a custom
// inactivity timeout and starts the cleanup goroutine.
func NewSessionManagerWithTimeout(timeout time.Duration, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &SessionManager{
		sessions:       make(map[string]*sessionInfo),
		cleanupTicker:  time.NewTicker(sessionCleanupInterval),
		cleanupDone:    make(chan struct{}),
		sessionTimeout: timeout,
		logger:         logging.WithComponent(logger, "sessions"),
	}

	go m.cleanupExpiredSessions()

	return m
}

// Create issues a new session for the given email and returns its ID.
func (m *SessionManager) Create(email string) (string, error) {
	id, err := newSessionID()
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.sessions[id] = &sessionInfo{
		email:      email,
		lastAccess: time.Now(),
	}
	m.mu.Unlock()

	return id, nil
}

// Lookup returns the email for a session ID and refreshes its last-access
// time. The second return value reports whether the session exists.
func (m *SessionManager) Lookup(sessionID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.sessions[sessionID]
	if !ok {
		return "", false
	}
	info.lastAccess = time.Now()
	return info.email, true
}

// Remove deletes a session. Missing sessions are ignored.
func (m *SessionManager) Remove(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// Len returns the number of active sessions.
func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Stop stops the cleanup goroutine. Call during server shutdown.
func (m *SessionManager) Stop() {
	m.cleanupTicker.Stop()
	close(m.cleanupDone)
}

// cleanupExpiredSessions periodically removes sessions past the timeout.
func (m *SessionManager) cleanupExpiredSessions() {
	for {
		select {
		case <-m.cleanupTicker.C:
			m.removeExpired()
		case <-m.cleanupDone:
			return
		}
	}
}

func (m *SessionManager) removeExpired() {
	cutoff := time.Now().Add(-m.sessionTimeout)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, info := range m.sessions {
		if info.lastAccess.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}

	if removed > 0 {
		m.logger.Debug("removed expired sessions",
			logging.Count(removed),
			slog.Int("remaining", len(m.sessions)),
		)
	}
}

// newSessionID returns a 32-byte random hex string.
func newSessionID() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
