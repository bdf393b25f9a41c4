package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/mailsweep/mailsweep/internal/creds"
	"github.com/mailsweep/mailsweep/internal/logging"
)

// Sentinel errors for the two terminal refresh outcomes.
var (
	// ErrAuthExpired means the stored credential cannot produce a valid
	// access token; the user must run the authorization flow again.
	ErrAuthExpired = errors.New("authorization expired")

	// ErrRefreshUnavailable means the token endpoint was unreachable or
	// failing transiently; retries were exhausted.
	ErrRefreshUnavailable = errors.New("token refresh unavailable")
)

const (
	// defaultExpirySkew refreshes tokens slightly before their expiry so a
	// token never expires mid-pipeline.
	defaultExpirySkew = 2 * time.Minute

	defaultMaxAttempts    = 3
	defaultInitialBackoff = 500 * time.Millisecond
)

// Manager ensures a valid access token exists before any provider call.
// Refreshes are deduplicated per user: concurrent callers for the same user
// share one in-flight refresh instead of racing the token endpoint.
type Manager struct {
	store  creds.Store
	oauth  *oauth2.Config
	group  singleflight.Group
	logger *slog.Logger

	// ExpirySkew is subtracted from the stored expiry when deciding
	// whether a refresh is needed.
	ExpirySkew time.Duration

	// MaxAttempts bounds retries against transient token endpoint failures.
	MaxAttempts int

	// InitialBackoff is the delay before the second attempt; it doubles
	// per subsequent attempt.
	InitialBackoff time.Duration

	// now is a test hook for clock control.
	now func() time.Time
}

// NewManager creates a token lifecycle manager backed by the given store.
func NewManager(store creds.Store, oauthConfig *oauth2.Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:          store,
		oauth:          oauthConfig,
		logger:         logging.WithComponent(logger, "token"),
		ExpirySkew:     defaultExpirySkew,
		MaxAttempts:    defaultMaxAttempts,
		InitialBackoff: defaultInitialBackoff,
		now:            time.Now,
	}
}

// AccessToken returns a valid access token for the user, refreshing it via
// the OAuth2 refresh grant when expired. A successful refresh overwrites
// the stored access token and expiry atomically.
func (m *Manager) AccessToken(ctx context.Context, userID string) (string, error) {
	cred, err := m.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, creds.ErrNotFound) {
			return "", fmt.Errorf("no credential for user: %w", ErrAuthExpired)
		}
		return "", fmt.Errorf("failed to load credential: %w", err)
	}

	if m.valid(cred) {
		return cred.AccessToken, nil
	}

	// Single-flight per user: a second pipeline run for the same user
	// awaits the refresh already in progress.
	result, err, _ := m.group.Do(userID, func() (interface{}, error) {
		return m.refresh(ctx, userID)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// valid reports whether the credential's access token is still usable.
func (m *Manager) valid(cred *creds.Credential) bool {
	if cred.AccessToken == "" {
		return false
	}
	return m.now().Before(cred.ExpiresAt.Add(-m.ExpirySkew))
}

// refresh exchanges the refresh token for a new access token and persists it.
func (m *Manager) refresh(ctx context.Context, userID string) (string, error) {
	// Re-read inside the flight: a caller that lost the singleflight race
	// may find the credential already refreshed.
	cred, err := m.store.Get(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to load credential: %w", err)
	}
	if m.valid(cred) {
		return cred.AccessToken, nil
	}

	if cred.RefreshToken == "" {
		return "", fmt.Errorf("no refresh token stored: %w", ErrAuthExpired)
	}

	var lastErr error
	for attempt := 0; attempt < m.MaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := m.InitialBackoff << (attempt - 1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", fmt.Errorf("refresh aborted: %w", ctx.Err())
			}
		}

		src := m.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken})
		tok, err := src.Token()
		if err == nil {
			if err := m.persist(ctx, cred, tok); err != nil {
				return "", err
			}
			m.logger.Info("refreshed access token",
				logging.UserHash(userID),
				slog.Time("expires_at", tok.Expiry))
			return tok.AccessToken, nil
		}

		if isInvalidGrant(err) {
			m.logger.Warn("refresh token rejected",
				logging.UserHash(userID),
				logging.Err(err))
			return "", fmt.Errorf("refresh grant rejected: %w", ErrAuthExpired)
		}

		lastErr = err
		m.logger.Warn("token refresh attempt failed",
			logging.UserHash(userID),
			slog.Int("attempt", attempt+1),
			logging.Err(err))
	}

	return "", fmt.Errorf("%w: %v", ErrRefreshUnavailable, lastErr)
}

// persist overwrites the stored access token and expiry. Google only
// returns a new refresh token on re-consent, so the stored one is kept
// unless the response carries a replacement.
func (m *Manager) persist(ctx context.Context, cred *creds.Credential, tok *oauth2.Token) error {
	updated := cred.Clone()
	updated.AccessToken = tok.AccessToken
	updated.ExpiresAt = tok.Expiry
	if tok.RefreshToken != "" {
		updated.RefreshToken = tok.RefreshToken
	}
	if err := m.store.Put(ctx, updated); err != nil {
		return fmt.Errorf("failed to persist refreshed token: %w", err)
	}
	return nil
}

// isInvalidGrant reports whether a refresh failure is an "invalid_grant"
// class rejection, meaning the refresh token itself is revoked or expired.
// Any 4xx from the token endpoint falls in this class; 5xx and transport
// errors are transient.
func isInvalidGrant(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return false
	}
	if retrieveErr.ErrorCode == "invalid_grant" {
		return true
	}
	if retrieveErr.Response != nil {
		code := retrieveErr.Response.StatusCode
		return code >= 400 && code < 500
	}
	return false
}
