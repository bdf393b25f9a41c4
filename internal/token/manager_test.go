package token

import (
	"context"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/mailsweep/mailsweep/internal/creds"
)

// tokenEndpoint is a fake OAuth2 token endpoint with a scriptable handler.
type tokenEndpoint struct {
	srv      *httptest.Server
	requests atomic.Int64
	handler  func(w http.ResponseWriter, r *http.Request)
}

func newTokenEndpoint(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *tokenEndpoint {
	t.Helper()
	te := &tokenEndpoint{handler: handler}
	te.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		te.requests.Add(1)
		te.handler(w, r)
	}))
	t.Cleanup(te.srv.Close)
	return te
}

func (te *tokenEndpoint) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Endpoint: oauth2.Endpoint{
			TokenURL:  te.srv.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func grantSuccess(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"access_token":"new-access","token_type":"Bearer","expires_in":3600}`))
}

func grantInvalid(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`))
}

func grantUnavailable(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusInternalServerError)
}

func newStore(t *testing.T) *creds.MemoryStore {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	cipher, err := creds.NewCipher(key)
	require.NoError(t, err)
	return creds.NewMemoryStore(cipher, nil)
}

func newTestManager(t *testing.T, te *tokenEndpoint, store creds.Store) *Manager {
	t.Helper()
	m := NewManager(store, te.oauthConfig(), nil)
	m.InitialBackoff = time.Millisecond
	return m
}

func seed(t *testing.T, store creds.Store, cred *creds.Credential) {
	t.Helper()
	require.NoError(t, store.Put(context.Background(), cred))
}

func TestAccessTokenStillValid(t *testing.T) {
	te := newTokenEndpoint(t, grantSuccess)
	store := newStore(t)
	m := newTestManager(t, te, store)

	seed(t, store, &creds.Credential{
		UserID:       "user@example.com",
		AccessToken:  "current-access",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
	})

	got, err := m.AccessToken(context.Background(), "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, "current-access", got)
	assert.Zero(t, te.requests.Load(), "no refresh call expected for a valid token")
}

func TestAccessTokenRefreshesExpired(t *testing.T) {
	te := newTokenEndpoint(t, grantSuccess)
	store := newStore(t)
	m := newTestManager(t, te, store)

	seed(t, store, &creds.Credential{
		UserID:       "user@example.com",
		AccessToken:  "stale-access",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(-time.Minute),
	})

	got, err := m.AccessToken(context.Background(), "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, "new-access", got)
	assert.EqualValues(t, 1, te.requests.Load())

	// The stored credential reflects the new token and expiry.
	stored, err := store.Get(context.Background(), "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, "new-access", stored.AccessToken)
	assert.Equal(t, "refresh", stored.RefreshToken, "refresh token survives when not rotated")
	assert.True(t, stored.ExpiresAt.After(time.Now().Add(30*time.Minute)))
}

func TestAccessTokenRefreshesWithinSkew(t *testing.T) {
	te := newTokenEndpoint(t, grantSuccess)
	store := newStore(t)
	m := newTestManager(t, te, store)

	// Expires in one minute but the skew is two: refresh proactively.
	seed(t, store, &creds.Credential{
		UserID:       "user@example.com",
		AccessToken:  "almost-stale",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(time.Minute),
	})

	got, err := m.AccessToken(context.Background(), "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, "new-access", got)
}

func TestAccessTokenInvalidGrant(t *testing.T) {
	te := newTokenEndpoint(t, grantInvalid)
	store := newStore(t)
	m := newTestManager(t, te, store)

	seed(t, store, &creds.Credential{
		UserID:       "user@example.com",
		AccessToken:  "stale",
		RefreshToken: "revoked-refresh",
		ExpiresAt:    time.Now().Add(-time.Minute),
	})

	_, err := m.AccessToken(context.Background(), "user@example.com")
	assert.ErrorIs(t, err, ErrAuthExpired)
	assert.EqualValues(t, 1, te.requests.Load(), "invalid_grant must not be retried")
}

func TestAccessTokenTransientFailure(t *testing.T) {
	te := newTokenEndpoint(t, grantUnavailable)
	store := newStore(t)
	m := newTestManager(t, te, store)

	seed(t, store, &creds.Credential{
		UserID:       "user@example.com",
		AccessToken:  "stale",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(-time.Minute),
	})

	_, err := m.AccessToken(context.Background(), "user@example.com")
	assert.ErrorIs(t, err, ErrRefreshUnavailable)
	assert.EqualValues(t, m.MaxAttempts, te.requests.Load())
}

func TestAccessTokenUnknownUser(t *testing.T) {
	te := newTokenEndpoint(t, grantSuccess)
	m := newTestManager(t, te, newStore(t))

	_, err := m.AccessToken(context.Background(), "stranger@example.com")
	assert.ErrorIs(t, err, ErrAuthExpired)
	assert.Zero(t, te.requests.Load())
}

func TestAccessTokenNoRefreshToken(t *testing.T) {
	te := newTokenEndpoint(t, grantSuccess)
	store := newStore(t)
	m := newTestManager(t, te, store)

	seed(t, store, &creds.Credential{
		UserID:      "user@example.com",
		AccessToken: "stale",
		ExpiresAt:   time.Now().Add(-time.Minute),
	})

	_, err := m.AccessToken(context.Background(), "user@example.com")
	assert.ErrorIs(t, err, ErrAuthExpired)
}

func TestAccessTokenSingleFlight(t *testing.T) {
	te := newTokenEndpoint(t, func(w http.ResponseWriter, r *http.Request) {
		// Hold the request open long enough for all callers to pile up.
		time.Sleep(50 * time.Millisecond)
		grantSuccess(w, r)
	})
	store := newStore(t)
	m := newTestManager(t, te, store)

	seed(t, store, &creds.Credential{
		UserID:       "user@example.com",
		AccessToken:  "stale",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(-time.Minute),
	})

	const callers = 8
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.AccessToken(context.Background(), "user@example.com")
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "new-access", results[i])
	}
	assert.EqualValues(t, 1, te.requests.Load(), "concurrent callers must share one refresh")
}
