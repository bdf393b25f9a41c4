package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/mailsweep/mailsweep/internal/config"
	"github.com/mailsweep/mailsweep/internal/creds"
	"github.com/mailsweep/mailsweep/internal/instrumentation"
	"github.com/mailsweep/mailsweep/internal/logging"
)

const (
	// SessionCookieName is the cookie carrying the session ID.
	SessionCookieName = "mailsweep_session"

	// stateCookieName carries the CSRF state between login and callback.
	stateCookieName = "oauth_state"

	// userinfoURL is Google's endpoint for resolving the authorized email.
	userinfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
)

// OAuthScopes are the scopes requested at consent. Modify scope is needed
// to create labels and relabel messages.
var OAuthScopes = []string{
	"openid",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
	gmailapi.GmailModifyScope,
}

// AuthHandler implements the Google consent flow: login redirect, callback
// exchange, session introspection and logout.
type AuthHandler struct {
	oauthConfig *oauth2.Config
	store       creds.Store
	sessions    *SessionManager
	frontendURL string
	logger      *slog.Logger
	metrics     *instrumentation.Metrics
	httpClient  *http.Client
	userinfoURL string
}

// NewAuthHandler creates the auth handler from the service configuration.
func NewAuthHandler(cfg *config.Config, store creds.Store, sessions *SessionManager, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
			Scopes:       OAuthScopes,
			Endpoint:     google.Endpoint,
		},
		store:       store,
		sessions:    sessions,
		frontendURL: cfg.FrontendURL,
		logger:      logging.WithComponent(logger, "auth"),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		userinfoURL: userinfoURL,
	}
}

// WithMetrics attaches instrumentation and returns the handler.
func (h *AuthHandler) WithMetrics(m *instrumentation.Metrics) *AuthHandler {
	h.metrics = m
	return h
}

// HandleLogin starts the consent flow. Offline access with a forced consent
// prompt ensures Google returns a refresh token even on re-authorization.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := newStateToken()
	if err != nil {
		h.logger.Error("failed to generate state token", logging.Err(err))
		writeError(w, http.StatusInternalServerError, "failed to start authorization")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	authURL := h.oauthConfig.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)

	http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
}

// HandleCallback finishes the consent flow: it verifies the CSRF state,
// exchanges the code, resolves the user's email, stores the credential and
// issues a session before redirecting back to the frontend.
func (h *AuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Warn("consent denied", slog.String("oauth_error", errParam))
		h.recordAuth(r.Context(), instrumentation.OAuthResultFailure)
		h.redirectFrontend(w, r, false, "", errParam)
		return
	}

	state := r.URL.Query().Get("state")
	cookie, err := r.Cookie(stateCookieName)
	if err != nil || state == "" || cookie.Value != state {
		h.logger.Warn("state mismatch on callback")
		h.recordAuth(r.Context(), instrumentation.OAuthResultFailure)
		writeError(w, http.StatusBadRequest, "invalid state parameter")
		return
	}
	clearCookie(w, stateCookieName)

	code := r.URL.Query().Get("code")
	if code == "" {
		h.recordAuth(r.Context(), instrumentation.OAuthResultFailure)
		writeError(w, http.StatusBadRequest, "missing authorization code")
		return
	}

	token, err := h.oauthConfig.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("code exchange failed", logging.Err(err))
		h.recordAuth(r.Context(), instrumentation.OAuthResultFailure)
		h.redirectFrontend(w, r, false, "", "exchange_failed")
		return
	}

	email, err := h.fetchEmail(r.Context(), token.AccessToken)
	if err != nil {
		h.logger.Error("failed to resolve user email", logging.Err(err))
		h.recordAuth(r.Context(), instrumentation.OAuthResultFailure)
		h.redirectFrontend(w, r, false, "", "userinfo_failed")
		return
	}

	cred := &creds.Credential{
		UserID:       email,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
	if err := h.store.Put(r.Context(), cred); err != nil {
		h.logger.Error("failed to store credential", logging.Err(err), logging.UserHash(email))
		h.recordAuth(r.Context(), instrumentation.OAuthResultFailure)
		h.redirectFrontend(w, r, false, "", "storage_failed")
		return
	}

	sessionID, err := h.sessions.Create(email)
	if err != nil {
		h.logger.Error("failed to create session", logging.Err(err))
		h.recordAuth(r.Context(), instrumentation.OAuthResultFailure)
		h.redirectFrontend(w, r, false, "", "session_failed")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(h.sessions.sessionTimeout.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	h.logger.Info("user authorized",
		logging.UserHash(email),
		logging.Status(logging.StatusSuccess),
		slog.Bool("has_refresh_token", token.RefreshToken != ""),
	)
	h.recordAuth(r.Context(), instrumentation.OAuthResultSuccess)

	h.redirectFrontend(w, r, true, email, "")
}

// HandleMe reports whether the request carries a valid session.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	email, ok := h.sessionEmail(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"authenticated": false,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"email":         email,
	})
}

// HandleLogout removes the session. Stored Google credentials are kept so
// a later login does not require a fresh consent.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		h.sessions.Remove(cookie.Value)
	}
	clearCookie(w, SessionCookieName)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// sessionEmail resolves the email behind the request's session cookie.
func (h *AuthHandler) sessionEmail(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return "", false
	}
	return h.sessions.Lookup(cookie.Value)
}

// fetchEmail asks Google's userinfo endpoint which account authorized us.
func (h *AuthHandler) fetchEmail(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.userinfoURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("userinfo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", fmt.Errorf("userinfo returned status %d: %s", resp.StatusCode, string(body))
	}

	var info struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("failed to decode userinfo response: %w", err)
	}
	if info.Email == "" {
		return "", fmt.Errorf("userinfo response contained no email")
	}
	return info.Email, nil
}

// redirectFrontend sends the browser back to the frontend callback page.
func (h *AuthHandler) redirectFrontend(w http.ResponseWriter, r *http.Request, success bool, email, errCode string) {
	q := url.Values{}
	if success {
		q.Set("success", "true")
		q.Set("email", email)
	} else {
		q.Set("success", "false")
		if errCode != "" {
			q.Set("error", errCode)
		}
	}
	http.Redirect(w, r, h.frontendURL+"/auth/callback?"+q.Encode(), http.StatusTemporaryRedirect)
}

func (h *AuthHandler) recordAuth(ctx context.Context, result string) {
	h.metrics.RecordOAuthAuth(ctx, result)
}

// newStateToken returns a 16-byte random hex string.
func newStateToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}
