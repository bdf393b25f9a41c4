package cmd

import (
	"log/slog"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/mailsweep/mailsweep/internal/classify"
	"github.com/mailsweep/mailsweep/internal/config"
	"github.com/mailsweep/mailsweep/internal/creds"
	"github.com/mailsweep/mailsweep/internal/pipeline"
	"github.com/mailsweep/mailsweep/internal/server"
	"github.com/mailsweep/mailsweep/internal/token"
)

// appDeps is the wired object graph shared by the serve and clean commands.
type appDeps struct {
	store  creds.Store
	tokens *token.Manager
	runner *pipeline.Runner
}

// newLogger builds the process-wide structured logger. The server emits
// JSON for log shippers; the CLI stays human-readable.
func newLogger(debug, jsonOutput bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if jsonOutput {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// buildDeps wires credentials, token refresh, classification and the
// pipeline from configuration.
func buildDeps(cfg *config.Config, logger *slog.Logger) (*appDeps, error) {
	cipher, err := creds.NewCipher(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}

	credsPath := cfg.CredentialsFile
	if credsPath == "" {
		credsPath, err = creds.DefaultCredentialsPath()
		if err != nil {
			return nil, err
		}
	}
	store := creds.NewFileStore(credsPath, cipher, logger)

	oauthConfig := &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		Scopes:       server.OAuthScopes,
		Endpoint:     google.Endpoint,
	}
	tokens := token.NewManager(store, oauthConfig, logger)

	chat := classify.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL, logger)
	engine := classify.NewEngine(chat, logger)

	runner := pipeline.NewRunner(tokens, pipeline.NewGmailMailboxFactory(logger), engine, logger)

	return &appDeps{
		store:  store,
		tokens: tokens,
		runner: runner,
	}, nil
}
