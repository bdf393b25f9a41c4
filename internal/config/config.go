package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the runtime configuration for mailsweep.
// All values are read from the environment; a .env file is loaded first
// when present so local development matches production layout.
type Config struct {
	// GoogleClientID is the OAuth2 client id for the Google consent flow.
	GoogleClientID string

	// GoogleClientSecret is the OAuth2 client secret.
	GoogleClientSecret string

	// GoogleRedirectURL is the registered OAuth2 callback URL.
	GoogleRedirectURL string

	// OpenAIAPIKey authenticates calls to the classification provider.
	OpenAIAPIKey string

	// OpenAIModel is the chat model used for classification (default: gpt-4o-mini).
	OpenAIModel string

	// OpenAIBaseURL overrides the chat completions endpoint, mainly for tests
	// and OpenAI-compatible gateways.
	OpenAIBaseURL string

	// EncryptionKey is the base64-encoded 32-byte AES-256 key used to encrypt
	// stored tokens. When empty, tokens are stored unencrypted.
	EncryptionKey []byte

	// CredentialsFile is the path of the credential store file. When empty,
	// the default under the user config directory is used.
	CredentialsFile string

	// ListenAddr is the address for the API server (default: ":8000").
	ListenAddr string

	// FrontendURL is the origin allowed by CORS and the target of the
	// post-consent redirect.
	FrontendURL string

	// MetricsEnabled determines whether the dedicated metrics server starts.
	MetricsEnabled bool

	// MetricsAddr is the address for the metrics server (default: ":9090").
	MetricsAddr string
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged in first, without overriding variables already set.
func Load() (*Config, error) {
	// Missing .env is the normal production case.
	_ = godotenv.Load()

	cfg := &Config{
		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", "http://localhost:8000/auth/google/callback"),
		OpenAIAPIKey:       os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:        getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:      getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		CredentialsFile:    os.Getenv("CREDENTIALS_FILE"),
		ListenAddr:         getEnv("LISTEN_ADDR", ":8000"),
		FrontendURL:        getEnv("FRONTEND_URL", "http://localhost:5173"),
		MetricsEnabled:     getEnvBool("METRICS_ENABLED", true),
		MetricsAddr:        getEnv("METRICS_ADDR", ":9090"),
	}

	if raw := os.Getenv("ENCRYPTION_KEY"); raw != "" {
		key, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("ENCRYPTION_KEY is not valid base64: %w", err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
		}
		cfg.EncryptionKey = key
	}

	return cfg, nil
}

// Validate checks that the configuration is complete enough to serve traffic.
func (c *Config) Validate() error {
	if c.GoogleClientID == "" || c.GoogleClientSecret == "" {
		return fmt.Errorf("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET must be set")
	}
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY must be set")
	}
	return nil
}

// getEnv retrieves an environment variable with a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable with a default value.
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
