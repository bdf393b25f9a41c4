package creds

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mailsweep/mailsweep/internal/logging"
)

// DefaultCredentialsPath returns the default location of the credentials
// file, under the user's config directory.
func DefaultCredentialsPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve config directory: %w", err)
	}
	return filepath.Join(dir, "mailsweep", "credentials.json"), nil
}

// storedCredential is the on-disk shape of one user's tokens. Token fields
// are ciphertext when encryption is enabled.
type storedCredential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// FileStore persists credentials in a JSON file so consent survives process
// restarts and one-shot CLI runs can reuse tokens obtained by the server.
// Token fields are encrypted at rest when a cipher key is configured.
type FileStore struct {
	mu     sync.Mutex
	path   string
	cipher *Cipher
	logger *slog.Logger
}

// NewFileStore creates a file-backed credential store at path.
func NewFileStore(path string, cipher *Cipher, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{
		path:   path,
		cipher: cipher,
		logger: logging.WithComponent(logger, "creds"),
	}
}

// Get returns the decrypted credential for a user.
func (s *FileStore) Get(_ context.Context, userID string) (*Credential, error) {
	if userID == "" {
		return nil, fmt.Errorf("userID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.load()
	if err != nil {
		return nil, err
	}

	stored, ok := users[userID]
	if !ok {
		return nil, ErrNotFound
	}

	access, err := s.cipher.Decrypt(stored.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	refresh, err := s.cipher.Decrypt(stored.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}

	return &Credential{
		UserID:       userID,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    stored.ExpiresAt,
	}, nil
}

// Put stores a credential with token fields encrypted. The file is written
// atomically via a temp file rename.
func (s *FileStore) Put(_ context.Context, cred *Credential) error {
	if cred == nil || cred.UserID == "" {
		return fmt.Errorf("credential must have a user ID")
	}

	access, err := s.cipher.Encrypt(cred.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refresh, err := s.cipher.Encrypt(cred.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.load()
	if err != nil {
		return err
	}

	users[cred.UserID] = storedCredential{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    cred.ExpiresAt,
	}

	if err := s.save(users); err != nil {
		return err
	}

	s.logger.Debug("credential stored", logging.UserHash(cred.UserID))
	return nil
}

// load reads the credentials file. A missing file is an empty store.
func (s *FileStore) load() (map[string]storedCredential, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return make(map[string]storedCredential), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	users := make(map[string]storedCredential)
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("credentials file is corrupt: %w", err)
	}
	return users, nil
}

func (s *FileStore) save(users map[string]storedCredential) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}

	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write credentials file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace credentials file: %w", err)
	}
	return nil
}
