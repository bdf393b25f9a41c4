package creds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mailsweep/mailsweep/internal/logging"
)

// ErrNotFound is returned when no credential exists for a user.
var ErrNotFound = errors.New("credential not found")

// Store persists user credentials keyed by user email.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the credential for a user with token fields decrypted.
	// Returns ErrNotFound when the user has never authorized.
	Get(ctx context.Context, userID string) (*Credential, error)

	// Put stores a credential, encrypting token fields at rest.
	// The access token and expiry are replaced atomically.
	Put(ctx context.Context, cred *Credential) error
}

// MemoryStore is an in-memory credential store. Token fields are held
// encrypted; plaintext exists only in the Credential values passed in and out.
type MemoryStore struct {
	mu     sync.RWMutex
	users  map[string]*Credential
	cipher *Cipher
	logger *slog.Logger
}

// NewMemoryStore creates a credential store using the given cipher.
func NewMemoryStore(cipher *Cipher, logger *slog.Logger) *MemoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{
		users:  make(map[string]*Credential),
		cipher: cipher,
		logger: logging.WithComponent(logger, "creds"),
	}
}

// Get returns the decrypted credential for a user.
func (s *MemoryStore) Get(_ context.Context, userID string) (*Credential, error) {
	if userID == "" {
		return nil, fmt.Errorf("userID cannot be empty")
	}

	s.mu.RLock()
	stored, ok := s.users[userID]
	s.mu.RUnlock()
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
		UserID:       stored.UserID,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    stored.ExpiresAt,
	}, nil
}

// Put stores a credential with token fields encrypted.
func (s *MemoryStore) Put(_ context.Context, cred *Credential) error {
	if cred == nil {
		return fmt.Errorf("credential cannot be nil")
	}
	if cred.UserID == "" {
		return fmt.Errorf("credential userID cannot be empty")
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
	s.users[cred.UserID] = &Credential{
		UserID:       cred.UserID,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    cred.ExpiresAt,
	}
	s.mu.Unlock()

	s.logger.Debug("stored credential",
		logging.UserHash(cred.UserID),
		slog.Time("expires_at", cred.ExpiresAt))
	return nil
}
