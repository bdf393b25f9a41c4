package creds

import (
	"time"
)

// Credential is the stored OAuth material for one user, keyed by email.
// Token fields are plaintext on this struct; the store encrypts them at
// rest and decrypts them on retrieval.
type Credential struct {
	// UserID is the user's email address.
	UserID string

	// AccessToken is the short-lived Google access token.
	AccessToken string

	// RefreshToken is the long-lived refresh token obtained at consent.
	RefreshToken string

	// ExpiresAt is the access token expiry. It is the sole basis for
	// refresh decisions.
	ExpiresAt time.Time
}

// Clone returns a copy of the credential so callers cannot mutate stored state.
func (c *Credential) Clone() *Credential {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}
