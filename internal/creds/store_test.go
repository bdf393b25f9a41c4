package creds

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	cipher, err := NewCipher(testKey(t))
	require.NoError(t, err)
	return NewMemoryStore(cipher, nil)
}

func TestStorePutGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	expiry := time.Now().Add(time.Hour).Truncate(time.Second)
	cred := &Credential{
		UserID:       "user@example.com",
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		ExpiresAt:    expiry,
	}

	require.NoError(t, store.Put(ctx, cred))

	got, err := store.Get(ctx, "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", got.UserID)
	assert.Equal(t, "access-token", got.AccessToken)
	assert.Equal(t, "refresh-token", got.RefreshToken)
	assert.Equal(t, expiry, got.ExpiresAt)
}

func TestStoreEncryptsAtRest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &Credential{
		UserID:       "user@example.com",
		AccessToken:  "plaintext-access",
		RefreshToken: "plaintext-refresh",
	}))

	// Reach into the map to verify nothing is stored in plaintext.
	store.mu.RLock()
	stored := store.users["user@example.com"]
	store.mu.RUnlock()

	require.NotNil(t, stored)
	assert.NotEqual(t, "plaintext-access", stored.AccessToken)
	assert.NotEqual(t, "plaintext-refresh", stored.RefreshToken)
}

func TestStoreGetNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStorePutValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	assert.Error(t, store.Put(ctx, nil))
	assert.Error(t, store.Put(ctx, &Credential{}))

	_, err := store.Get(ctx, "")
	assert.Error(t, err)
}

func TestStorePutOverwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &Credential{
		UserID:      "user@example.com",
		AccessToken: "old",
		ExpiresAt:   time.Now(),
	}))
	newExpiry := time.Now().Add(time.Hour)
	require.NoError(t, store.Put(ctx, &Credential{
		UserID:      "user@example.com",
		AccessToken: "new",
		ExpiresAt:   newExpiry,
	}))

	got, err := store.Get(ctx, "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, "new", got.AccessToken)
	assert.WithinDuration(t, newExpiry, got.ExpiresAt, time.Second)
}

func TestStoreConcurrentAccess(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Put(ctx, &Credential{
				UserID:      "user@example.com",
				AccessToken: "token",
			})
			_, _ = store.Get(ctx, "user@example.com")
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, "token", got.AccessToken)
}
