package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionManager_CreateAndLookup(t *testing.T) {
	m := NewSessionManager(nil)
	defer m.Stop()

	id, err := m.Create("user@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	email, ok := m.Lookup(id)
	assert.True(t, ok)
	assert.Equal(t, "user@example.com", email)
	assert.Equal(t, 1, m.Len())
}

func TestSessionManager_IDsAreUnique(t *testing.T) {
	m := NewSessionManager(nil)
	defer m.Stop()

	a, err := m.Create("user@example.com")
	require.NoError(t, err)
	b, err := m.Create("user@example.com")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, m.Len())
}

func TestSessionManager_LookupUnknown(t *testing.T) {
	m := NewSessionManager(nil)
	defer m.Stop()

	email, ok := m.Lookup("nope")
	assert.False(t, ok)
	assert.Empty(t, email)
}

func TestSessionManager_Remove(t *testing.T) {
	m := NewSessionManager(nil)
	defer m.Stop()

	id, err := m.Create("user@example.com")
	require.NoError(t, err)

	m.Remove(id)

	_, ok := m.Lookup(id)
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())

	// Removing twice is harmless.
	m.Remove(id)
}

func TestSessionManager_ExpiredSessionsAreSwept(t *testing.T) {
	m := NewSessionManagerWithTimeout(10*time.Millisecond, nil)
	defer m.Stop()

	id, err := m.Create("user@example.com")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	m.removeExpired()

	_, ok := m.Lookup(id)
	assert.False(t, ok)
}

func TestSessionManager_LookupRefreshesActivity(t *testing.T) {
	m := NewSessionManagerWithTimeout(50*time.Millisecond, nil)
	defer m.Stop()

	id, err := m.Create("user@example.com")
	require.NoError(t, err)

	// Keep the session warm past its original deadline.
	time.Sleep(30 * time.Millisecond)
	_, ok := m.Lookup(id)
	require.True(t, ok)
	time.Sleep(30 * time.Millisecond)

	m.removeExpired()

	_, ok = m.Lookup(id)
	assert.True(t, ok)
}
