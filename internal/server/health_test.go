package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLivenessHandler(t *testing.T) {
	h := NewHealthChecker(nil)

	rec := httptest.NewRecorder()
	h.LivenessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, healthStatusOK, body.Status)
}

func TestReadinessHandler(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		h := NewHealthChecker(nil)

		rec := httptest.NewRecorder()
		h.ReadinessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		require.Equal(t, http.StatusOK, rec.Code)

		var body HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, healthStatusOK, body.Status)
		assert.Equal(t, healthStatusOK, body.Checks["ready"])
	})

	t.Run("not ready", func(t *testing.T) {
		h := NewHealthChecker(nil)
		h.SetReady(false)

		rec := httptest.NewRecorder()
		h.ReadinessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		require.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var body HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, healthStatusNotReady, body.Status)
	})

	t.Run("shutting down", func(t *testing.T) {
		sc := NewServerContext(context.Background())
		h := NewHealthChecker(sc)
		sc.Shutdown()

		rec := httptest.NewRecorder()
		h.ReadinessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		require.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var body HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, healthStatusShuttingDown, body.Checks["shutdown"])
	})
}

func TestDetailedHealthHandler(t *testing.T) {
	sessions := NewSessionManager(nil)
	defer sessions.Stop()
	_, err := sessions.Create("a@example.com")
	require.NoError(t, err)
	_, err = sessions.Create("b@example.com")
	require.NoError(t, err)

	h := NewHealthChecker(nil).WithSessions(sessions)

	rec := httptest.NewRecorder()
	h.DetailedHealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz/detailed", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body DetailedHealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, healthStatusOK, body.Status)
	assert.Equal(t, 2, body.Sessions)
	assert.NotEmpty(t, body.Uptime)
}

func TestServerContext_Shutdown(t *testing.T) {
	sc := NewServerContext(context.Background())
	require.False(t, sc.IsShutdown())

	sc.Shutdown()
	assert.True(t, sc.IsShutdown())
	assert.Error(t, sc.Context().Err())

	// Idempotent.
	sc.Shutdown()
	assert.True(t, sc.IsShutdown())
}
