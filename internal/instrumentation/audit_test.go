package instrumentation

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func auditBuffer() (*bytes.Buffer, *slog.Logger) {
	var buf bytes.Buffer
	return &buf, slog.New(slog.NewJSONHandler(&buf, nil))
}

func TestRunAuditComplete(t *testing.T) {
	ra := NewRunAudit("clean").
		WithUser("jane@example.com").
		WithRun("run-1", 50).
		WithOutcome(48, 45)
	ra.Complete(true, nil)

	assert.True(t, ra.Success)
	assert.Empty(t, ra.Error)
	assert.Equal(t, StatusSuccess, ra.Status())
	assert.Equal(t, "example.com", ra.UserDomain())
	assert.NotZero(t, ra.Duration)
}

func TestRunAuditCompleteWithError(t *testing.T) {
	ra := NewRunAudit("clean").WithUser("jane@example.com")
	ra.Complete(false, errors.New("refresh failed"))

	assert.False(t, ra.Success)
	assert.Equal(t, "refresh failed", ra.Error)
	assert.Equal(t, StatusError, ra.Status())
}

func TestAuditLoggerAnonymizesByDefault(t *testing.T) {
	buf, logger := auditBuffer()
	al := NewAuditLogger(logger, AuditLoggingConfig{Enabled: true, IncludePII: false})

	ra := NewRunAudit("clean").WithUser("jane@example.com").WithRun("run-1", 10)
	al.LogRun(ra.Complete(true, nil))

	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, "example.com")
	assert.NotContains(t, out, "jane@example.com")
	assert.Contains(t, out, "run-1")
}

func TestAuditLoggerIncludesPIIWhenConfigured(t *testing.T) {
	buf, logger := auditBuffer()
	al := NewAuditLogger(logger, AuditLoggingConfig{Enabled: true, IncludePII: true})

	ra := NewRunAudit("auth_callback").WithUser("jane@example.com")
	al.LogRun(ra.Complete(true, nil))

	assert.Contains(t, buf.String(), "jane@example.com")
}

func TestAuditLoggerDisabled(t *testing.T) {
	buf, logger := auditBuffer()
	al := NewAuditLogger(logger, AuditLoggingConfig{Enabled: false})

	al.LogRun(NewRunAudit("clean").Complete(true, nil))

	assert.Empty(t, buf.String())
}

func TestAuditLoggerFailureLogsAtWarn(t *testing.T) {
	buf, logger := auditBuffer()
	al := NewAuditLogger(logger, AuditLoggingConfig{Enabled: true})

	ra := NewRunAudit("clean").WithUser("jane@example.com")
	al.LogRun(ra.Complete(false, errors.New("boom")))

	out := buf.String()
	assert.Contains(t, out, "WARN")
	assert.Contains(t, out, "boom")
}
