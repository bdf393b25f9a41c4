package instrumentation

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// RunAudit captures one clean pipeline run for audit logging. The run
// touches and relabels a user's mailbox, so every invocation leaves an
// audit trail.
//
// The UserEmail field contains PII. General operational logs should use
// the domain form; full emails only belong in audit-specific streams with
// access controls.
type RunAudit struct {
	// Operation is the audited operation (clean, auth_login, auth_callback).
	Operation string

	// User identity (from OAuth)
	UserEmail string

	// Run details
	RunID          string
	RequestedCount int
	ActualCount    int
	LabeledCount   int

	// Execution details
	StartTime time.Time
	Duration  time.Duration
	Success   bool
	Error     string

	// Tracing context
	TraceID string
	SpanID  string
}

// NewRunAudit creates a RunAudit with timing started. Call Complete when
// the operation finishes.
func NewRunAudit(operation string) *RunAudit {
	return &RunAudit{
		Operation: operation,
		StartTime: time.Now(),
	}
}

// WithUser sets the user identity.
func (ra *RunAudit) WithUser(email string) *RunAudit {
	ra.UserEmail = email
	return ra
}

// WithRun sets the run identifier and requested count.
func (ra *RunAudit) WithRun(runID string, requested int) *RunAudit {
	ra.RunID = runID
	ra.RequestedCount = requested
	return ra
}

// WithOutcome sets the per-run message counts.
func (ra *RunAudit) WithOutcome(actual, labeled int) *RunAudit {
	ra.ActualCount = actual
	ra.LabeledCount = labeled
	return ra
}

// WithSpanContext extracts trace context from the current span.
func (ra *RunAudit) WithSpanContext(ctx context.Context) *RunAudit {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		ra.TraceID = span.SpanContext().TraceID().String()
		ra.SpanID = span.SpanContext().SpanID().String()
	}
	return ra
}

// Complete marks the operation as finished and records its duration.
func (ra *RunAudit) Complete(success bool, err error) *RunAudit {
	ra.Duration = time.Since(ra.StartTime)
	ra.Success = success
	if err != nil {
		ra.Error = err.Error()
	}
	return ra
}

// UserDomain returns the domain portion of the user's email for
// lower-cardinality logging.
func (ra *RunAudit) UserDomain() string {
	return ExtractUserDomain(ra.UserEmail)
}

// Status returns "success" or "error".
func (ra *RunAudit) Status() string {
	if ra.Success {
		return StatusSuccess
	}
	return StatusError
}

// logAttrs returns the slog attributes for this audit record. includePII
// selects between the full email and the domain form.
func (ra *RunAudit) logAttrs(includePII bool) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("operation", ra.Operation),
		slog.Duration("duration", ra.Duration),
		slog.Bool("success", ra.Success),
	}

	if includePII {
		attrs = append(attrs, slog.String("user", ra.UserEmail))
	} else {
		attrs = append(attrs, slog.String("user_domain", ra.UserDomain()))
	}

	if ra.RunID != "" {
		attrs = append(attrs, slog.String("run_id", ra.RunID))
	}
	if ra.RequestedCount > 0 {
		attrs = append(attrs,
			slog.Int("requested_count", ra.RequestedCount),
			slog.Int("actual_count", ra.ActualCount),
			slog.Int("labeled_count", ra.LabeledCount),
		)
	}
	if ra.TraceID != "" {
		attrs = append(attrs, slog.String("trace_id", ra.TraceID))
	}
	if ra.SpanID != "" {
		attrs = append(attrs, slog.String("span_id", ra.SpanID))
	}
	if ra.Error != "" {
		attrs = append(attrs, slog.String("error", ra.Error))
	}

	return attrs
}

// AuditLogger provides structured audit logging for mailbox-touching
// operations.
type AuditLogger struct {
	logger     *slog.Logger
	includePII bool
	enabled    bool
}

// NewAuditLogger creates an AuditLogger with the given configuration.
// When PII inclusion is off, only domain-based identifiers are logged.
func NewAuditLogger(logger *slog.Logger, config AuditLoggingConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:     logger,
		includePII: config.IncludePII,
		enabled:    config.Enabled,
	}
}

// LogRun logs one completed pipeline run or auth operation.
func (al *AuditLogger) LogRun(ra *RunAudit) {
	if al == nil || !al.enabled {
		return
	}

	attrs := ra.logAttrs(al.includePII)
	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}

	if ra.Success {
		al.logger.Info("run_audit", args...)
	} else {
		al.logger.Warn("run_audit", args...)
	}
}
