package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mailsweep/mailsweep/internal/classify"
	"github.com/mailsweep/mailsweep/internal/gmail"
	"github.com/mailsweep/mailsweep/internal/instrumentation"
	"github.com/mailsweep/mailsweep/internal/logging"
	"github.com/mailsweep/mailsweep/internal/token"
)

// Count bounds for one clean run.
const (
	MinCount = 1
	MaxCount = 100
)

var (
	// ErrInvalidCount is returned when the requested count is outside
	// [MinCount, MaxCount]. No external call is made in that case.
	ErrInvalidCount = errors.New("count must be between 1 and 100")

	// ErrNoMessages is returned when the mailbox has no messages to
	// process. The HTTP layer maps it to an empty completed result.
	ErrNoMessages = errors.New("no messages found in mailbox")
)

// Pipeline states, tracked for logging and metrics.
const (
	StateIdle           = "idle"
	StateFetchingTokens = "fetching_tokens"
	StateFetchingEmails = "fetching_messages"
	StateClassifying    = "classifying"
	StateLabeling       = "labeling"
	StateDone           = "done"
	StateFailed         = "failed"
)

// TokenProvider yields a valid access token for a user.
type TokenProvider interface {
	AccessToken(ctx context.Context, userID string) (string, error)
}

// Fetcher retrieves recent normalized messages.
type Fetcher interface {
	FetchRecent(ctx context.Context, count int) ([]*gmail.MessageRecord, error)
}

// Labeler applies category labels to messages.
type Labeler interface {
	ApplyLabels(ctx context.Context, assignments []gmail.LabelAssignment) (*gmail.ApplyResult, error)
}

// Classifier produces one classification per input email.
type Classifier interface {
	Classify(ctx context.Context, emails []classify.Email) ([]classify.Classification, error)
}

// MailboxFactory builds a per-user fetcher and labeler from an access
// token. The production implementation constructs a Gmail client; tests
// return fakes.
type MailboxFactory func(ctx context.Context, userID, accessToken string) (Fetcher, Labeler, error)

// LabelingResult reports how labeling went across the run.
type LabelingResult struct {
	SuccessCount int `json:"success_count"`
	FailedCount  int `json:"failed_count"`
}

// Result is the outcome of one clean run. This shape is the contract the
// frontend depends on.
type Result struct {
	RunID           string                    `json:"run_id"`
	RequestedCount  int                       `json:"requested_count"`
	ActualCount     int                       `json:"actual_count"`
	Classifications []classify.Classification `json:"classifications"`
	Summary         map[string]int            `json:"summary"`
	Labeling        LabelingResult            `json:"labeling"`
}

// Runner sequences one clean run: token, fetch, classify, label.
type Runner struct {
	tokens     TokenProvider
	mailbox    MailboxFactory
	classifier Classifier
	logger     *slog.Logger
	metrics    *instrumentation.Metrics
	audit      *instrumentation.AuditLogger
}

// NewRunner creates a pipeline runner. metrics and audit may be nil.
func NewRunner(tokens TokenProvider, mailbox MailboxFactory, classifier Classifier, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		tokens:     tokens,
		mailbox:    mailbox,
		classifier: classifier,
		logger:     logging.WithComponent(logger, "pipeline"),
	}
}

// WithMetrics attaches a metrics recorder.
func (r *Runner) WithMetrics(m *instrumentation.Metrics) *Runner {
	r.metrics = m
	return r
}

// WithAudit attaches an audit logger.
func (r *Runner) WithAudit(a *instrumentation.AuditLogger) *Runner {
	r.audit = a
	return r
}

// Run executes one clean run for the given user. count must be within
// [MinCount, MaxCount]; that is checked before anything leaves the
// process. Only invalid input, expired auth, an unreachable mailbox
// listing, an empty mailbox, or context cancellation fail the run;
// classification and labeling problems are absorbed into the Result.
func (r *Runner) Run(ctx context.Context, userID string, count int) (*Result, error) {
	if count < MinCount || count > MaxCount {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCount, count)
	}

	runID := uuid.NewString()
	logger := logging.WithRun(r.logger, runID).With(logging.UserHash(userID))
	start := time.Now()

	audit := instrumentation.NewRunAudit("clean").
		WithUser(userID).
		WithRun(runID, count).
		WithSpanContext(ctx)

	result, err := r.run(ctx, logger, runID, userID, count)
	if err != nil {
		r.setState(logger, StateFailed, logging.Err(err))
		r.metrics.RecordPipelineRun(ctx, instrumentation.StatusError, userID, time.Since(start))
		r.audit.LogRun(audit.Complete(false, err))
		return nil, err
	}

	r.setState(logger, StateDone,
		logging.Count(result.ActualCount),
		slog.Int("labeled", result.Labeling.SuccessCount),
		logging.Duration(time.Since(start)))
	r.metrics.RecordPipelineRun(ctx, instrumentation.StatusSuccess, userID, time.Since(start))
	r.audit.LogRun(audit.WithOutcome(result.ActualCount, result.Labeling.SuccessCount).Complete(true, nil))
	return result, nil
}

func (r *Runner) run(ctx context.Context, logger *slog.Logger, runID, userID string, count int) (*Result, error) {
	ctx, span := instrumentation.StartPipelineSpan(ctx, "run",
		instrumentation.NewSpanAttributeBuilder().
			WithRunID(runID).
			WithCount(count).
			WithUserDomain(userID).
			Build()...)
	defer span.End()

	r.setState(logger, StateFetchingTokens)
	accessToken, err := r.tokens.AccessToken(ctx, userID)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		if errors.Is(err, token.ErrAuthExpired) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to obtain access token: %w", err)
	}

	fetcher, labeler, err := r.mailbox(ctx, userID, accessToken)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return nil, fmt.Errorf("failed to build mailbox client: %w", err)
	}

	r.setState(logger, StateFetchingEmails, logging.Count(count))
	records, err := fetcher.FetchRecent(ctx, count)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrNoMessages
	}

	r.setState(logger, StateClassifying, logging.Count(len(records)))
	classifications, err := r.classifier.Classify(ctx, toEmails(records))
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return nil, fmt.Errorf("classification aborted: %w", err)
	}

	summary := classify.Summarize(classifications)
	for category, n := range summary {
		r.metrics.RecordClassifications(ctx, category, n)
	}

	r.setState(logger, StateLabeling, logging.Count(len(classifications)))
	applied, err := labeler.ApplyLabels(ctx, toAssignments(classifications))
	if err != nil {
		// Labeling trouble never sinks the run; the classifications are
		// still worth returning.
		logger.Error("labeling failed", logging.Err(err))
		applied = &gmail.ApplyResult{FailedCount: len(classifications)}
	}
	r.metrics.RecordLabelsApplied(ctx, instrumentation.StatusSuccess, applied.SuccessCount)
	r.metrics.RecordLabelsApplied(ctx, instrumentation.StatusError, applied.FailedCount)

	instrumentation.SetSpanSuccess(span)
	return &Result{
		RunID:           runID,
		RequestedCount:  count,
		ActualCount:     len(records),
		Classifications: classifications,
		Summary:         summary,
		Labeling: LabelingResult{
			SuccessCount: applied.SuccessCount,
			FailedCount:  applied.FailedCount,
		},
	}, nil
}

func (r *Runner) setState(logger *slog.Logger, state string, attrs ...slog.Attr) {
	args := make([]any, 0, len(attrs)+1)
	args = append(args, slog.String("state", state))
	for _, attr := range attrs {
		args = append(args, attr)
	}
	logger.Info("pipeline state", args...)
}

func toEmails(records []*gmail.MessageRecord) []classify.Email {
	emails := make([]classify.Email, len(records))
	for i, rec := range records {
		emails[i] = classify.Email{
			ID:      rec.ID,
			Subject: rec.Subject,
			Sender:  rec.Sender,
			Snippet: rec.Snippet,
			Body:    rec.Body,
		}
	}
	return emails
}

func toAssignments(classifications []classify.Classification) []gmail.LabelAssignment {
	assignments := make([]gmail.LabelAssignment, len(classifications))
	for i, c := range classifications {
		assignments[i] = gmail.LabelAssignment{
			MessageID: c.EmailID,
			Category:  string(c.Category),
		}
	}
	return assignments
}

// NewGmailMailboxFactory returns the production MailboxFactory backed by
// the Gmail API.
func NewGmailMailboxFactory(logger *slog.Logger) MailboxFactory {
	return func(ctx context.Context, userID, accessToken string) (Fetcher, Labeler, error) {
		client, err := gmail.NewClient(ctx, userID, accessToken)
		if err != nil {
			return nil, nil, err
		}
		return gmail.NewFetcher(client, logger), gmail.NewReconciler(client, logger), nil
	}
}
