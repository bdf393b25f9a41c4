package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mailsweep/mailsweep/internal/logging"
)

const (
	// defaultBatchSize balances token usage per request against the
	// number of requests per run.
	defaultBatchSize = 20
	// defaultMaxConcurrency bounds how many batches are in flight at once.
	defaultMaxConcurrency = 4
	// defaultMaxAttempts is the per-batch transport retry budget.
	defaultMaxAttempts = 3
	// defaultRetryBackoff is the initial wait between attempts; it doubles
	// each retry.
	defaultRetryBackoff = 2 * time.Second
)

// jsonArrayPattern recovers a JSON array embedded in surrounding prose.
var jsonArrayPattern = regexp.MustCompile(`(?s)\[.*\]`)

// Classification is the model's verdict on a single email.
type Classification struct {
	EmailID      string   `json:"email_id"`
	EmailSubject string   `json:"email_subject"`
	Category     Category `json:"category"`
	Confidence   float64  `json:"confidence"`
	Reason       string   `json:"reason"`
}

// Engine classifies emails in concurrent batches through a ChatClient.
type Engine struct {
	client ChatClient
	logger *slog.Logger

	BatchSize      int
	MaxConcurrency int
	MaxAttempts    int
	RetryBackoff   time.Duration
}

// NewEngine creates a classification engine with default batching and
// retry behavior.
func NewEngine(client ChatClient, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		client:         client,
		logger:         logging.WithComponent(logger, "classify"),
		BatchSize:      defaultBatchSize,
		MaxConcurrency: defaultMaxConcurrency,
		MaxAttempts:    defaultMaxAttempts,
		RetryBackoff:   defaultRetryBackoff,
	}
}

// Classify returns exactly one Classification per input email, in input
// order. Batches that fail entirely come back as ERROR classifications
// rather than aborting the run; Classify itself only fails when the
// context is canceled.
func (e *Engine) Classify(ctx context.Context, emails []Email) ([]Classification, error) {
	if len(emails) == 0 {
		return nil, nil
	}

	batches := chunkEmails(emails, e.BatchSize)
	results := make([][]Classification, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.MaxConcurrency)
	for i, batch := range batches {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = e.classifyBatch(gctx, batch, i+1, len(batches))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Classification, 0, len(emails))
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

// classifyBatch classifies one batch, retrying transport failures and
// downgrading terminal failures to ERROR classifications.
func (e *Engine) classifyBatch(ctx context.Context, batch []Email, batchNum, totalBatches int) []Classification {
	logger := e.logger.With(logging.Batch(batchNum))

	content, err := e.chatWithRetry(ctx, systemPrompt, buildPrompt(batch))
	if err != nil {
		logger.Error("classification batch failed",
			logging.Count(len(batch)),
			logging.Err(err))
		return errorClassifications(batch, fmt.Sprintf("Classification error: %v", err))
	}

	parsed, parseErr := parseClassifications(content)
	if parseErr != nil {
		// One repair round: show the model its own output and ask for
		// clean JSON.
		logger.Warn("malformed classification response, requesting repair",
			logging.Err(parseErr))
		repaired, err := e.chatWithRetry(ctx, systemPrompt, buildRepairPrompt(content, len(batch)))
		if err == nil {
			parsed, parseErr = parseClassifications(repaired)
		}
		if parseErr != nil {
			logger.Error("classification batch unparseable after repair",
				logging.Count(len(batch)),
				logging.Err(parseErr))
			return errorClassifications(batch, fmt.Sprintf("Classification error: %v", parseErr))
		}
	}

	results := alignToBatch(parsed, batch, logger)
	logger.Info("classified batch",
		slog.Int("total_batches", totalBatches),
		logging.Count(len(results)),
		logging.Status(logging.StatusSuccess))
	return results
}

// chatWithRetry calls the chat client with doubling backoff between
// attempts.
func (e *Engine) chatWithRetry(ctx context.Context, system, user string) (string, error) {
	backoff := e.RetryBackoff
	var lastErr error
	for attempt := 1; attempt <= e.MaxAttempts; attempt++ {
		content, err := e.client.Chat(ctx, system, user)
		if err == nil {
			return content, nil
		}
		lastErr = err
		if attempt == e.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return "", lastErr
}

// rawClassification is the wire shape the model returns per email.
type rawClassification struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// parseClassifications extracts the classification array from model
// output, tolerating markdown fences and surrounding prose.
func parseClassifications(content string) ([]rawClassification, error) {
	content = stripMarkdownFences(content)

	var parsed []rawClassification
	if err := json.Unmarshal([]byte(content), &parsed); err == nil {
		return parsed, nil
	}

	match := jsonArrayPattern.FindString(content)
	if match == "" {
		return nil, fmt.Errorf("no JSON array in response: %s", truncateForError([]byte(content)))
	}
	if err := json.Unmarshal([]byte(match), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse recovered JSON array: %w", err)
	}
	return parsed, nil
}

// stripMarkdownFences removes a surrounding ```json ... ``` block.
func stripMarkdownFences(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(content, "```")
		content = strings.TrimSpace(content)
	}
	return content
}

// alignToBatch forces the parsed results into one-per-email shape:
// invalid categories become UNKNOWN, short arrays are padded with
// UNKNOWN, long arrays are truncated.
func alignToBatch(parsed []rawClassification, batch []Email, logger *slog.Logger) []Classification {
	results := make([]Classification, 0, len(batch))
	for i, email := range batch {
		if i >= len(parsed) {
			results = append(results, Classification{
				EmailID:      email.ID,
				EmailSubject: email.Subject,
				Category:     CategoryUnknown,
				Confidence:   0,
				Reason:       "Model did not return a classification for this email",
			})
			continue
		}

		raw := parsed[i]
		category := Category(raw.Category)
		confidence := raw.Confidence
		reason := raw.Reason
		if !ValidCategory(raw.Category) {
			logger.Warn("invalid category from model",
				logging.Category(raw.Category))
			category = CategoryUnknown
			confidence = 0
		}
		if reason == "" {
			reason = "No reason provided"
		}
		results = append(results, Classification{
			EmailID:      email.ID,
			EmailSubject: email.Subject,
			Category:     category,
			Confidence:   confidence,
			Reason:       reason,
		})
	}

	switch {
	case len(parsed) < len(batch):
		logger.Warn("model returned too few classifications",
			slog.Int("expected", len(batch)),
			slog.Int("got", len(parsed)))
	case len(parsed) > len(batch):
		logger.Warn("model returned too many classifications",
			slog.Int("expected", len(batch)),
			slog.Int("got", len(parsed)))
	}
	return results
}

// errorClassifications marks every email in a failed batch as ERROR.
func errorClassifications(batch []Email, reason string) []Classification {
	results := make([]Classification, len(batch))
	for i, email := range batch {
		results[i] = Classification{
			EmailID:      email.ID,
			EmailSubject: email.Subject,
			Category:     CategoryError,
			Confidence:   0,
			Reason:       reason,
		}
	}
	return results
}

// Summarize counts classifications per category. Every known category
// appears in the summary, zero or not.
func Summarize(classifications []Classification) map[string]int {
	summary := make(map[string]int, len(categoryDetails)+1)
	for _, cat := range Categories() {
		summary[string(cat)] = 0
	}
	for _, c := range classifications {
		summary[string(c.Category)]++
	}
	return summary
}

// chunkEmails splits emails into batches of at most size.
func chunkEmails(emails []Email, size int) [][]Email {
	if size <= 0 {
		size = defaultBatchSize
	}
	batches := make([][]Email, 0, (len(emails)+size-1)/size)
	for start := 0; start < len(emails); start += size {
		end := start + size
		if end > len(emails) {
			end = len(emails)
		}
		batches = append(batches, emails[start:end])
	}
	return batches
}
