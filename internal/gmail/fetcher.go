package gmail

import (
	"context"
	"fmt"
	"log/slog"

	gmail "google.golang.org/api/gmail/v1"

	"github.com/mailsweep/mailsweep/internal/logging"
)

// mailboxAPI is the slice of the Gmail API the fetcher needs.
// *Client satisfies it; tests substitute a fake.
type mailboxAPI interface {
	ListMessageIDs(ctx context.Context, maxResults int64) ([]string, error)
	GetMessage(ctx context.Context, id string) (*gmail.Message, error)
}

// Fetcher retrieves recent messages and normalizes them into MessageRecords.
type Fetcher struct {
	api    mailboxAPI
	logger *slog.Logger
}

// NewFetcher creates a fetcher over the given mailbox client.
func NewFetcher(api mailboxAPI, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		api:    api,
		logger: logging.WithComponent(logger, "fetcher"),
	}
}

// FetchRecent returns up to count recent inbox messages, newest first.
// A mailbox with fewer messages yields a shorter slice, not an error.
// Individual messages that cannot be retrieved or parsed are skipped and
// logged as omissions; they never abort the batch.
func (f *Fetcher) FetchRecent(ctx context.Context, count int) ([]*MessageRecord, error) {
	ids, err := f.api.ListMessageIDs(ctx, int64(count))
	if err != nil {
		return nil, fmt.Errorf("failed to list recent messages: %w", err)
	}

	records := make([]*MessageRecord, 0, len(ids))
	omitted := 0
	for _, id := range ids {
		msg, err := f.api.GetMessage(ctx, id)
		if err != nil {
			omitted++
			f.logger.Warn("skipping unretrievable message",
				slog.String("message_id", id),
				logging.Status(logging.StatusSkipped),
				logging.Err(err))
			continue
		}

		record, err := ParseMessage(msg)
		if err != nil {
			omitted++
			f.logger.Warn("skipping unparseable message",
				slog.String("message_id", id),
				logging.Status(logging.StatusSkipped),
				logging.Err(err))
			continue
		}
		records = append(records, record)
	}

	f.logger.Info("fetched messages",
		logging.Count(len(records)),
		slog.Int("omitted", omitted))
	return records, nil
}
