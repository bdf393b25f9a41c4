package gmail

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Client wraps the Gmail Users service for a single authorized user.
// All calls act on the "me" mailbox of the token the client was built with.
type Client struct {
	svc  *gmail.UsersService
	user string // The user email this client is associated with
}

// NewClient creates a Gmail client from a bearer access token.
// The token must already be valid; refresh is the token manager's job.
func NewClient(ctx context.Context, userID, accessToken string) (*Client, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("access token is required")
	}

	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	svc, err := gmail.NewService(ctx, option.WithTokenSource(src))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	return &Client{
		svc:  svc.Users,
		user: userID,
	}, nil
}

// User returns the user email this client is associated with.
func (c *Client) User() string {
	return c.user
}

// ListMessageIDs lists up to maxResults inbox message ids, newest first.
// It pages through the list endpoint when maxResults exceeds one page.
func (c *Client) ListMessageIDs(ctx context.Context, maxResults int64) ([]string, error) {
	var ids []string
	pageToken := ""

	for {
		remaining := maxResults - int64(len(ids))
		if remaining <= 0 {
			break
		}
		pageSize := remaining
		if pageSize > 100 {
			pageSize = 100
		}

		req := c.svc.Messages.List("me").
			LabelIds("INBOX").
			Q("in:inbox category:primary").
			MaxResults(pageSize)
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}

		res, err := req.Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list messages: %w", err)
		}
		for _, m := range res.Messages {
			ids = append(ids, m.Id)
		}

		if res.NextPageToken == "" || int64(len(ids)) >= maxResults {
			break
		}
		pageToken = res.NextPageToken
	}

	if int64(len(ids)) > maxResults {
		ids = ids[:maxResults]
	}
	return ids, nil
}

// GetMessage retrieves a full message including payload and headers.
func (c *Client) GetMessage(ctx context.Context, id string) (*gmail.Message, error) {
	msg, err := c.svc.Messages.Get("me", id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}
	return msg, nil
}

// ListLabels returns all labels in the mailbox.
func (c *Client) ListLabels(ctx context.Context) ([]*gmail.Label, error) {
	res, err := c.svc.Labels.List("me").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list labels: %w", err)
	}
	return res.Labels, nil
}

// CreateLabel creates a label and returns it with its server-assigned id.
func (c *Client) CreateLabel(ctx context.Context, label *gmail.Label) (*gmail.Label, error) {
	created, err := c.svc.Labels.Create("me", label).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to create label %q: %w", label.Name, err)
	}
	return created, nil
}

// BatchModify adds labels to a set of messages in one call.
func (c *Client) BatchModify(ctx context.Context, ids, addLabelIDs []string) error {
	req := &gmail.BatchModifyMessagesRequest{
		Ids:         ids,
		AddLabelIds: addLabelIDs,
	}
	if err := c.svc.Messages.BatchModify("me", req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to batch modify %d messages: %w", len(ids), err)
	}
	return nil
}
