package gmail

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	gmail "google.golang.org/api/gmail/v1"

	"github.com/mailsweep/mailsweep/internal/logging"
)

// batchModifyLimit is the maximum number of message ids Gmail accepts
// in a single batchModify call.
const batchModifyLimit = 1000

// labelColor pairs a background and text color for a managed label.
type labelColor struct {
	Background string
	Text       string
}

// labelPalette fixes the appearance of each category label so repeated
// runs always produce identical labels.
var labelPalette = map[string]labelColor{
	"IMPORTANT_ACTION": {Background: "#fb4c2f", Text: "#ffffff"},
	"FYI_READ_LATER":   {Background: "#16a766", Text: "#ffffff"},
	"MARKETING":        {Background: "#fad165", Text: "#000000"},
	"AUTOMATED":        {Background: "#4986e7", Text: "#ffffff"},
	"LOW_VALUE_NOISE":  {Background: "#666666", Text: "#ffffff"},
	"UNKNOWN":          {Background: "#ffad47", Text: "#000000"},
}

// defaultLabelColor is used for categories outside the palette.
var defaultLabelColor = labelColor{Background: "#cccccc", Text: "#000000"}

// PaletteColor returns the deterministic color for a category label.
func PaletteColor(category string) (background, text string) {
	c, ok := labelPalette[strings.ToUpper(category)]
	if !ok {
		c = defaultLabelColor
	}
	return c.Background, c.Text
}

// LabelNameFor maps a category to its Gmail label name. Categories
// outside the palette (ERROR included) fall back to the UNKNOWN label.
func LabelNameFor(category string) string {
	if _, ok := labelPalette[strings.ToUpper(category)]; ok {
		return strings.ToUpper(category)
	}
	return "UNKNOWN"
}

// labelAPI is the slice of the Gmail labels API the reconciler needs.
type labelAPI interface {
	ListLabels(ctx context.Context) ([]*gmail.Label, error)
	CreateLabel(ctx context.Context, label *gmail.Label) (*gmail.Label, error)
	BatchModify(ctx context.Context, ids []string, addLabelIDs []string) error
}

// LabelAssignment maps a message to the category label it should receive.
type LabelAssignment struct {
	MessageID string
	Category  string
}

// ApplyResult reports how many messages were labeled and how many failed.
type ApplyResult struct {
	SuccessCount int
	FailedCount  int
}

// Reconciler ensures category labels exist and applies them to messages.
// It is idempotent: existing labels are reused by name, never duplicated.
type Reconciler struct {
	api    labelAPI
	logger *slog.Logger

	mu     sync.Mutex
	byName map[string]string // label name -> label id, lazily populated
}

// NewReconciler creates a label reconciler over the given client.
func NewReconciler(api labelAPI, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		api:    api,
		logger: logging.WithComponent(logger, "labels"),
	}
}

// EnsureLabel returns the id of the label with the given name, creating
// it with its palette color if it does not exist yet.
func (r *Reconciler) EnsureLabel(ctx context.Context, name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byName == nil {
		labels, err := r.api.ListLabels(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to list labels: %w", err)
		}
		r.byName = make(map[string]string, len(labels))
		for _, l := range labels {
			r.byName[l.Name] = l.Id
		}
	}

	if id, ok := r.byName[name]; ok {
		return id, nil
	}

	bg, text := PaletteColor(name)
	created, err := r.api.CreateLabel(ctx, &gmail.Label{
		Name:                  name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
		Color: &gmail.LabelColor{
			BackgroundColor: bg,
			TextColor:       text,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create label %q: %w", name, err)
	}

	r.byName[name] = created.Id
	r.logger.Info("created label",
		slog.String("label", name),
		slog.String("label_id", created.Id))
	return created.Id, nil
}

// ApplyLabels groups assignments by category and applies each category
// label to its messages via batchModify, chunked at the API limit.
// A failure in one category group counts its messages as failed and
// moves on; it never aborts the other groups.
func (r *Reconciler) ApplyLabels(ctx context.Context, assignments []LabelAssignment) (*ApplyResult, error) {
	groups := make(map[string][]string)
	for _, a := range assignments {
		if a.Category == "" || a.MessageID == "" {
			continue
		}
		name := LabelNameFor(a.Category)
		groups[name] = append(groups[name], a.MessageID)
	}

	result := &ApplyResult{}
	for category, ids := range groups {
		labelID, err := r.EnsureLabel(ctx, category)
		if err != nil {
			result.FailedCount += len(ids)
			r.logger.Error("failed to ensure label for group",
				logging.Category(category),
				logging.Count(len(ids)),
				logging.Err(err))
			continue
		}

		failed := false
		for _, chunk := range chunkIDs(ids, batchModifyLimit) {
			if err := r.api.BatchModify(ctx, chunk, []string{labelID}); err != nil {
				failed = true
				result.FailedCount += len(chunk)
				r.logger.Error("failed to apply label to messages",
					logging.Category(category),
					logging.Count(len(chunk)),
					logging.Err(err))
				continue
			}
			result.SuccessCount += len(chunk)
		}
		if !failed {
			r.logger.Info("applied label",
				logging.Category(category),
				logging.Count(len(ids)),
				logging.Status(logging.StatusSuccess))
		}
	}
	return result, nil
}

// chunkIDs splits ids into slices of at most size elements.
func chunkIDs(ids []string, size int) [][]string {
	if len(ids) == 0 {
		return nil
	}
	chunks := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}
