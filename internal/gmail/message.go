package gmail

import (
	"encoding/base64"
	"fmt"
	"html"
	"net/mail"
	"regexp"
	"strings"
	"time"

	gmail "google.golang.org/api/gmail/v1"
)

// MessageRecord is the canonical normalized form of a fetched message.
// Records are immutable once fetched within a pipeline run and are never
// persisted.
type MessageRecord struct {
	ID         string
	ThreadID   string
	Subject    string
	Sender     string
	SenderName string
	ReceivedAt time.Time
	Snippet    string
	Body       string
	Labels     []string
}

var (
	htmlTagPattern    = regexp.MustCompile(`(?s)<(script|style)\b.*?</(script|style)>|<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// ParseMessage normalizes a raw Gmail message into a MessageRecord.
// Body extraction prefers the plain-text MIME part, falls back to stripped
// HTML, and finally to the snippet when no body part exists.
func ParseMessage(msg *gmail.Message) (*MessageRecord, error) {
	if msg == nil || msg.Payload == nil {
		return nil, fmt.Errorf("message has no payload")
	}

	record := &MessageRecord{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  msg.Snippet,
		Labels:   msg.LabelIds,
	}

	record.Subject = HeaderValue(msg, "Subject")
	if record.Subject == "" {
		record.Subject = "No Subject"
	}

	from := HeaderValue(msg, "From")
	record.Sender, record.SenderName = parseSender(from)

	record.ReceivedAt = parseDate(msg, HeaderValue(msg, "Date"))

	body := extractBody(msg.Payload)
	if body == "" {
		body = msg.Snippet
	}
	record.Body = body

	return record, nil
}

// HeaderValue extracts a header value from a Gmail message payload.
func HeaderValue(m *gmail.Message, header string) string {
	if m.Payload == nil {
		return ""
	}
	for _, h := range m.Payload.Headers {
		if strings.EqualFold(h.Name, header) {
			return h.Value
		}
	}
	return ""
}

// parseSender splits a From header into address and display name.
func parseSender(from string) (address, name string) {
	if from == "" {
		return "Unknown Sender", ""
	}
	addr, err := mail.ParseAddress(from)
	if err != nil {
		return from, ""
	}
	return addr.Address, addr.Name
}

// parseDate resolves the message timestamp, preferring Gmail's internal
// date over the (often malformed) Date header.
func parseDate(msg *gmail.Message, dateHeader string) time.Time {
	if msg.InternalDate > 0 {
		return time.UnixMilli(msg.InternalDate).UTC()
	}
	if t, err := mail.ParseDate(dateHeader); err == nil {
		return t.UTC()
	}
	return time.Now().UTC()
}

// extractBody walks the payload for the best body candidate.
func extractBody(payload *gmail.MessagePart) string {
	// Single-part messages carry their body directly on the payload.
	if payload.Body != nil && payload.Body.Data != "" {
		text := decodeBody(payload.Body.Data)
		if strings.EqualFold(payload.MimeType, "text/html") {
			return StripHTML(text)
		}
		return text
	}

	if plain := findPart(payload.Parts, "text/plain"); plain != "" {
		return plain
	}
	if htmlBody := findPart(payload.Parts, "text/html"); htmlBody != "" {
		return StripHTML(htmlBody)
	}
	return ""
}

// findPart searches parts recursively for the first decodable part of the
// given MIME type. multipart/* containers nest their alternatives in Parts.
func findPart(parts []*gmail.MessagePart, mimeType string) string {
	for _, part := range parts {
		if part == nil {
			continue
		}
		if strings.EqualFold(part.MimeType, mimeType) && part.Body != nil && part.Body.Data != "" {
			if text := decodeBody(part.Body.Data); text != "" {
				return text
			}
		}
		if len(part.Parts) > 0 {
			if text := findPart(part.Parts, mimeType); text != "" {
				return text
			}
		}
	}
	return ""
}

// decodeBody decodes Gmail's base64url body data, repairing missing padding.
func decodeBody(data string) string {
	if data == "" {
		return ""
	}
	if missing := len(data) % 4; missing != 0 {
		data += strings.Repeat("=", 4-missing)
	}
	decoded, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		// Some senders emit standard base64 in the data field.
		decoded, err = base64.StdEncoding.DecodeString(data)
		if err != nil {
			return ""
		}
	}
	return string(decoded)
}

// StripHTML reduces an HTML body to readable text: tags removed, entities
// unescaped, whitespace collapsed.
func StripHTML(input string) string {
	text := htmlTagPattern.ReplaceAllString(input, " ")
	text = html.UnescapeString(text)
	text = whitespacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
