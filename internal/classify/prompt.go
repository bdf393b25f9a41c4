package classify

import (
	"fmt"
	"strings"
)

// contentPreviewLimit caps how much message content goes into the prompt.
// Snippets are short already; full bodies get truncated to keep token
// usage predictable across a 20-message batch.
const contentPreviewLimit = 300

// systemPrompt pins the model into JSON-only output mode.
const systemPrompt = "You are an email classification assistant. Always return valid JSON only, no additional text."

// Email is the minimal view of a message the classifier needs.
type Email struct {
	ID      string
	Subject string
	Sender  string
	Snippet string
	Body    string
}

// buildPrompt renders the classification request for one batch of emails.
// The model is instructed to return exactly one classification per email,
// in order, falling back to UNKNOWN when unsure.
func buildPrompt(emails []Email) string {
	var categories strings.Builder
	for i, cat := range promptCategories {
		info := categoryDetails[cat]
		fmt.Fprintf(&categories, "%d. %s (%s): %s\n", i+1, info.Name, cat, info.Description)
	}

	var listing strings.Builder
	for i, email := range emails {
		fmt.Fprintf(&listing, "\n--- Email %d ---\n", i+1)
		fmt.Fprintf(&listing, "Subject: %s\n", email.Subject)
		fmt.Fprintf(&listing, "From: %s\n", email.Sender)
		fmt.Fprintf(&listing, "Content: %s\n", contentPreview(email))
	}

	n := len(emails)
	return fmt.Sprintf(`You are an email classification assistant. Classify each email into one of these categories:

%s
CRITICAL REQUIREMENTS:
1. You MUST return exactly %d classifications, one for each email provided
2. Return classifications in the EXACT same order as the emails (Email 1 = first classification, Email 2 = second, etc.)
3. If you cannot confidently classify an email, use category "UNKNOWN" with confidence 0.0
4. Every email must have a classification - do not skip any emails

For each email, return a JSON object with:
- category: one of the category keys (IMPORTANT_ACTION, FYI_READ_LATER, MARKETING, AUTOMATED, LOW_VALUE_NOISE, or UNKNOWN if uncertain)
- confidence: a number between 0.0 and 1.0 indicating confidence
- reason: a brief explanation (1-2 sentences) for the classification

Emails to classify (%d total):
%s
Return ONLY valid JSON array with exactly %d classifications in this format:
[
  {
    "category": "IMPORTANT_ACTION",
    "confidence": 0.95,
    "reason": "Meeting invitation requires response"
  },
  {
    "category": "MARKETING",
    "confidence": 0.85,
    "reason": "Promotional newsletter"
  },
  ...
]

Remember: You must return exactly %d classifications, one for each email, in order.`,
		categories.String(), n, n, listing.String(), n, n)
}

// contentPreview prefers the snippet over the body and truncates either
// to the preview limit.
func contentPreview(email Email) string {
	content := email.Snippet
	if content == "" {
		content = email.Body
	}
	if len(content) > contentPreviewLimit {
		return content[:contentPreviewLimit] + "..."
	}
	return content
}

// buildRepairPrompt asks the model to fix its own malformed output.
func buildRepairPrompt(malformed string, count int) string {
	return fmt.Sprintf(`Your previous response was not valid JSON. Here is what you returned:

%s

Return ONLY a valid JSON array with exactly %d classification objects, each with "category", "confidence", and "reason" fields. No markdown, no commentary.`,
		malformed, count)
}
