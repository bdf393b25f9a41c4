// Package pipeline sequences one clean run over a user's mailbox: ensure
// a valid token, fetch recent messages, classify them in batches, and
// apply category labels. Partial failures inside a run are absorbed into
// the result; only invalid input, expired auth, an unlistable mailbox, or
// an empty mailbox abort it.
package pipeline
