// Package gmail wraps the Gmail API for mailsweep: listing and fetching
// recent inbox messages, normalizing them into plain-text records, and
// reconciling category labels onto classified messages.
package gmail
