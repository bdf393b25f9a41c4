package instrumentation

import "strings"

// Cardinality management helpers for metrics.
// High cardinality labels (full email addresses, message ids) blow up
// series counts in Prometheus; always reduce user identifiers with these
// helpers before they reach a metric.

// ExtractUserDomain extracts the domain part from an email address.
//
// Example:
//
//	ExtractUserDomain("jane@example.com")  // "example.com"
//	ExtractUserDomain("invalid")           // "unknown"
//	ExtractUserDomain("")                  // "unknown"
func ExtractUserDomain(email string) string {
	if email == "" {
		return "unknown"
	}

	parts := strings.Split(email, "@")
	if len(parts) == 2 && parts[1] != "" {
		return parts[1]
	}

	return "unknown"
}

// Gmail API operation names used as metric label values.
const (
	OperationList         = "list"
	OperationGet          = "get"
	OperationLabelsList   = "labels_list"
	OperationLabelsCreate = "labels_create"
	OperationBatchModify  = "batch_modify"
)
