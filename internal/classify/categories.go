package classify

// Category identifies one of the fixed classification buckets.
type Category string

const (
	CategoryImportantAction Category = "IMPORTANT_ACTION"
	CategoryFYIReadLater    Category = "FYI_READ_LATER"
	CategoryMarketing       Category = "MARKETING"
	CategoryAutomated       Category = "AUTOMATED"
	CategoryLowValueNoise   Category = "LOW_VALUE_NOISE"
	CategoryUnknown         Category = "UNKNOWN"
	// CategoryError marks messages whose classification failed outright.
	// It is never offered to the model.
	CategoryError Category = "ERROR"
)

// categoryInfo carries the human-readable name and description presented
// to the model when building the classification prompt.
type categoryInfo struct {
	Name        string
	Description string
}

// promptCategories lists the categories the model may choose from, in the
// order they appear in the prompt. ERROR is deliberately absent.
var promptCategories = []Category{
	CategoryImportantAction,
	CategoryFYIReadLater,
	CategoryMarketing,
	CategoryAutomated,
	CategoryLowValueNoise,
	CategoryUnknown,
}

var categoryDetails = map[Category]categoryInfo{
	CategoryImportantAction: {
		Name:        "Important Action Required",
		Description: "Emails requiring user action (meetings, tasks, urgent items, responses needed)",
	},
	CategoryFYIReadLater: {
		Name:        "FYI / Read Later",
		Description: "Informational emails that can be read later (newsletters, articles, updates)",
	},
	CategoryMarketing: {
		Name:        "Marketing / Promotions",
		Description: "Promotional and marketing content (sales, deals, ads, promotional newsletters)",
	},
	CategoryAutomated: {
		Name:        "Automated / Transaction",
		Description: "Automated and transactional emails (receipts, confirmations, notifications, system messages)",
	},
	CategoryLowValueNoise: {
		Name:        "Low Value / Noise",
		Description: "Low-value emails, spam-like content, or noise that doesn't require attention",
	},
	CategoryUnknown: {
		Name:        "Unknown / Unclassified",
		Description: "Emails that could not be classified (fallback category)",
	},
}

// ValidCategory reports whether s names a category the model is allowed
// to return.
func ValidCategory(s string) bool {
	_, ok := categoryDetails[Category(s)]
	return ok
}

// Categories returns every category that can appear in results, including
// ERROR, in a stable order. Used to zero-initialize summaries.
func Categories() []Category {
	out := make([]Category, 0, len(promptCategories)+1)
	out = append(out, promptCategories...)
	out = append(out, CategoryError)
	return out
}
