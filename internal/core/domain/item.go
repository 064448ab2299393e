package domain

import "time"

// WorkItem is a single unit of work claimed from the filter queue.
// A claimed item is either completed or released before the worker may
// claim new work; it is never both.
type WorkItem struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Outcome classifies the result of processing one work item.
type Outcome string

const (
	// OutcomePass means the profile met the filter criteria and was
	// forwarded to the downstream queue.
	OutcomePass Outcome = "pass"

	// OutcomeFailCriteria means the profile was fetched but did not meet
	// the criteria. The item is consumed, not forwarded. Normal outcome.
	OutcomeFailCriteria Outcome = "fail_criteria"

	// OutcomeTransientError means all fetch attempts failed; the item was
	// released back to the source queue for a later retry.
	OutcomeTransientError Outcome = "transient_error"
)

// OutcomeRecord is the journal entry written after an item is routed.
// Journal writes are observability only, never part of the completion
// contract.
type OutcomeRecord struct {
	ItemID      string    `json:"item_id"`
	Username    string    `json:"username"`
	Outcome     Outcome   `json:"outcome"`
	Attempts    int       `json:"attempts"`
	ProcessedAt time.Time `json:"processed_at"`
}
