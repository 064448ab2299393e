package worker

import "time"

// Stats is a snapshot of the loop's counters for health reporting.
type Stats struct {
	Running             bool           `json:"running"`
	Claimed             int            `json:"claimed"`
	Processed           int            `json:"processed"`
	Passed              int            `json:"passed"`
	FailedCriteria      int            `json:"failed_criteria"`
	TransientErrors     int            `json:"transient_errors"`
	Released            int            `json:"released"`
	PendingBatch        int            `json:"pending_batch"`
	ConsecutiveTimeouts int            `json:"consecutive_timeouts"`
	ItemFailures        map[string]int `json:"item_failures,omitempty"`
	LastItemAt          time.Time      `json:"last_item_at"`
}

// Stats returns the current counters.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	failures := make(map[string]int, len(l.itemFailures))
	for id, n := range l.itemFailures {
		failures[id] = n
	}

	s := l.stats
	s.Running = l.running.Load()
	s.PendingBatch = len(l.batch)
	s.ConsecutiveTimeouts = l.consecTimeouts
	s.ItemFailures = failures
	return s
}
