package health

// Status is the aggregated worker health state.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusBanned   Status = "banned"
)
