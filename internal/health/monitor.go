package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/sifter/internal/connhealth"
	"github.com/vietddude/sifter/internal/core/domain"
	"github.com/vietddude/sifter/internal/infra/storage"
	"github.com/vietddude/sifter/internal/worker"
)

// Report is the detailed health view served over HTTP.
type Report struct {
	Status     Status                 `json:"status"`
	InstanceID string                 `json:"instance_id"`
	Worker     worker.Stats           `json:"worker"`
	Connection connhealth.Snapshot    `json:"connection"`
	Outcomes   map[domain.Outcome]int `json:"outcomes,omitempty"`
	Bans       int                    `json:"bans"`
	CheckedAt  time.Time              `json:"checked_at"`
}

// Monitor aggregates health status from the worker loop, the connection
// health machine and the outcome journal.
type Monitor struct {
	instanceID string
	loop       *worker.Loop
	conn       *connhealth.Monitor
	outcomes   storage.OutcomeRepository
	bans       storage.BanEventRepository

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport Report
}

// NewMonitor creates a health monitor.
func NewMonitor(
	instanceID string,
	loop *worker.Loop,
	conn *connhealth.Monitor,
	outcomes storage.OutcomeRepository,
	bans storage.BanEventRepository,
) *Monitor {
	return &Monitor{
		instanceID: instanceID,
		loop:       loop,
		conn:       conn,
		outcomes:   outcomes,
		bans:       bans,
	}
}

// CheckHealth builds the current report. Journal queries are rate limited
// to avoid hammering the database from probe traffic.
func (m *Monitor) CheckHealth(ctx context.Context) Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastCheck) < 5*time.Second && !m.lastCheck.IsZero() {
		return m.lastReport
	}

	report := Report{
		Status:     StatusHealthy,
		InstanceID: m.instanceID,
		Worker:     m.loop.Stats(),
		Connection: m.conn.Snapshot(),
		CheckedAt:  time.Now(),
	}

	if m.outcomes != nil {
		if counts, err := m.outcomes.CountByOutcome(ctx); err == nil {
			report.Outcomes = counts
		}
	}
	if m.bans != nil {
		if count, err := m.bans.Count(ctx, m.instanceID); err == nil {
			report.Bans = count
		}
	}

	banned := report.Connection.Phase == "ban_detected" ||
		report.Connection.CooldownRemaining > 0
	switch {
	case banned:
		report.Status = StatusBanned
	case !report.Worker.Running || report.Connection.Recovering:
		report.Status = StatusDegraded
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}
