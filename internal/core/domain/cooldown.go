package domain

import "time"

// CooldownState is the durable ban/cooldown record for one worker instance.
// It is mutated only by the connection health monitor and persisted
// synchronously after every mutation.
type CooldownState struct {
	// LastBanTime is the time of the most recent detected ban, zero if none.
	LastBanTime time.Time `json:"lastBanTime"`

	// TotalBanCount increases monotonically across the instance lifetime.
	TotalBanCount int `json:"totalBanCount"`

	// CooldownLevel indexes the escalation table; 0 <= level < len(table).
	CooldownLevel int `json:"cooldownLevel"`
}

// DefaultEscalationTable is the ordered backoff sequence indexed by
// cooldown level. Index 0 means no cooldown; the last entry is the ceiling.
var DefaultEscalationTable = []time.Duration{
	0,
	30 * time.Minute,
	1 * time.Hour,
	2 * time.Hour,
	4 * time.Hour,
	8 * time.Hour,
}

// MaxLevel returns the highest valid cooldown level for a table.
func MaxLevel(table []time.Duration) int {
	return len(table) - 1
}

// Escalate returns the state after a detected ban: the counter is bumped,
// the ban time stamped, and the level raised but clamped to the table ceiling.
func (s CooldownState) Escalate(table []time.Duration, now time.Time) CooldownState {
	next := s
	next.TotalBanCount++
	next.LastBanTime = now
	if next.CooldownLevel < MaxLevel(table) {
		next.CooldownLevel++
	}
	return next
}

// CooldownDuration returns the backoff window for the current level.
func (s CooldownState) CooldownDuration(table []time.Duration) time.Duration {
	if s.CooldownLevel < 0 || s.CooldownLevel >= len(table) {
		return table[len(table)-1]
	}
	return table[s.CooldownLevel]
}

// Remaining returns how much of the cooldown window is left at now.
// Zero means the window has lapsed (or there never was one).
func (s CooldownState) Remaining(table []time.Duration, now time.Time) time.Duration {
	if s.CooldownLevel == 0 || s.LastBanTime.IsZero() {
		return 0
	}
	end := s.LastBanTime.Add(s.CooldownDuration(table))
	if rem := end.Sub(now); rem > 0 {
		return rem
	}
	return 0
}

// BanEvent is the journal entry written when a ban is detected.
type BanEvent struct {
	InstanceID string    `json:"instance_id"`
	Level      int       `json:"level"`
	BanCount   int       `json:"ban_count"`
	DetectedAt time.Time `json:"detected_at"`
	ResumeAt   time.Time `json:"resume_at"`
	Reason     string    `json:"reason"`
}
