package storage

import (
	"context"

	"github.com/vietddude/sifter/internal/core/domain"
)

// OutcomeRepository journals routed item outcomes for observability.
// Writes are best-effort; a failure never affects the item's outcome.
type OutcomeRepository interface {
	// Record journals one routed item
	Record(ctx context.Context, rec *domain.OutcomeRecord) error

	// GetRecent retrieves the most recent records, newest first
	GetRecent(ctx context.Context, limit int) ([]*domain.OutcomeRecord, error)

	// CountByOutcome returns totals per outcome
	CountByOutcome(ctx context.Context) (map[domain.Outcome]int, error)
}

// BanEventRepository journals detected soft bans.
type BanEventRepository interface {
	// Record journals one ban event
	Record(ctx context.Context, ev *domain.BanEvent) error

	// GetAll retrieves all ban events for an instance, newest first
	GetAll(ctx context.Context, instanceID string) ([]*domain.BanEvent, error)

	// Count returns the number of recorded bans for an instance
	Count(ctx context.Context, instanceID string) (int, error)
}
