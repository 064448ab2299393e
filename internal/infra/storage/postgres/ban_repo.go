package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/vietddude/sifter/internal/core/domain"
)

// BanEventRepo implements storage.BanEventRepository using PostgreSQL.
type BanEventRepo struct {
	db *DB
}

// NewBanEventRepo creates a new PostgreSQL ban event repository.
func NewBanEventRepo(db *DB) *BanEventRepo {
	return &BanEventRepo{db: db}
}

// Record journals one ban event.
func (r *BanEventRepo) Record(ctx context.Context, ev *domain.BanEvent) error {
	query := `
		INSERT INTO ban_events (instance_id, level, ban_count, detected_at, resume_at, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(
		ctx,
		query,
		ev.InstanceID,
		ev.Level,
		ev.BanCount,
		ev.DetectedAt,
		ev.ResumeAt,
		ev.Reason,
	)
	if err != nil {
		return fmt.Errorf("failed to record ban event: %w", err)
	}
	return nil
}

// GetAll retrieves all ban events for an instance, newest first.
func (r *BanEventRepo) GetAll(ctx context.Context, instanceID string) ([]*domain.BanEvent, error) {
	query := `
		SELECT instance_id, level, ban_count, detected_at, resume_at, reason
		FROM ban_events
		WHERE instance_id = $1
		ORDER BY detected_at DESC
	`

	var rows []struct {
		InstanceID string    `db:"instance_id"`
		Level      int       `db:"level"`
		BanCount   int       `db:"ban_count"`
		DetectedAt time.Time `db:"detected_at"`
		ResumeAt   time.Time `db:"resume_at"`
		Reason     string    `db:"reason"`
	}

	if err := r.db.SelectContext(ctx, &rows, query, instanceID); err != nil {
		return nil, fmt.Errorf("failed to get ban events: %w", err)
	}

	events := make([]*domain.BanEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, &domain.BanEvent{
			InstanceID: row.InstanceID,
			Level:      row.Level,
			BanCount:   row.BanCount,
			DetectedAt: row.DetectedAt,
			ResumeAt:   row.ResumeAt,
			Reason:     row.Reason,
		})
	}
	return events, nil
}

// Count returns the number of recorded bans for an instance.
func (r *BanEventRepo) Count(ctx context.Context, instanceID string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM ban_events
		WHERE instance_id = $1
	`
	var count int
	if err := r.db.GetContext(ctx, &count, query, instanceID); err != nil {
		return 0, fmt.Errorf("failed to count ban events: %w", err)
	}
	return count, nil
}
