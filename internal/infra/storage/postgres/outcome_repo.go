package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/vietddude/sifter/internal/core/domain"
)

// OutcomeRepo implements storage.OutcomeRepository using PostgreSQL.
type OutcomeRepo struct {
	db *DB
}

// NewOutcomeRepo creates a new PostgreSQL outcome repository.
func NewOutcomeRepo(db *DB) *OutcomeRepo {
	return &OutcomeRepo{db: db}
}

// Record journals one routed item.
func (r *OutcomeRepo) Record(ctx context.Context, rec *domain.OutcomeRecord) error {
	query := `
		INSERT INTO item_outcomes (item_id, username, outcome, attempts, processed_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.ExecContext(
		ctx,
		query,
		rec.ItemID,
		rec.Username,
		string(rec.Outcome),
		rec.Attempts,
		rec.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}
	return nil
}

// GetRecent retrieves the most recent records, newest first.
func (r *OutcomeRepo) GetRecent(ctx context.Context, limit int) ([]*domain.OutcomeRecord, error) {
	query := `
		SELECT item_id, username, outcome, attempts, processed_at
		FROM item_outcomes
		ORDER BY processed_at DESC
		LIMIT $1
	`

	var rows []struct {
		ItemID      string    `db:"item_id"`
		Username    string    `db:"username"`
		Outcome     string    `db:"outcome"`
		Attempts    int       `db:"attempts"`
		ProcessedAt time.Time `db:"processed_at"`
	}

	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to get recent outcomes: %w", err)
	}

	records := make([]*domain.OutcomeRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, &domain.OutcomeRecord{
			ItemID:      row.ItemID,
			Username:    row.Username,
			Outcome:     domain.Outcome(row.Outcome),
			Attempts:    row.Attempts,
			ProcessedAt: row.ProcessedAt,
		})
	}
	return records, nil
}

// CountByOutcome returns totals per outcome.
func (r *OutcomeRepo) CountByOutcome(ctx context.Context) (map[domain.Outcome]int, error) {
	query := `
		SELECT outcome, COUNT(*) AS total
		FROM item_outcomes
		GROUP BY outcome
	`

	var rows []struct {
		Outcome string `db:"outcome"`
		Total   int    `db:"total"`
	}

	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to count outcomes: %w", err)
	}

	counts := make(map[domain.Outcome]int, len(rows))
	for _, row := range rows {
		counts[domain.Outcome(row.Outcome)] = row.Total
	}
	return counts, nil
}
