package memory

import (
	"context"
	"sync"

	"github.com/vietddude/sifter/internal/core/domain"
)

// MemoryStorage backs the journal repositories when no database is
// configured. Bounded so a long-running worker does not grow unchecked.
type MemoryStorage struct {
	mu       sync.RWMutex
	outcomes []*domain.OutcomeRecord
	bans     []*domain.BanEvent
	maxKeep  int
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{maxKeep: 1000}
}

// -----------------------------------------------------------------------------
// Outcome Repository
// -----------------------------------------------------------------------------

type OutcomeRepo struct {
	store *MemoryStorage
}

func NewOutcomeRepo(store *MemoryStorage) *OutcomeRepo {
	return &OutcomeRepo{store: store}
}

func (r *OutcomeRepo) Record(ctx context.Context, rec *domain.OutcomeRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.outcomes = append(r.store.outcomes, rec)
	if len(r.store.outcomes) > r.store.maxKeep {
		r.store.outcomes = r.store.outcomes[len(r.store.outcomes)-r.store.maxKeep:]
	}
	return nil
}

func (r *OutcomeRepo) GetRecent(ctx context.Context, limit int) ([]*domain.OutcomeRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	n := len(r.store.outcomes)
	if limit > n {
		limit = n
	}
	out := make([]*domain.OutcomeRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, r.store.outcomes[i])
	}
	return out, nil
}

func (r *OutcomeRepo) CountByOutcome(ctx context.Context) (map[domain.Outcome]int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	counts := make(map[domain.Outcome]int)
	for _, rec := range r.store.outcomes {
		counts[rec.Outcome]++
	}
	return counts, nil
}

// -----------------------------------------------------------------------------
// Ban Event Repository
// -----------------------------------------------------------------------------

type BanEventRepo struct {
	store *MemoryStorage
}

func NewBanEventRepo(store *MemoryStorage) *BanEventRepo {
	return &BanEventRepo{store: store}
}

func (r *BanEventRepo) Record(ctx context.Context, ev *domain.BanEvent) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.bans = append(r.store.bans, ev)
	return nil
}

func (r *BanEventRepo) GetAll(ctx context.Context, instanceID string) ([]*domain.BanEvent, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.BanEvent
	for i := len(r.store.bans) - 1; i >= 0; i-- {
		if r.store.bans[i].InstanceID == instanceID {
			out = append(out, r.store.bans[i])
		}
	}
	return out, nil
}

func (r *BanEventRepo) Count(ctx context.Context, instanceID string) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	count := 0
	for _, ev := range r.store.bans {
		if ev.InstanceID == instanceID {
			count++
		}
	}
	return count, nil
}
