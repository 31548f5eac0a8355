package memory

import (
	"context"
	"sort"
	"sync"

	"minutebars/internal/domain"
)

// RunRepository keeps run records in memory.
type RunRepository struct {
	mu      sync.RWMutex
	records map[string]domain.RunRecord
}

// NewRunRepository creates an empty repository.
func NewRunRepository() *RunRepository {
	return &RunRepository{records: make(map[string]domain.RunRecord)}
}

func (r *RunRepository) Save(_ context.Context, record *domain.RunRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[record.ID] = *record
	return nil
}

func (r *RunRepository) Get(_ context.Context, id string) (*domain.RunRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	return &rec, nil
}

func (r *RunRepository) List(_ context.Context, page, pageSize int) ([]*domain.RunRecord, error) {
	r.mu.RLock()
	all := make([]*domain.RunRecord, 0, len(r.records))
	for _, rec := range r.records {
		rec := rec
		all = append(all, &rec)
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return all[i].StartedAt.After(all[j].StartedAt)
	})

	start := (page - 1) * pageSize
	if start < 0 || start >= len(all) {
		return []*domain.RunRecord{}, nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}
