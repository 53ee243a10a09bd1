package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/soochol/deinline/internal/deinline"
)

const maxRunRecords = 1000

// MemoryRunRepository stores run records in memory with FIFO eviction.
type MemoryRunRepository struct {
	mu      sync.RWMutex
	records map[string]*deinline.RunRecord
	order   []string // insertion order for FIFO eviction
	max     int
}

func NewMemoryRunRepository() *MemoryRunRepository {
	return &MemoryRunRepository{
		records: make(map[string]*deinline.RunRecord),
		max:     maxRunRecords,
	}
}

func (r *MemoryRunRepository) Create(_ context.Context, record *deinline.RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.order) >= r.max {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.records, oldest)
	}

	r.records[record.ID] = record
	r.order = append(r.order, record.ID)
	return nil
}

func (r *MemoryRunRepository) Get(_ context.Context, id string) (*deinline.RunRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (r *MemoryRunRepository) Update(_ context.Context, record *deinline.RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[record.ID]; !ok {
		return ErrNotFound
	}
	r.records[record.ID] = record
	return nil
}

func (r *MemoryRunRepository) List(_ context.Context, limit, offset int, status string) ([]*deinline.RunRecord, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*deinline.RunRecord, 0, len(r.records))
	for _, rec := range r.records {
		if status == "" || string(rec.Status) == status {
			all = append(all, rec)
		}
	}

	// Sort by created_at descending.
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return all[offset:end], total, nil
}
