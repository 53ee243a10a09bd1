package repository

import (
	"context"
	"log/slog"

	"github.com/soochol/deinline/internal/deinline"
)

// RunStore is the database side of PersistentRunRepository. *db.DB implements it.
type RunStore interface {
	CreateRun(ctx context.Context, r *deinline.RunRecord) error
	GetRun(ctx context.Context, id string) (*deinline.RunRecord, error)
	UpdateRun(ctx context.Context, r *deinline.RunRecord) error
	ListRuns(ctx context.Context, limit, offset int, status string) ([]*deinline.RunRecord, int, error)
	MarkOrphanedRunsFailed(ctx context.Context) (int64, error)
}

// PersistentRunRepository wraps a MemoryRunRepository with a PostgreSQL backend.
// Writes go to both stores (DB failure is logged but non-fatal).
// Reads try memory first, falling back to the database.
type PersistentRunRepository struct {
	mem *MemoryRunRepository
	db  RunStore
}

func NewPersistentRunRepository(mem *MemoryRunRepository, database RunStore) *PersistentRunRepository {
	return &PersistentRunRepository{mem: mem, db: database}
}

func (r *PersistentRunRepository) Create(ctx context.Context, record *deinline.RunRecord) error {
	_ = r.mem.Create(ctx, record)
	if err := r.db.CreateRun(ctx, record); err != nil {
		slog.Warn("db create run failed, in-memory only", "run_id", record.ID, "err", err)
	}
	return nil
}

func (r *PersistentRunRepository) Get(ctx context.Context, id string) (*deinline.RunRecord, error) {
	rec, err := r.mem.Get(ctx, id)
	if err == nil {
		return rec, nil
	}

	dbRec, dbErr := r.db.GetRun(ctx, id)
	if dbErr != nil {
		return nil, err // return original ErrNotFound
	}

	_ = r.mem.Create(ctx, dbRec)
	return dbRec, nil
}

func (r *PersistentRunRepository) Update(ctx context.Context, record *deinline.RunRecord) error {
	_ = r.mem.Update(ctx, record)
	if err := r.db.UpdateRun(ctx, record); err != nil {
		slog.Warn("db update run failed, in-memory only", "run_id", record.ID, "err", err)
	}
	return nil
}

func (r *PersistentRunRepository) List(ctx context.Context, limit, offset int, status string) ([]*deinline.RunRecord, int, error) {
	runs, total, err := r.db.ListRuns(ctx, limit, offset, status)
	if err == nil {
		return runs, total, nil
	}
	slog.Warn("db list runs failed, falling back to in-memory", "err", err)
	return r.mem.List(ctx, limit, offset, status)
}

// MarkOrphanedRunsFailed fails runs a previous process left in "running".
func (r *PersistentRunRepository) MarkOrphanedRunsFailed(ctx context.Context) (int64, error) {
	return r.db.MarkOrphanedRunsFailed(ctx)
}
