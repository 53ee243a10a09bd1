package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/soochol/deinline/internal/deinline"
)

// ErrRunNotFound is returned when no row matches the requested run ID.
var ErrRunNotFound = errors.New("run not found")

const runColumns = `id, job, policy, status, matches, images, failures, kept, audit, error, created_at, completed_at`

// CreateRun stores a new run record.
func (d *DB) CreateRun(ctx context.Context, r *deinline.RunRecord) error {
	args, err := runArgs(r)
	if err != nil {
		return err
	}
	_, err = d.Pool.ExecContext(ctx,
		`INSERT INTO extraction_runs (`+runColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun retrieves a run record by ID.
func (d *DB) GetRun(ctx context.Context, id string) (*deinline.RunRecord, error) {
	row := d.Pool.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM extraction_runs WHERE id = $1`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// UpdateRun updates an existing run record.
func (d *DB) UpdateRun(ctx context.Context, r *deinline.RunRecord) error {
	args, err := runArgs(r)
	if err != nil {
		return err
	}
	res, err := d.Pool.ExecContext(ctx,
		`UPDATE extraction_runs SET job = $2, policy = $3, status = $4, matches = $5, images = $6,
		 failures = $7, kept = $8, audit = $9, error = $10, created_at = $11, completed_at = $12
		 WHERE id = $1`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", r.ID, ErrRunNotFound)
	}
	return nil
}

// ListRuns returns runs newest first with pagination. An empty status lists
// all runs; limit <= 0 means no limit.
func (d *DB) ListRuns(ctx context.Context, limit, offset int, status string) ([]*deinline.RunRecord, int, error) {
	var limitArg any // NULL is LIMIT ALL
	if limit > 0 {
		limitArg = limit
	}

	var total int
	err := d.Pool.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM extraction_runs WHERE ($1 = '' OR status = $1)`, status,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}

	rows, err := d.Pool.QueryContext(ctx,
		`SELECT `+runColumns+` FROM extraction_runs
		 WHERE ($1 = '' OR status = $1)
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		status, limitArg, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var result []*deinline.RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan run: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	return result, total, nil
}

// MarkOrphanedRunsFailed fails runs left in "running" by a previous process.
func (d *DB) MarkOrphanedRunsFailed(ctx context.Context) (int64, error) {
	res, err := d.Pool.ExecContext(ctx,
		`UPDATE extraction_runs SET status = $1, error = 'server restarted', completed_at = NOW()
		 WHERE status = $2`,
		string(deinline.RunStatusFailed), string(deinline.RunStatusRunning),
	)
	if err != nil {
		return 0, fmt.Errorf("mark orphaned runs: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*deinline.RunRecord, error) {
	r := &deinline.RunRecord{}
	var policy, status string
	var jobJSON, imagesJSON, failuresJSON, keptJSON, auditJSON []byte

	if err := s.Scan(&r.ID, &jobJSON, &policy, &status, &r.Matches,
		&imagesJSON, &failuresJSON, &keptJSON, &auditJSON,
		&r.Error, &r.CreatedAt, &r.CompletedAt,
	); err != nil {
		return nil, err
	}

	r.Policy = deinline.ReplacePolicy(policy)
	r.Status = deinline.RunStatus(status)
	json.Unmarshal(jobJSON, &r.Job)
	json.Unmarshal(imagesJSON, &r.Images)
	json.Unmarshal(failuresJSON, &r.Failures)
	json.Unmarshal(keptJSON, &r.Kept)
	if len(auditJSON) > 0 {
		r.Audit = &deinline.Audit{}
		json.Unmarshal(auditJSON, r.Audit)
	}
	return r, nil
}

// runArgs returns the column values of r in runColumns order.
func runArgs(r *deinline.RunRecord) ([]any, error) {
	jobJSON, err := json.Marshal(r.Job)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}
	imagesJSON, _ := json.Marshal(nonNil(r.Images))
	failuresJSON, _ := json.Marshal(nonNil(r.Failures))
	keptJSON, _ := json.Marshal(nonNil(r.Kept))
	var auditJSON any // NULL when the run has no audit
	if r.Audit != nil {
		b, _ := json.Marshal(r.Audit)
		auditJSON = b
	}
	return []any{
		r.ID, jobJSON, string(r.Policy), string(r.Status), r.Matches,
		imagesJSON, failuresJSON, keptJSON, auditJSON,
		r.Error, r.CreatedAt, r.CompletedAt,
	}, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
