// Package repository defines storage interfaces for extraction run records.
package repository

import (
	"context"
	"errors"

	"github.com/soochol/deinline/internal/deinline"
)

// ErrNotFound is returned when a requested run does not exist.
var ErrNotFound = errors.New("run not found")

// RunRepository abstracts persistence for extraction run records.
type RunRepository interface {
	Create(ctx context.Context, record *deinline.RunRecord) error
	Get(ctx context.Context, id string) (*deinline.RunRecord, error)
	Update(ctx context.Context, record *deinline.RunRecord) error
	// List returns runs newest first. status filters by run status when non-empty ("" = all).
	List(ctx context.Context, limit, offset int, status string) ([]*deinline.RunRecord, int, error)
}
