package storage

import (
	"context"

	"github.com/offsync/offsync/internal/models"
)

// ConflictStorage defines the interface for conflict items and the
// resolution history. Resolutions are append-only: history rows are never
// updated or removed.
type ConflictStorage interface {
	// SaveConflict stores or updates a conflict item
	SaveConflict(ctx context.Context, item *models.ConflictItem) error

	// GetConflict retrieves a conflict item by ID
	// Returns ErrConflictNotFound if the conflict doesn't exist
	GetConflict(ctx context.Context, id string) (*models.ConflictItem, error)

	// ListPendingConflicts returns all conflicts awaiting resolution
	ListPendingConflicts(ctx context.Context) ([]*models.ConflictItem, error)

	// AppendResolution appends one immutable row to the resolution history
	AppendResolution(ctx context.Context, res *models.Resolution) error

	// ListResolutions returns the full resolution history in append order
	ListResolutions(ctx context.Context) ([]*models.Resolution, error)
}
