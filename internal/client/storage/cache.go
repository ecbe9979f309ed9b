package storage

import (
	"context"

	"github.com/offsync/offsync/internal/models"
)

// CacheStorage defines the interface for the durable record cache. It is
// the only path to the cached bytes on disk; no other component touches
// the disk directly.
type CacheStorage interface {
	// PutRecord stores or replaces a cached record
	PutRecord(ctx context.Context, record *models.Record) error

	// GetRecord retrieves a cached record
	// Returns ErrRecordNotFound if no copy is cached
	GetRecord(ctx context.Context, moduleID, recordID string) (*models.Record, error)

	// DeleteRecord removes a cached record. Removing a missing record is
	// not an error.
	DeleteRecord(ctx context.Context, moduleID, recordID string) error

	// ListRecords returns all cached records
	ListRecords(ctx context.Context) ([]*models.Record, error)

	// ListModuleRecords returns all cached records of one module
	ListModuleRecords(ctx context.Context, moduleID string) ([]*models.Record, error)

	// Usage recomputes aggregate and per-module byte usage
	Usage(ctx context.Context) (*models.StorageMetrics, error)
}
