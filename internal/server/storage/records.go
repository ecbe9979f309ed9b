// Package storage defines the persistence interface of the sync server.
package storage

import (
	"context"

	"github.com/offsync/offsync/internal/models"
	"github.com/offsync/offsync/pkg/api"
)

// ApplyResult is the outcome of one push. Record always reflects the
// server state after the call, accepted or not, so a rejected client can
// reconcile without a second round trip.
type ApplyResult struct {
	Record   *models.ServerRecord
	Reason   string
	Accepted bool
}

// RecordStorage defines the interface for the authoritative record store.
type RecordStorage interface {
	// GetRecord retrieves the current state of one record
	// Returns ErrRecordNotFound if the record doesn't exist
	GetRecord(ctx context.Context, moduleID, recordID string) (*models.ServerRecord, error)

	// ApplyPush applies one mutation under optimistic concurrency: the
	// push is accepted only when ExpectedBaseline matches the record's
	// current server timestamp. Replays of an already applied operation
	// are accepted again without reapplying (the operation ID is the
	// dedupe key).
	ApplyPush(ctx context.Context, moduleID, recordID string, req *api.PushRequest) (*ApplyResult, error)

	// ListModuleRecords retrieves all live records of one module
	ListModuleRecords(ctx context.Context, moduleID string) ([]*models.ServerRecord, error)
}
