package storage

import (
	"context"

	"github.com/offsync/offsync/internal/models"
)

// QueueStorage defines the interface for the pending-operation log.
// Every state transition must be durable before it becomes observable
// (write-ahead discipline), so implementations persist inside a single
// transaction per call.
type QueueStorage interface {
	// AppendOperation persists a new operation and assigns its Seq,
	// which fixes creation order across restarts
	AppendOperation(ctx context.Context, op *models.SyncOperation) error

	// UpdateOperation persists a state transition of an existing operation
	// Returns ErrOperationNotFound if the operation doesn't exist
	UpdateOperation(ctx context.Context, op *models.SyncOperation) error

	// GetOperation retrieves an operation by ID
	// Returns ErrOperationNotFound if the operation doesn't exist
	GetOperation(ctx context.Context, id string) (*models.SyncOperation, error)

	// DeleteOperation removes an operation from the log
	// Returns ErrOperationNotFound if the operation doesn't exist
	DeleteOperation(ctx context.Context, id string) error

	// ListOperations returns all operations in creation (Seq) order
	ListOperations(ctx context.Context) ([]*models.SyncOperation, error)
}
