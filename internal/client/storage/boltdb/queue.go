package boltdb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/offsync/offsync/internal/client/storage"
	"github.com/offsync/offsync/internal/models"
)

// seqKey encodes a sequence number as a big-endian key so that bucket
// iteration yields operations in creation order.
func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// AppendOperation persists a new operation and assigns its sequence number.
// The operation is durable before the call returns.
func (s *Storage) AppendOperation(ctx context.Context, op *models.SyncOperation) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketPendingOps)

		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to assign sequence: %w", err)
		}
		op.Seq = seq

		data, err := json.Marshal(op)
		if err != nil {
			return fmt.Errorf("failed to marshal operation: %w", err)
		}

		if err := bucket.Put(seqKey(seq), data); err != nil {
			return fmt.Errorf("failed to save operation: %w", err)
		}

		index := tx.Bucket(bucketOpIndex)
		if err := index.Put([]byte(op.ID), seqKey(seq)); err != nil {
			return fmt.Errorf("failed to index operation: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append transaction failed: %w", err)
	}

	return nil
}

// UpdateOperation persists a state transition of an existing operation
func (s *Storage) UpdateOperation(ctx context.Context, op *models.SyncOperation) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		index := tx.Bucket(bucketOpIndex)
		key := index.Get([]byte(op.ID))
		if key == nil {
			return storage.ErrOperationNotFound
		}

		data, err := json.Marshal(op)
		if err != nil {
			return fmt.Errorf("failed to marshal operation: %w", err)
		}

		bucket := tx.Bucket(bucketPendingOps)
		if err := bucket.Put(key, data); err != nil {
			return fmt.Errorf("failed to save operation: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	return nil
}

// GetOperation retrieves an operation by ID
func (s *Storage) GetOperation(ctx context.Context, id string) (*models.SyncOperation, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var op *models.SyncOperation

	err := s.db.View(func(tx *bbolt.Tx) error {
		index := tx.Bucket(bucketOpIndex)
		key := index.Get([]byte(id))
		if key == nil {
			return storage.ErrOperationNotFound
		}

		data := tx.Bucket(bucketPendingOps).Get(key)
		if data == nil {
			return storage.ErrOperationNotFound
		}

		op = &models.SyncOperation{}
		if err := json.Unmarshal(data, op); err != nil {
			return fmt.Errorf("failed to unmarshal operation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return op, nil
}

// DeleteOperation removes an operation and its index entry
func (s *Storage) DeleteOperation(ctx context.Context, id string) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		index := tx.Bucket(bucketOpIndex)
		key := index.Get([]byte(id))
		if key == nil {
			return storage.ErrOperationNotFound
		}

		if err := tx.Bucket(bucketPendingOps).Delete(key); err != nil {
			return fmt.Errorf("failed to delete operation: %w", err)
		}
		if err := index.Delete([]byte(id)); err != nil {
			return fmt.Errorf("failed to delete index entry: %w", err)
		}
		return nil
	})
}

// ListOperations returns all operations in creation (sequence) order
func (s *Storage) ListOperations(ctx context.Context) ([]*models.SyncOperation, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var ops []*models.SyncOperation

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketPendingOps)

		// Big-endian keys make cursor order creation order
		return bucket.ForEach(func(k, v []byte) error {
			var op models.SyncOperation
			if err := json.Unmarshal(v, &op); err != nil {
				return fmt.Errorf("failed to unmarshal operation: %w", err)
			}
			ops = append(ops, &op)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}

	return ops, nil
}
