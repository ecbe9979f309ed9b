package boltdb

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/offsync/offsync/internal/client/storage"
	"github.com/offsync/offsync/internal/models"
)

// SaveConflict stores or updates a conflict item
func (s *Storage) SaveConflict(ctx context.Context, item *models.ConflictItem) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal conflict: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketConflicts)
		if err := bucket.Put([]byte(item.ID), data); err != nil {
			return fmt.Errorf("failed to save conflict: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}

	return nil
}

// GetConflict retrieves a conflict item by ID
func (s *Storage) GetConflict(ctx context.Context, id string) (*models.ConflictItem, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var item *models.ConflictItem

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketConflicts).Get([]byte(id))
		if data == nil {
			return storage.ErrConflictNotFound
		}

		item = &models.ConflictItem{}
		if err := json.Unmarshal(data, item); err != nil {
			return fmt.Errorf("failed to unmarshal conflict: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return item, nil
}

// ListPendingConflicts returns all conflicts awaiting resolution
func (s *Storage) ListPendingConflicts(ctx context.Context) ([]*models.ConflictItem, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var items []*models.ConflictItem

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketConflicts)

		return bucket.ForEach(func(k, v []byte) error {
			var item models.ConflictItem
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("failed to unmarshal conflict: %w", err)
			}
			if item.Status == models.ConflictPending {
				items = append(items, &item)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pending conflicts: %w", err)
	}

	return items, nil
}

// AppendResolution appends one immutable row to the resolution history.
// Rows are keyed by an internal sequence so the history keeps append order.
func (s *Storage) AppendResolution(ctx context.Context, res *models.Resolution) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal resolution: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketResolutions)

		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to assign sequence: %w", err)
		}
		if err := bucket.Put(seqKey(seq), data); err != nil {
			return fmt.Errorf("failed to append resolution: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append transaction failed: %w", err)
	}

	return nil
}

// ListResolutions returns the full resolution history in append order
func (s *Storage) ListResolutions(ctx context.Context) ([]*models.Resolution, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var history []*models.Resolution

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketResolutions)

		return bucket.ForEach(func(k, v []byte) error {
			var res models.Resolution
			if err := json.Unmarshal(v, &res); err != nil {
				return fmt.Errorf("failed to unmarshal resolution: %w", err)
			}
			history = append(history, &res)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list resolutions: %w", err)
	}

	return history, nil
}
