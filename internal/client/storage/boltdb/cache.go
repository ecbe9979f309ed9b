package boltdb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.etcd.io/bbolt"

	"github.com/offsync/offsync/internal/client/storage"
	"github.com/offsync/offsync/internal/models"
)

// PutRecord stores or replaces a cached record
func (s *Storage) PutRecord(ctx context.Context, record *models.Record) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketCache)
		if err := bucket.Put([]byte(record.Key()), data); err != nil {
			return fmt.Errorf("failed to save record: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}

	return nil
}

// GetRecord retrieves a cached record by module and record ID
func (s *Storage) GetRecord(ctx context.Context, moduleID, recordID string) (*models.Record, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var record *models.Record

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketCache)

		data := bucket.Get([]byte(models.RecordKey(moduleID, recordID)))
		if data == nil {
			return storage.ErrRecordNotFound
		}

		record = &models.Record{}
		if err := json.Unmarshal(data, record); err != nil {
			return fmt.Errorf("failed to unmarshal record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return record, nil
}

// DeleteRecord removes a cached record
func (s *Storage) DeleteRecord(ctx context.Context, moduleID, recordID string) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketCache)
		return bucket.Delete([]byte(models.RecordKey(moduleID, recordID)))
	})
	if err != nil {
		return fmt.Errorf("delete transaction failed: %w", err)
	}

	return nil
}

// ListRecords returns all cached records
func (s *Storage) ListRecords(ctx context.Context) ([]*models.Record, error) {
	return s.listRecords(func(r *models.Record) bool { return true })
}

// ListModuleRecords returns all cached records of one module
func (s *Storage) ListModuleRecords(ctx context.Context, moduleID string) ([]*models.Record, error) {
	return s.listRecords(func(r *models.Record) bool { return r.ModuleID == moduleID })
}

func (s *Storage) listRecords(keep func(*models.Record) bool) ([]*models.Record, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var records []*models.Record

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketCache)

		return bucket.ForEach(func(k, v []byte) error {
			var record models.Record
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("failed to unmarshal record: %w", err)
			}
			if keep(&record) {
				records = append(records, &record)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	return records, nil
}

// Usage recomputes aggregate and per-module byte usage of the cache.
// The size of a record is the size of its stored JSON value plus its key.
func (s *Storage) Usage(ctx context.Context) (*models.StorageMetrics, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	metrics := &models.StorageMetrics{
		PerModule: make(map[string]int64),
	}

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketCache)

		return bucket.ForEach(func(k, v []byte) error {
			size := int64(len(k) + len(v))
			metrics.TotalBytes += size

			moduleID, _, _ := strings.Cut(string(k), "/")
			metrics.PerModule[moduleID] += size
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to compute usage: %w", err)
	}

	return metrics, nil
}
