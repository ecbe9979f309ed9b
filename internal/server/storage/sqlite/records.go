package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/offsync/offsync/internal/models"
	"github.com/offsync/offsync/internal/server/storage"
	"github.com/offsync/offsync/pkg/api"
)

// GetRecord retrieves the current state of one record, tombstones included.
// Returns ErrRecordNotFound if the record never existed.
func (s *Storage) GetRecord(ctx context.Context, moduleID, recordID string) (*models.ServerRecord, error) {
	query := `
		SELECT fields, server_ts, deleted, updated_at
		FROM records
		WHERE module_id = ? AND record_id = ?
	`
	return s.scanRecord(s.db.QueryRowContext(ctx, query, moduleID, recordID), moduleID, recordID)
}

// ListModuleRecords retrieves all live records of one module
func (s *Storage) ListModuleRecords(ctx context.Context, moduleID string) ([]*models.ServerRecord, error) {
	query := `
		SELECT record_id, fields, server_ts, deleted, updated_at
		FROM records
		WHERE module_id = ? AND deleted = 0
		ORDER BY record_id
	`

	rows, err := s.db.QueryContext(ctx, query, moduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []*models.ServerRecord
	for rows.Next() {
		rec := &models.ServerRecord{ModuleID: moduleID}
		var (
			fieldsJSON string
			deleted    int
			updatedAt  int64
		)
		if err := rows.Scan(&rec.RecordID, &fieldsJSON, &rec.ServerTimestamp, &deleted, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		if err := json.Unmarshal([]byte(fieldsJSON), &rec.Fields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
		}
		rec.Deleted = deleted != 0
		rec.UpdatedAt = time.Unix(updatedAt, 0)
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return records, nil
}

// ApplyPush applies one mutation under optimistic concurrency. The check
// and the write happen in one transaction; with a single writer connection
// that makes the compare-and-set atomic.
func (s *Storage) ApplyPush(ctx context.Context, moduleID, recordID string, req *api.PushRequest) (*storage.ApplyResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	// a replayed operation is acknowledged again without reapplying
	var appliedTS int64
	err = tx.QueryRowContext(ctx,
		`SELECT server_ts FROM applied_ops WHERE op_id = ?`, req.OperationID,
	).Scan(&appliedTS)
	switch {
	case err == nil:
		current, err := s.scanRecord(tx.QueryRowContext(ctx,
			`SELECT fields, server_ts, deleted, updated_at FROM records WHERE module_id = ? AND record_id = ?`,
			moduleID, recordID), moduleID, recordID)
		if err != nil {
			return nil, err
		}
		return &storage.ApplyResult{Accepted: true, Record: current}, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("failed to check applied operations: %w", err)
	}

	current, err := s.scanRecord(tx.QueryRowContext(ctx,
		`SELECT fields, server_ts, deleted, updated_at FROM records WHERE module_id = ? AND record_id = ?`,
		moduleID, recordID), moduleID, recordID)
	if err != nil && !errors.Is(err, storage.ErrRecordNotFound) {
		return nil, err
	}
	exists := err == nil

	switch {
	case !exists && req.Kind != string(models.KindCreate):
		return &storage.ApplyResult{Reason: api.ReasonNotFound}, nil
	case exists && req.Kind == string(models.KindCreate) && !current.Deleted:
		return &storage.ApplyResult{Reason: api.ReasonAlreadyExists, Record: current}, nil
	}

	var expected int64
	if exists {
		expected = current.ServerTimestamp
	}
	if req.ExpectedBaseline != expected {
		return &storage.ApplyResult{Reason: api.ReasonBaselineMismatch, Record: current}, nil
	}

	next := &models.ServerRecord{
		ModuleID:  moduleID,
		RecordID:  recordID,
		Fields:    make(map[string]any),
		UpdatedAt: time.Now(),
	}
	if exists && !current.Deleted {
		for k, v := range current.Fields {
			next.Fields[k] = v
		}
	}
	next.ServerTimestamp = nextTimestamp(expected)

	switch req.Kind {
	case string(models.KindDelete):
		next.Deleted = true
		next.Fields = map[string]any{}
	default:
		for k, v := range req.Delta {
			next.Fields[k] = v
		}
	}

	fieldsJSON, err := json.Marshal(next.Fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fields: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO records (module_id, record_id, fields, server_ts, deleted, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (module_id, record_id) DO UPDATE SET
			fields = excluded.fields,
			server_ts = excluded.server_ts,
			deleted = excluded.deleted,
			updated_at = excluded.updated_at
	`, moduleID, recordID, string(fieldsJSON), next.ServerTimestamp,
		boolToInt(next.Deleted), next.UpdatedAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to write record: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO applied_ops (op_id, module_id, record_id, server_ts, applied_at)
		VALUES (?, ?, ?, ?, ?)
	`, req.OperationID, moduleID, recordID, next.ServerTimestamp, time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to record operation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	return &storage.ApplyResult{Accepted: true, Record: next}, nil
}

// scanRecord reads one record row
func (s *Storage) scanRecord(row *sql.Row, moduleID, recordID string) (*models.ServerRecord, error) {
	rec := &models.ServerRecord{ModuleID: moduleID, RecordID: recordID}
	var (
		fieldsJSON string
		deleted    int
		updatedAt  int64
	)

	err := row.Scan(&fieldsJSON, &rec.ServerTimestamp, &deleted, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}

	if err := json.Unmarshal([]byte(fieldsJSON), &rec.Fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
	}
	rec.Deleted = deleted != 0
	rec.UpdatedAt = time.Unix(updatedAt, 0)
	return rec, nil
}

// nextTimestamp returns a timestamp strictly greater than prev. Wall-clock
// millis are used when the clock is ahead, so timestamps roughly track real
// time but never move backwards.
func nextTimestamp(prev int64) int64 {
	now := time.Now().UnixMilli()
	if now <= prev {
		return prev + 1
	}
	return now
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
