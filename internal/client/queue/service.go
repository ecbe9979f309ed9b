// Package queue implements the ordered log of pending mutations. Every
// state transition is persisted through the local store before it becomes
// observable, so a crash never loses or duplicates an operation.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/offsync/offsync/internal/client/storage"
	"github.com/offsync/offsync/internal/models"
	"github.com/offsync/offsync/internal/validation"
)

// Queue errors
var (
	// ErrInvalidOperation indicates a malformed enqueue request.
	// Such operations are rejected up front and never retried.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrDeadOperation indicates the operation exhausted its retry budget
	// and needs an operator decision
	ErrDeadOperation = errors.New("operation is dead")

	// ErrNotDead indicates an operator action on an operation that is not dead
	ErrNotDead = errors.New("operation is not dead")

	// ErrIllegalTransition indicates a status transition the lifecycle forbids
	ErrIllegalTransition = errors.New("illegal status transition")
)

// DefaultMaxAttempts is the retry budget before an operation goes dead
const DefaultMaxAttempts = 5

// EnqueueRequest describes one mutation to queue
type EnqueueRequest struct {
	Delta    map[string]any
	ModuleID string               `validate:"required,recordref"`
	RecordID string               `validate:"required,recordref"`
	Kind     models.OperationKind `validate:"required"`
	Priority int
}

// Service owns the pending-operation log. It is the only component that
// appends to it; the engine drives transitions through the Mark methods.
type Service struct {
	store       storage.QueueStorage
	cache       storage.CacheStorage
	validate    *validator.Validate
	logger      *slog.Logger
	maxAttempts int

	// mu serializes read-modify-write transitions
	mu sync.Mutex
}

// NewService creates a queue service
func NewService(store storage.QueueStorage, cache storage.CacheStorage, maxAttempts int, logger *slog.Logger) (*Service, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	v := validator.New()
	if err := validation.Register(v); err != nil {
		return nil, fmt.Errorf("failed to register validators: %w", err)
	}

	return &Service{
		store:       store,
		cache:       cache,
		validate:    v,
		logger:      logger,
		maxAttempts: maxAttempts,
	}, nil
}

// Enqueue validates and persists a new operation, then applies the edit to
// the local cache. The baseline the edit was computed against is captured
// here, before the cached fields are overwritten by the local edit.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (*models.SyncOperation, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOperation, err)
	}
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidOperation, req.Kind)
	}
	if len(req.Delta) == 0 && req.Kind != models.KindDelete {
		return nil, fmt.Errorf("%w: empty delta", ErrInvalidOperation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	op := &models.SyncOperation{
		ID:        uuid.New().String(),
		ModuleID:  req.ModuleID,
		RecordID:  req.RecordID,
		Kind:      req.Kind,
		Delta:     req.Delta,
		Status:    models.StatusPending,
		CreatedAt: time.Now(),
	}

	cached, err := s.cache.GetRecord(ctx, req.ModuleID, req.RecordID)
	switch {
	case err == nil:
		op.BaselineTimestamp = cached.BaselineTimestamp
		op.Baseline = make(map[string]any, len(req.Delta))
		for field := range req.Delta {
			if v, ok := cached.Fields[field]; ok {
				op.Baseline[field] = v
			}
		}
	case errors.Is(err, storage.ErrRecordNotFound):
		// no cached copy: create, or a blind edit with no baseline
	default:
		return nil, fmt.Errorf("failed to read cached record: %w", err)
	}

	// Write-ahead: the operation is durable before the cache reflects it
	if err := s.store.AppendOperation(ctx, op); err != nil {
		return nil, fmt.Errorf("failed to append operation: %w", err)
	}

	if err := s.applyLocal(ctx, op, cached, req.Priority); err != nil {
		// the queued operation is authoritative; a cache write failure
		// only delays local visibility
		s.logger.Warn("failed to apply local edit to cache",
			"op_id", op.ID,
			"record", op.RecordKey(),
			"error", err)
	}

	s.logger.Info("operation enqueued",
		"op_id", op.ID,
		"record", op.RecordKey(),
		"kind", op.Kind,
		"seq", op.Seq)

	return op.Clone(), nil
}

// applyLocal makes the unconfirmed edit visible to local reads
func (s *Service) applyLocal(ctx context.Context, op *models.SyncOperation, cached *models.Record, priority int) error {
	switch op.Kind {
	case models.KindCreate, models.KindUpdate:
		rec := cached
		if rec == nil {
			rec = &models.Record{
				ModuleID: op.ModuleID,
				RecordID: op.RecordID,
				Fields:   make(map[string]any, len(op.Delta)),
				Priority: priority,
			}
		}
		for field, value := range op.Delta {
			rec.Fields[field] = value
		}
		rec.Dirty = true
		rec.CachedAt = time.Now()
		return s.cache.PutRecord(ctx, rec)
	case models.KindDelete:
		// the cached copy stays until the delete is confirmed by the server
		if cached != nil {
			cached.Dirty = true
			return s.cache.PutRecord(ctx, cached)
		}
		return nil
	}
	return nil
}

// PeekNextBatch returns up to max operations ready for syncing, in
// creation order. A record whose oldest operation is not pending (in
// flight, conflicted or dead) hands out nothing, which is what enforces
// per-record ordering across workers.
func (s *Service) PeekNextBatch(ctx context.Context, max int) ([]*models.SyncOperation, error) {
	if max <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ops, err := s.store.ListOperations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}

	var batch []*models.SyncOperation
	seen := make(map[string]bool)

	for _, op := range ops {
		key := op.RecordKey()
		if seen[key] {
			continue
		}
		seen[key] = true

		// only the oldest operation per record is eligible, and only
		// when it is actually pending
		if op.Status == models.StatusPending {
			batch = append(batch, op.Clone())
			if len(batch) >= max {
				break
			}
		}
	}

	return batch, nil
}

// Get returns a copy of one queued operation
func (s *Service) Get(ctx context.Context, id string) (*models.SyncOperation, error) {
	op, err := s.store.GetOperation(ctx, id)
	if err != nil {
		return nil, err
	}
	return op.Clone(), nil
}

// PendingCount returns the number of operations waiting to be synced
func (s *Service) PendingCount(ctx context.Context) (int, error) {
	ops, err := s.store.ListOperations(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list operations: %w", err)
	}

	count := 0
	for _, op := range ops {
		if op.Status == models.StatusPending {
			count++
		}
	}
	return count, nil
}

// ListDead returns operations that exhausted their retry budget.
// They stay visible until an operator retries or discards them.
func (s *Service) ListDead(ctx context.Context) ([]*models.SyncOperation, error) {
	ops, err := s.store.ListOperations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}

	var dead []*models.SyncOperation
	for _, op := range ops {
		if op.Status == models.StatusDead {
			dead = append(dead, op)
		}
	}
	return dead, nil
}

// InFlightRecordKeys returns the keys of records that currently have a
// non-terminal operation. The quota manager uses this to protect them
// from eviction.
func (s *Service) InFlightRecordKeys(ctx context.Context) (map[string]bool, error) {
	ops, err := s.store.ListOperations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}

	keys := make(map[string]bool)
	for _, op := range ops {
		// dead operations count too: their baseline may still be needed
		// for an operator retry
		keys[op.RecordKey()] = true
	}
	return keys, nil
}

// MarkInProgress transitions an operation to in_progress before any
// network I/O happens for it
func (s *Service) MarkInProgress(ctx context.Context, id string) error {
	return s.transition(ctx, id, func(op *models.SyncOperation) error {
		op.Status = models.StatusInProgress
		return nil
	}, models.StatusInProgress)
}

// MarkCompleted removes the operation from the queue. Completed is
// terminal: the operation is gone and can never be replayed.
func (s *Service) MarkCompleted(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, err := s.store.GetOperation(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load operation: %w", err)
	}

	if !models.CanTransition(op.Status, models.StatusCompleted) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, op.Status, models.StatusCompleted)
	}

	if err := s.store.DeleteOperation(ctx, id); err != nil {
		return fmt.Errorf("failed to remove completed operation: %w", err)
	}

	s.logger.Info("operation completed", "op_id", id, "record", op.RecordKey())
	return nil
}

// MarkFailed records a transient failure. The operation goes back to
// pending until its retry budget runs out, then it goes dead.
func (s *Service) MarkFailed(ctx context.Context, id string, opErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, err := s.store.GetOperation(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load operation: %w", err)
	}

	if !models.CanTransition(op.Status, models.StatusFailed) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, op.Status, models.StatusFailed)
	}

	op.Attempts++
	if opErr != nil {
		op.LastError = opErr.Error()
	}

	if op.Attempts >= s.maxAttempts {
		op.Status = models.StatusDead
		s.logger.Warn("operation exhausted retries",
			"op_id", id,
			"record", op.RecordKey(),
			"attempts", op.Attempts)
	} else {
		op.Status = models.StatusPending
		s.logger.Info("operation requeued",
			"op_id", id,
			"record", op.RecordKey(),
			"attempts", op.Attempts,
			"error", op.LastError)
	}

	if err := s.store.UpdateOperation(ctx, op); err != nil {
		return fmt.Errorf("failed to persist failure: %w", err)
	}
	return nil
}

// MarkConflict parks the operation until its conflict is resolved
func (s *Service) MarkConflict(ctx context.Context, id, conflictID string) error {
	return s.transition(ctx, id, func(op *models.SyncOperation) error {
		op.Status = models.StatusConflict
		op.ConflictID = conflictID
		return nil
	}, models.StatusConflict)
}

// RetryDead is the operator action that gives a dead operation a fresh
// retry budget
func (s *Service) RetryDead(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, err := s.store.GetOperation(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load operation: %w", err)
	}
	if op.Status != models.StatusDead {
		return fmt.Errorf("%w: %s", ErrNotDead, op.Status)
	}

	op.Status = models.StatusPending
	op.Attempts = 0
	op.LastError = ""

	if err := s.store.UpdateOperation(ctx, op); err != nil {
		return fmt.Errorf("failed to persist retry: %w", err)
	}

	s.logger.Info("dead operation requeued by operator", "op_id", id, "record", op.RecordKey())
	return nil
}

// DiscardDead is the operator acknowledgment that removes a dead
// operation from the queue for good
func (s *Service) DiscardDead(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, err := s.store.GetOperation(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load operation: %w", err)
	}
	if op.Status != models.StatusDead {
		return fmt.Errorf("%w: %s", ErrNotDead, op.Status)
	}

	if err := s.store.DeleteOperation(ctx, id); err != nil {
		return fmt.Errorf("failed to discard operation: %w", err)
	}

	s.logger.Info("dead operation discarded by operator", "op_id", id, "record", op.RecordKey())
	return nil
}

// Recover requeues operations that were in flight when the process died.
// Completed operations were already removed, so a replay can only ever
// touch pending work; that is what keeps application at-most-once.
func (s *Service) Recover(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ops, err := s.store.ListOperations(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list operations: %w", err)
	}

	recovered := 0
	for _, op := range ops {
		if op.Status != models.StatusInProgress {
			continue
		}
		op.Status = models.StatusPending
		if err := s.store.UpdateOperation(ctx, op); err != nil {
			return recovered, fmt.Errorf("failed to recover operation %s: %w", op.ID, err)
		}
		recovered++
	}

	if recovered > 0 {
		s.logger.Info("recovered in-flight operations after restart", "count", recovered)
	}
	return recovered, nil
}

// transition applies a guarded single-status transition
func (s *Service) transition(ctx context.Context, id string, mutate func(*models.SyncOperation) error, to models.OperationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, err := s.store.GetOperation(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load operation: %w", err)
	}

	if !models.CanTransition(op.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, op.Status, to)
	}

	if err := mutate(op); err != nil {
		return err
	}

	if err := s.store.UpdateOperation(ctx, op); err != nil {
		return fmt.Errorf("failed to persist transition: %w", err)
	}
	return nil
}
