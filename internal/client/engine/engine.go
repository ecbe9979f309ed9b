// Package engine drives the sync lifecycle: it drains the pending queue
// against the remote authority, routes divergence through conflict
// resolution and reacts to connectivity changes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	httpClient "github.com/offsync/offsync/internal/client/api"
	"github.com/offsync/offsync/internal/client/conflict"
	"github.com/offsync/offsync/internal/client/netmon"
	"github.com/offsync/offsync/internal/client/queue"
	"github.com/offsync/offsync/internal/client/storage"
	"github.com/offsync/offsync/internal/models"
	"github.com/offsync/offsync/pkg/api"
)

// State of the engine loop
type State int32

// Engine states
const (
	StateIdle State = iota
	StateSyncing
	StateBackoff
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSyncing:
		return "syncing"
	case StateBackoff:
		return "backoff"
	}
	return "unknown"
}

// Hooks are optional callbacks into the embedding application. All hooks
// may be nil and are invoked from engine goroutines.
type Hooks struct {
	// OnSyncProgress reports batch progress as operations finish
	OnSyncProgress func(batchID string, completed, total int)
	// OnConflict fires when a divergence is detected, before resolution
	OnConflict func(item *models.ConflictItem)
	// OnOperationFailed fires when an attempt fails (the operation may
	// still be retried)
	OnOperationFailed func(op *models.SyncOperation, err error)
}

// Config holds engine parameters
type Config struct {
	// Workers is the number of concurrent sync workers
	Workers int
	// BatchSize caps how many operations one cycle picks up
	BatchSize int
	// CallTimeout bounds a single push once it has been sent
	CallTimeout time.Duration
	// BackoffBase is the first retry delay after a cycle fails
	BackoffBase time.Duration
	// BackoffCap bounds the exponential growth
	BackoffCap time.Duration
	// JitterPercent randomizes each delay by up to this percentage
	JitterPercent uint64
	// SyncInterval triggers a cycle periodically while online
	SyncInterval time.Duration
}

// DefaultConfig returns the engine defaults
func DefaultConfig() Config {
	return Config{
		Workers:       3,
		BatchSize:     32,
		CallTimeout:   30 * time.Second,
		BackoffBase:   2 * time.Second,
		BackoffCap:    5 * time.Minute,
		JitterPercent: 20,
		SyncInterval:  time.Minute,
	}
}

// QuotaEnforcer drains the cache back under its ceiling. The engine runs
// it after every cache write it performs.
type QuotaEnforcer interface {
	CheckAndEvict(ctx context.Context) (*models.StorageMetrics, error)
}

// Engine owns the sync loop. One operation per record is in flight at any
// time; distinct records sync in parallel across the worker pool.
type Engine struct {
	queue     *queue.Service
	client    httpClient.ClientAPI
	cache     storage.CacheStorage
	conflicts storage.ConflictStorage
	detector  *conflict.Detector
	resolver  *conflict.Resolver
	monitor   *netmon.Monitor
	quota     QuotaEnforcer
	logger    *slog.Logger
	cfg       Config
	hooks     Hooks

	locks    *recordLocks
	state    atomic.Int32
	triggerC chan struct{}
	stopC    chan struct{}
	doneC    chan struct{}
}

// NewEngine creates an engine. The monitor may be nil, in which case the
// engine only syncs when triggered explicitly; a nil quota disables
// post-write ceiling enforcement.
func NewEngine(
	q *queue.Service,
	client httpClient.ClientAPI,
	cache storage.CacheStorage,
	conflicts storage.ConflictStorage,
	detector *conflict.Detector,
	resolver *conflict.Resolver,
	monitor *netmon.Monitor,
	quota QuotaEnforcer,
	cfg Config,
	hooks Hooks,
	logger *slog.Logger,
) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultConfig().CallTimeout
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultConfig().BackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = DefaultConfig().BackoffCap
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = DefaultConfig().SyncInterval
	}

	return &Engine{
		queue:     q,
		client:    client,
		cache:     cache,
		conflicts: conflicts,
		detector:  detector,
		resolver:  resolver,
		monitor:   monitor,
		quota:     quota,
		cfg:       cfg,
		hooks:     hooks,
		logger:    logger,
		locks:     newRecordLocks(),
		triggerC:  make(chan struct{}, 1),
		stopC:     make(chan struct{}),
		doneC:     make(chan struct{}),
	}
}

// State returns the current engine state
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

// SyncOnce runs a single sync cycle in the caller's goroutine. Used for
// one-shot invocations; the daemon loop uses Start and TriggerSync.
func (e *Engine) SyncOnce(ctx context.Context) error {
	return e.runCycle(ctx)
}

// TriggerSync requests a sync cycle. Never blocks; a cycle already
// requested absorbs the trigger.
func (e *Engine) TriggerSync() {
	select {
	case e.triggerC <- struct{}{}:
	default:
	}
}

// Start launches the engine loop. Interrupted operations from a previous
// run are requeued before the first cycle.
func (e *Engine) Start(ctx context.Context) error {
	requeued, err := e.queue.Recover(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover queue: %w", err)
	}
	if requeued > 0 {
		e.logger.Info("requeued interrupted operations", "count", requeued)
	}

	if e.monitor != nil {
		e.monitor.Subscribe(func(st netmon.State) {
			if st == netmon.StateOnline {
				e.TriggerSync()
			}
		})
	}

	go e.run(ctx)
	return nil
}

// Stop shuts the loop down and waits for in-flight workers to finish.
func (e *Engine) Stop() {
	close(e.stopC)
	<-e.doneC
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.doneC)

	ticker := time.NewTicker(e.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopC:
			return
		case <-ticker.C:
		case <-e.triggerC:
		}

		if e.monitor != nil && e.monitor.CurrentState() != netmon.StateOnline {
			continue
		}

		if err := e.runCycle(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			e.logger.Warn("sync cycle abandoned", "error", err)
		}
	}
}

// runCycle drains the queue, retrying with capped exponential backoff when
// the server is unreachable mid-cycle. The backoff resets on every fresh
// trigger.
func (e *Engine) runCycle(ctx context.Context) error {
	e.setState(StateSyncing)
	defer e.setState(StateIdle)

	backoff := retry.WithCappedDuration(e.cfg.BackoffCap,
		retry.NewExponential(e.cfg.BackoffBase))
	if e.cfg.JitterPercent > 0 {
		backoff = retry.WithJitterPercent(e.cfg.JitterPercent, backoff)
	}

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := e.syncBatches(ctx)
		if errors.Is(err, httpClient.ErrUnavailable) {
			e.setState(StateBackoff)
			if e.monitor != nil {
				e.monitor.ProbeNow()
			}
			return retry.RetryableError(err)
		}
		return err
	})
}

// syncBatches processes batches until the queue hands out nothing.
func (e *Engine) syncBatches(ctx context.Context) error {
	for {
		batch, err := e.queue.PeekNextBatch(ctx, e.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("failed to pick batch: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}

		if err := e.processBatch(ctx, batch); err != nil {
			return err
		}
	}
}

func (e *Engine) processBatch(ctx context.Context, batch []*models.SyncOperation) error {
	batchID := uuid.New().String()
	total := len(batch)

	e.logger.Info("processing batch", "batch_id", batchID, "size", total)

	jobs := make(chan *models.SyncOperation)
	var (
		wg          sync.WaitGroup
		completed   atomic.Int64
		unavailable atomic.Bool
	)

	for range e.cfg.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for op := range jobs {
				err := e.processOperation(ctx, op)
				if errors.Is(err, httpClient.ErrUnavailable) {
					unavailable.Store(true)
				} else if err != nil {
					e.logger.Warn("operation attempt failed",
						"op_id", op.ID,
						"record", op.RecordKey(),
						"error", err)
				}

				done := int(completed.Add(1))
				if e.hooks.OnSyncProgress != nil {
					e.hooks.OnSyncProgress(batchID, done, total)
				}
			}
		}()
	}

	for _, op := range batch {
		select {
		case <-ctx.Done():
		case jobs <- op:
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	if unavailable.Load() {
		return fmt.Errorf("batch %s: %w", batchID, httpClient.ErrUnavailable)
	}
	return nil
}

// processOperation runs one full attempt: pull, classify, then push or
// resolve. The record lock guarantees nothing else touches the record
// while the attempt is in flight.
func (e *Engine) processOperation(ctx context.Context, op *models.SyncOperation) error {
	unlock := e.locks.Lock(op.RecordKey())
	defer unlock()

	if err := e.queue.MarkInProgress(ctx, op.ID); err != nil {
		return fmt.Errorf("failed to mark in progress: %w", err)
	}

	snap, err := e.client.Pull(ctx, op.ModuleID, op.RecordID)
	switch {
	case errors.Is(err, httpClient.ErrNotFound):
		snap = nil
	case err != nil:
		return e.fail(ctx, op, fmt.Errorf("pull failed: %w", err))
	}

	det := e.detector.Check(op, snap)

	switch det.Outcome {
	case conflict.OutcomeNoop:
		// the server already holds the intended values
		if err := e.confirm(ctx, op, snap); err != nil {
			return err
		}
		e.logger.Info("operation converged without push",
			"op_id", op.ID,
			"record", op.RecordKey())
		return nil
	case conflict.OutcomeConflict:
		return e.resolveConflicts(ctx, op, snap, det.Conflicts)
	}

	return e.push(ctx, op, snap, op.Delta)
}

// push sends delta to the server with the just-observed server timestamp
// as the concurrency token, then confirms the result locally.
func (e *Engine) push(ctx context.Context, op *models.SyncOperation, snap *api.Snapshot, delta map[string]any) error {
	// past this point the push may reach the server even if the caller is
	// shutting down, so check for cancellation while it is still cheap
	if err := ctx.Err(); err != nil {
		return e.fail(ctx, op, err)
	}

	var expected int64
	if snap != nil {
		expected = snap.ServerTimestamp
	}

	req := api.PushRequest{
		OperationID:      op.ID,
		Kind:             string(op.Kind),
		Delta:            delta,
		ExpectedBaseline: expected,
	}

	// a send in flight is not severed by shutdown: an interrupted push
	// would leave the server state unknown
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.CallTimeout)
	defer cancel()

	resp, err := e.client.Push(pushCtx, op.ModuleID, op.RecordID, req)
	if err != nil {
		if errors.Is(err, httpClient.ErrUnavailable) {
			// the push may or may not have landed: confirm by pulling
			return e.confirmAfterTimeout(ctx, op, err)
		}
		return e.fail(ctx, op, fmt.Errorf("push failed: %w", err))
	}

	if !resp.Accepted {
		// the server moved between our pull and the push; requeue so the
		// next attempt re-pulls and re-classifies
		return e.fail(ctx, op, fmt.Errorf("push rejected: %s", resp.Reason))
	}

	confirmed := &api.Snapshot{
		ModuleID:        op.ModuleID,
		RecordID:        op.RecordID,
		ServerTimestamp: resp.ServerTimestamp,
		Fields:          mergedFields(snap, delta),
		Deleted:         op.Kind == models.KindDelete,
	}

	if err := e.confirm(ctx, op, confirmed); err != nil {
		return err
	}

	e.logger.Info("operation pushed",
		"op_id", op.ID,
		"record", op.RecordKey(),
		"kind", op.Kind,
		"server_ts", resp.ServerTimestamp)
	return nil
}

// confirmAfterTimeout handles a push whose outcome is unknown. The server
// state is re-pulled: if it reflects the intended values the push landed
// and the operation completes; otherwise the attempt failed normally.
func (e *Engine) confirmAfterTimeout(ctx context.Context, op *models.SyncOperation, pushErr error) error {
	snap, err := e.client.Pull(ctx, op.ModuleID, op.RecordID)
	if err != nil && !errors.Is(err, httpClient.ErrNotFound) {
		return e.fail(ctx, op, pushErr)
	}

	det := e.detector.Check(op, snap)
	if det.Outcome == conflict.OutcomeNoop {
		e.logger.Info("push confirmed by pull after timeout",
			"op_id", op.ID,
			"record", op.RecordKey())
		return e.confirm(ctx, op, snap)
	}

	return e.fail(ctx, op, pushErr)
}

// resolveConflicts runs every diverged field through the module's strategy.
// Fully resolved conflicts are pushed immediately; any deferral parks the
// operation until an operator decides.
func (e *Engine) resolveConflicts(ctx context.Context, op *models.SyncOperation, snap *api.Snapshot, items []*models.ConflictItem) error {
	strategy := e.resolver.StrategyFor(op.ModuleID)

	merged := make(map[string]any, len(op.Delta))
	for field, v := range op.Delta {
		merged[field] = v
	}

	deferred := ""
	for _, item := range items {
		if e.hooks.OnConflict != nil {
			e.hooks.OnConflict(item)
		}

		res, err := e.resolver.Resolve(ctx, item, strategy)
		if err != nil {
			return e.fail(ctx, op, fmt.Errorf("resolution failed: %w", err))
		}
		if !res.Resolved {
			deferred = item.ID
			continue
		}
		merged[item.Field] = res.Chosen
	}

	if deferred != "" {
		if err := e.queue.MarkConflict(ctx, op.ID, deferred); err != nil {
			return fmt.Errorf("failed to mark conflict: %w", err)
		}
		e.logger.Info("operation parked for manual resolution",
			"op_id", op.ID,
			"record", op.RecordKey(),
			"strategy", strategy)
		return nil
	}

	return e.pushResolved(ctx, op, snap, merged)
}

// pushResolved pushes the merged outcome of resolution, dropping fields the
// server already holds. An empty remainder completes without a push.
func (e *Engine) pushResolved(ctx context.Context, op *models.SyncOperation, snap *api.Snapshot, merged map[string]any) error {
	var serverFields map[string]any
	if snap != nil {
		serverFields = snap.Fields
	}

	delta := make(map[string]any, len(merged))
	for field, v := range merged {
		if sv, ok := serverFields[field]; ok && conflict.Equal(sv, v) {
			continue
		}
		delta[field] = v
	}

	if len(delta) == 0 {
		return e.confirm(ctx, op, snap)
	}

	return e.push(ctx, op, snap, delta)
}

// ApplyManualResolution records an operator's decision for one parked
// conflict. When it was the operation's last open conflict the merged
// outcome is pushed and the operation completes. Calling it again for a
// conflict that is resolved but whose operation is still parked retries
// the push, so a transient failure after the decision never wedges the
// operation.
func (e *Engine) ApplyManualResolution(ctx context.Context, conflictID string, chosen any, decidedBy string) error {
	item, err := e.conflicts.GetConflict(ctx, conflictID)
	if err != nil {
		return fmt.Errorf("failed to load conflict: %w", err)
	}

	unlock := e.locks.Lock(models.RecordKey(item.ModuleID, item.RecordID))
	defer unlock()

	if item.Status == models.ConflictResolved {
		op, err := e.queue.Get(ctx, item.OperationID)
		if errors.Is(err, storage.ErrOperationNotFound) {
			return fmt.Errorf("conflict %s is already resolved", conflictID)
		}
		if err != nil {
			return fmt.Errorf("failed to load operation: %w", err)
		}
		if op.Status != models.StatusConflict {
			return fmt.Errorf("conflict %s is already resolved", conflictID)
		}
		// the decision stuck but the push after it did not
		e.logger.Info("retrying push for resolved conflict",
			"conflict_id", conflictID,
			"op_id", op.ID)
	} else if _, err := e.resolver.ResolveManually(ctx, conflictID, chosen, decidedBy); err != nil {
		return err
	}

	pending, err := e.conflicts.ListPendingConflicts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list pending conflicts: %w", err)
	}
	for _, p := range pending {
		if p.OperationID == item.OperationID {
			e.logger.Info("conflict resolved, operation still parked",
				"conflict_id", conflictID,
				"op_id", item.OperationID)
			return nil
		}
	}

	op, err := e.queue.Get(ctx, item.OperationID)
	if err != nil {
		return fmt.Errorf("failed to load operation: %w", err)
	}

	merged, err := e.mergedResolution(ctx, op)
	if err != nil {
		return err
	}

	snap, err := e.client.Pull(ctx, op.ModuleID, op.RecordID)
	if err != nil && !errors.Is(err, httpClient.ErrNotFound) {
		return fmt.Errorf("pull failed: %w", err)
	}

	return e.pushResolved(ctx, op, snap, merged)
}

// mergedResolution rebuilds the final delta for an operation from its
// intended values overridden by the recorded resolutions. Retried
// attempts create fresh conflict items for the same field, so per field
// only the most recent decision applies.
func (e *Engine) mergedResolution(ctx context.Context, op *models.SyncOperation) (map[string]any, error) {
	merged := make(map[string]any, len(op.Delta))
	for field, v := range op.Delta {
		merged[field] = v
	}

	history, err := e.conflicts.ListResolutions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list resolutions: %w", err)
	}

	decidedAt := make(map[string]time.Time)
	for _, res := range history {
		item, err := e.conflicts.GetConflict(ctx, res.ConflictID)
		if err != nil {
			continue
		}
		if item.OperationID != op.ID {
			continue
		}
		if prev, ok := decidedAt[res.Field]; ok && res.DecidedAt.Before(prev) {
			continue
		}
		decidedAt[res.Field] = res.DecidedAt
		merged[res.Field] = res.Chosen
	}

	return merged, nil
}

// confirm writes the server-confirmed state to the cache and completes the
// operation.
func (e *Engine) confirm(ctx context.Context, op *models.SyncOperation, snap *api.Snapshot) error {
	if err := e.queue.MarkCompleted(ctx, op.ID); err != nil {
		return fmt.Errorf("failed to complete operation: %w", err)
	}

	inFlight, err := e.queue.InFlightRecordKeys(ctx)
	if err != nil {
		return fmt.Errorf("failed to list in-flight records: %w", err)
	}
	stillDirty := inFlight[op.RecordKey()]

	if snap == nil || snap.Deleted || op.Kind == models.KindDelete {
		if !stillDirty {
			if err := e.cache.DeleteRecord(ctx, op.ModuleID, op.RecordID); err != nil &&
				!errors.Is(err, storage.ErrRecordNotFound) {
				return fmt.Errorf("failed to drop cached record: %w", err)
			}
		}
		return nil
	}

	rec := &models.Record{
		ModuleID:          op.ModuleID,
		RecordID:          op.RecordID,
		Fields:            snap.Fields,
		BaselineTimestamp: snap.ServerTimestamp,
		Dirty:             stillDirty,
		CachedAt:          time.Now(),
	}
	if cached, err := e.cache.GetRecord(ctx, op.ModuleID, op.RecordID); err == nil {
		rec.Priority = cached.Priority
		if stillDirty {
			// keep unconfirmed local edits visible; only the baseline moves
			rec.Fields = cached.Fields
		}
	}

	if err := e.cache.PutRecord(ctx, rec); err != nil {
		return fmt.Errorf("failed to update cache: %w", err)
	}
	e.enforceQuota(ctx)
	return nil
}

// enforceQuota runs the ceiling check after a cache write. The operation
// is already confirmed at this point, so an eviction failure is logged
// rather than propagated.
func (e *Engine) enforceQuota(ctx context.Context) {
	if e.quota == nil {
		return
	}
	if _, err := e.quota.CheckAndEvict(ctx); err != nil {
		e.logger.Warn("quota check failed", "error", err)
	}
}

// fail marks a failed attempt and reports it. The queue decides between
// requeue and dead.
func (e *Engine) fail(ctx context.Context, op *models.SyncOperation, opErr error) error {
	if err := e.queue.MarkFailed(ctx, op.ID, opErr); err != nil {
		if !errors.Is(err, queue.ErrIllegalTransition) {
			return fmt.Errorf("failed to mark failed (%v): %w", opErr, err)
		}
		// a parked operation stays parked; the attempt error still surfaces
		e.logger.Warn("operation not requeued after failed attempt",
			"op_id", op.ID,
			"error", opErr)
	}
	if e.hooks.OnOperationFailed != nil {
		e.hooks.OnOperationFailed(op, opErr)
	}
	return opErr
}

// mergedFields projects delta over the pulled snapshot to build the state
// the server holds after an accepted push.
func mergedFields(snap *api.Snapshot, delta map[string]any) map[string]any {
	var base map[string]any
	if snap != nil {
		base = snap.Fields
	}
	out := make(map[string]any, len(base)+len(delta))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range delta {
		out[k] = v
	}
	return out
}
