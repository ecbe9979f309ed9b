package engine

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpClient "github.com/offsync/offsync/internal/client/api"
	"github.com/offsync/offsync/internal/client/conflict"
	"github.com/offsync/offsync/internal/client/queue"
	"github.com/offsync/offsync/internal/client/quota"
	"github.com/offsync/offsync/internal/client/storage"
	"github.com/offsync/offsync/internal/client/storage/boltdb"
	"github.com/offsync/offsync/internal/models"
	"github.com/offsync/offsync/pkg/api"
)

type testEnv struct {
	engine *Engine
	store  *boltdb.Storage
	queue  *queue.Service
	client *httpClient.ClientAPIMock
}

func createTestEngine(t *testing.T, client *httpClient.ClientAPIMock, resolverCfg conflict.Config, hooks Hooks) *testEnv {
	t.Helper()

	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "engine_test.db")

	store, err := boltdb.New(ctx, dbPath)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	q, err := queue.NewService(store, store, 3, logger)
	require.NoError(t, err)

	resolver, err := conflict.NewResolver(store, resolverCfg, logger)
	require.NoError(t, err)

	cfg := Config{
		Workers:     2,
		BatchSize:   8,
		CallTimeout: time.Second,
		BackoffBase: time.Millisecond,
		BackoffCap:  5 * time.Millisecond,
	}

	e := NewEngine(q, client, store, store,
		conflict.NewDetector(logger), resolver, nil, nil, cfg, hooks, logger)

	return &testEnv{engine: e, store: store, queue: q, client: client}
}

func seedCachedRecord(t *testing.T, env *testEnv, moduleID, recordID string, fields map[string]any, baselineTS int64) {
	t.Helper()
	require.NoError(t, env.store.PutRecord(context.Background(), &models.Record{
		ModuleID:          moduleID,
		RecordID:          recordID,
		Fields:            fields,
		BaselineTimestamp: baselineTS,
		CachedAt:          time.Now(),
	}))
}

// fakeServer holds one record's authoritative state behind the API mock.
type fakeServer struct {
	mu       sync.Mutex
	fields   map[string]any
	ts       int64
	exists   bool
	pushDown bool
}

// setPushDown makes pushes fail as unreachable while pulls keep working
func (s *fakeServer) setPushDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushDown = down
}

func newFakeServer(fields map[string]any, ts int64) *fakeServer {
	return &fakeServer{fields: fields, ts: ts, exists: fields != nil}
}

func (s *fakeServer) mock() *httpClient.ClientAPIMock {
	return &httpClient.ClientAPIMock{
		PullFunc: func(ctx context.Context, moduleID, recordID string) (*api.Snapshot, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if !s.exists {
				return nil, httpClient.ErrNotFound
			}
			fields := make(map[string]any, len(s.fields))
			for k, v := range s.fields {
				fields[k] = v
			}
			return &api.Snapshot{
				ModuleID:        moduleID,
				RecordID:        recordID,
				Fields:          fields,
				ServerTimestamp: s.ts,
			}, nil
		},
		PushFunc: func(ctx context.Context, moduleID, recordID string, req api.PushRequest) (*api.PushResponse, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.pushDown {
				return nil, httpClient.ErrUnavailable
			}
			if s.exists && req.ExpectedBaseline != s.ts {
				return &api.PushResponse{
					Accepted:        false,
					Reason:          api.ReasonBaselineMismatch,
					ServerTimestamp: s.ts,
				}, nil
			}
			if s.fields == nil {
				s.fields = make(map[string]any)
			}
			for k, v := range req.Delta {
				s.fields[k] = v
			}
			s.exists = true
			s.ts++
			return &api.PushResponse{Accepted: true, ServerTimestamp: s.ts}, nil
		},
	}
}

func TestEngine_CleanPushCompletes(t *testing.T) {
	ctx := context.Background()
	server := newFakeServer(map[string]any{"title": "draft"}, 1000)
	env := createTestEngine(t, server.mock(), conflict.Config{DefaultStrategy: conflict.StrategyManual}, Hooks{})

	seedCachedRecord(t, env, "notes", "n1", map[string]any{"title": "draft"}, 1000)

	_, err := env.queue.Enqueue(ctx, queue.EnqueueRequest{
		ModuleID: "notes",
		RecordID: "n1",
		Kind:     models.KindUpdate,
		Delta:    map[string]any{"title": "edited"},
	})
	require.NoError(t, err)

	require.NoError(t, env.engine.syncBatches(ctx))

	count, err := env.queue.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	pushes := env.client.PushCalls()
	require.Len(t, pushes, 1)
	assert.Equal(t, int64(1000), pushes[0].Req.ExpectedBaseline)
	assert.NotEmpty(t, pushes[0].Req.OperationID)

	rec, err := env.store.GetRecord(ctx, "notes", "n1")
	require.NoError(t, err)
	assert.False(t, rec.Dirty)
	assert.Equal(t, "edited", rec.Fields["title"])
	assert.Equal(t, int64(1001), rec.BaselineTimestamp)
}

func TestEngine_NoopWhenServerAlreadyConverged(t *testing.T) {
	ctx := context.Background()
	server := newFakeServer(map[string]any{"title": "edited"}, 2000)
	env := createTestEngine(t, server.mock(), conflict.Config{DefaultStrategy: conflict.StrategyManual}, Hooks{})

	seedCachedRecord(t, env, "notes", "n1", map[string]any{"title": "draft"}, 1000)

	_, err := env.queue.Enqueue(ctx, queue.EnqueueRequest{
		ModuleID: "notes",
		RecordID: "n1",
		Kind:     models.KindUpdate,
		Delta:    map[string]any{"title": "edited"},
	})
	require.NoError(t, err)

	require.NoError(t, env.engine.syncBatches(ctx))

	assert.Empty(t, env.client.PushCalls(), "converged state needs no push")

	count, err := env.queue.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	rec, err := env.store.GetRecord(ctx, "notes", "n1")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), rec.BaselineTimestamp)
	assert.False(t, rec.Dirty)
}

func TestEngine_CreateWhenServerHasNoCopy(t *testing.T) {
	ctx := context.Background()
	server := newFakeServer(nil, 0)
	env := createTestEngine(t, server.mock(), conflict.Config{DefaultStrategy: conflict.StrategyManual}, Hooks{})

	_, err := env.queue.Enqueue(ctx, queue.EnqueueRequest{
		ModuleID: "notes",
		RecordID: "fresh",
		Kind:     models.KindCreate,
		Delta:    map[string]any{"title": "new note"},
	})
	require.NoError(t, err)

	require.NoError(t, env.engine.syncBatches(ctx))

	pushes := env.client.PushCalls()
	require.Len(t, pushes, 1)
	assert.Equal(t, int64(0), pushes[0].Req.ExpectedBaseline)
	assert.Equal(t, string(models.KindCreate), pushes[0].Req.Kind)

	rec, err := env.store.GetRecord(ctx, "notes", "fresh")
	require.NoError(t, err)
	assert.Equal(t, "new note", rec.Fields["title"])
	assert.False(t, rec.Dirty)
}

func TestEngine_ServerWinsResolvesWithoutPush(t *testing.T) {
	ctx := context.Background()
	server := newFakeServer(map[string]any{"title": "server edit"}, 3000)
	env := createTestEngine(t, server.mock(),
		conflict.Config{DefaultStrategy: conflict.StrategyServerWins}, Hooks{})

	seedCachedRecord(t, env, "notes", "n1", map[string]any{"title": "draft"}, 1000)

	_, err := env.queue.Enqueue(ctx, queue.EnqueueRequest{
		ModuleID: "notes",
		RecordID: "n1",
		Kind:     models.KindUpdate,
		Delta:    map[string]any{"title": "local edit"},
	})
	require.NoError(t, err)

	require.NoError(t, env.engine.syncBatches(ctx))

	assert.Empty(t, env.client.PushCalls(), "adopting the server value needs no push")

	count, err := env.queue.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	rec, err := env.store.GetRecord(ctx, "notes", "n1")
	require.NoError(t, err)
	assert.Equal(t, "server edit", rec.Fields["title"])

	history, err := env.store.ListResolutions(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.ChoiceServer, history[0].Choice)
	assert.Equal(t, "strategy:server-wins", history[0].DecidedBy)
}

func TestEngine_LocalWinsPushesLocalValue(t *testing.T) {
	ctx := context.Background()
	server := newFakeServer(map[string]any{"title": "server edit"}, 3000)
	env := createTestEngine(t, server.mock(),
		conflict.Config{DefaultStrategy: conflict.StrategyLocalWins}, Hooks{})

	seedCachedRecord(t, env, "notes", "n1", map[string]any{"title": "draft"}, 1000)

	_, err := env.queue.Enqueue(ctx, queue.EnqueueRequest{
		ModuleID: "notes",
		RecordID: "n1",
		Kind:     models.KindUpdate,
		Delta:    map[string]any{"title": "local edit"},
	})
	require.NoError(t, err)

	require.NoError(t, env.engine.syncBatches(ctx))

	pushes := env.client.PushCalls()
	require.Len(t, pushes, 1)
	assert.Equal(t, "local edit", pushes[0].Req.Delta["title"])

	rec, err := env.store.GetRecord(ctx, "notes", "n1")
	require.NoError(t, err)
	assert.Equal(t, "local edit", rec.Fields["title"])
	assert.False(t, rec.Dirty)
}

func TestEngine_ManualConflictParksOperation(t *testing.T) {
	ctx := context.Background()
	server := newFakeServer(map[string]any{"title": "server edit"}, 3000)

	var seen []*models.ConflictItem
	hooks := Hooks{OnConflict: func(item *models.ConflictItem) {
		seen = append(seen, item)
	}}
	env := createTestEngine(t, server.mock(),
		conflict.Config{DefaultStrategy: conflict.StrategyManual}, hooks)

	seedCachedRecord(t, env, "notes", "n1", map[string]any{"title": "draft"}, 1000)

	op, err := env.queue.Enqueue(ctx, queue.EnqueueRequest{
		ModuleID: "notes",
		RecordID: "n1",
		Kind:     models.KindUpdate,
		Delta:    map[string]any{"title": "local edit"},
	})
	require.NoError(t, err)

	require.NoError(t, env.engine.syncBatches(ctx))

	assert.Empty(t, env.client.PushCalls())
	require.Len(t, seen, 1)

	parked, err := env.queue.Get(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConflict, parked.Status)
	assert.Equal(t, seen[0].ID, parked.ConflictID)

	// the record is blocked until the operator decides
	batch, err := env.queue.PeekNextBatch(ctx, 8)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestEngine_ApplyManualResolutionCompletesOperation(t *testing.T) {
	ctx := context.Background()
	server := newFakeServer(map[string]any{"title": "server edit"}, 3000)

	var seen []*models.ConflictItem
	hooks := Hooks{OnConflict: func(item *models.ConflictItem) {
		seen = append(seen, item)
	}}
	env := createTestEngine(t, server.mock(),
		conflict.Config{DefaultStrategy: conflict.StrategyManual}, hooks)

	seedCachedRecord(t, env, "notes", "n1", map[string]any{"title": "draft"}, 1000)

	op, err := env.queue.Enqueue(ctx, queue.EnqueueRequest{
		ModuleID: "notes",
		RecordID: "n1",
		Kind:     models.KindUpdate,
		Delta:    map[string]any{"title": "local edit"},
	})
	require.NoError(t, err)

	require.NoError(t, env.engine.syncBatches(ctx))
	require.Len(t, seen, 1)

	// the operator merges both edits into a compromise value
	err = env.engine.ApplyManualResolution(ctx, seen[0].ID, "merged edit", "operator:alice")
	require.NoError(t, err)

	pushes := env.client.PushCalls()
	require.Len(t, pushes, 1)
	assert.Equal(t, "merged edit", pushes[0].Req.Delta["title"])

	_, err = env.queue.Get(ctx, op.ID)
	assert.Error(t, err, "completed operation leaves the queue")

	rec, err := env.store.GetRecord(ctx, "notes", "n1")
	require.NoError(t, err)
	assert.Equal(t, "merged edit", rec.Fields["title"])
	assert.False(t, rec.Dirty)

	history, err := env.store.ListResolutions(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.ChoiceManual, history[0].Choice)
	assert.Equal(t, "operator:alice", history[0].DecidedBy)
}

func TestEngine_ManualResolutionSurvivesPushFailure(t *testing.T) {
	ctx := context.Background()
	server := newFakeServer(map[string]any{"title": "server edit"}, 3000)

	var seen []*models.ConflictItem
	hooks := Hooks{OnConflict: func(item *models.ConflictItem) {
		seen = append(seen, item)
	}}
	env := createTestEngine(t, server.mock(),
		conflict.Config{DefaultStrategy: conflict.StrategyManual}, hooks)

	seedCachedRecord(t, env, "notes", "n1", map[string]any{"title": "draft"}, 1000)

	op, err := env.queue.Enqueue(ctx, queue.EnqueueRequest{
		ModuleID: "notes",
		RecordID: "n1",
		Kind:     models.KindUpdate,
		Delta:    map[string]any{"title": "local edit"},
	})
	require.NoError(t, err)

	require.NoError(t, env.engine.syncBatches(ctx))
	require.Len(t, seen, 1)

	// the operator decides while pushes cannot reach the server
	server.setPushDown(true)
	err = env.engine.ApplyManualResolution(ctx, seen[0].ID, "merged edit", "operator:alice")
	require.Error(t, err)

	queued, err := env.queue.Get(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConflict, queued.Status, "operation stays parked")

	history, err := env.store.ListResolutions(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1, "the decision itself is durable")

	// once the server is reachable the same resolve retries the push
	server.setPushDown(false)
	require.NoError(t, env.engine.ApplyManualResolution(ctx, seen[0].ID, "merged edit", "operator:alice"))

	_, err = env.queue.Get(ctx, op.ID)
	assert.Error(t, err, "completed operation leaves the queue")

	rec, err := env.store.GetRecord(ctx, "notes", "n1")
	require.NoError(t, err)
	assert.Equal(t, "merged edit", rec.Fields["title"])

	history, err = env.store.ListResolutions(ctx)
	require.NoError(t, err)
	assert.Len(t, history, 1, "retry does not duplicate the history row")

	// with the operation gone the conflict is settled for good
	err = env.engine.ApplyManualResolution(ctx, seen[0].ID, "merged edit", "operator:alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already resolved")
}

func TestEngine_ConfirmEnforcesQuota(t *testing.T) {
	ctx := context.Background()
	server := newFakeServer(nil, 0)

	env := createTestEngine(t, server.mock(),
		conflict.Config{DefaultStrategy: conflict.StrategyManual}, Hooks{})

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	env.engine.quota = quota.NewManager(env.store, env.queue, quota.Config{
		CeilingBytes:     1024,
		WatermarkPercent: 90,
	}, nil, logger)

	// a large passive dataset fills most of the ceiling
	require.NoError(t, env.store.PutRecord(ctx, &models.Record{
		ModuleID: "archive",
		RecordID: "bulk",
		Fields:   map[string]any{"blob": strings.Repeat("x", 900)},
		CachedAt: time.Now().Add(-time.Hour),
	}))

	_, err := env.queue.Enqueue(ctx, queue.EnqueueRequest{
		ModuleID: "notes",
		RecordID: "n1",
		Kind:     models.KindCreate,
		Delta:    map[string]any{"body": strings.Repeat("y", 400)},
	})
	require.NoError(t, err)

	require.NoError(t, env.engine.syncBatches(ctx))

	// confirming the push grew the cache past the ceiling; the write
	// itself triggers eviction of the passive dataset
	_, err = env.store.GetRecord(ctx, "archive", "bulk")
	assert.ErrorIs(t, err, storage.ErrRecordNotFound)

	rec, err := env.store.GetRecord(ctx, "notes", "n1")
	require.NoError(t, err)
	assert.False(t, rec.Dirty)

	usage, err := env.store.Usage(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, usage.TotalBytes, int64(1024))
}

func TestEngine_MergedResolutionPrefersLatestDecision(t *testing.T) {
	ctx := context.Background()
	env := createTestEngine(t, newFakeServer(nil, 0).mock(),
		conflict.Config{DefaultStrategy: conflict.StrategyManual}, Hooks{})

	op := &models.SyncOperation{
		ID:       "op-1",
		ModuleID: "notes",
		RecordID: "n1",
		Delta:    map[string]any{"title": "intended"},
	}

	// two attempts produced two conflict items for the same field
	now := time.Now()
	for _, c := range []struct {
		id      string
		decided time.Time
		chosen  string
	}{
		// the later decision is appended first to show append order
		// does not drive the merge
		{id: "c-new", decided: now, chosen: "final"},
		{id: "c-old", decided: now.Add(-time.Minute), chosen: "stale"},
	} {
		require.NoError(t, env.store.SaveConflict(ctx, &models.ConflictItem{
			ID:          c.id,
			OperationID: op.ID,
			ModuleID:    "notes",
			RecordID:    "n1",
			Field:       "title",
			Status:      models.ConflictResolved,
			CreatedAt:   c.decided,
		}))
		require.NoError(t, env.store.AppendResolution(ctx, &models.Resolution{
			ID:         "res-" + c.id,
			ConflictID: c.id,
			ModuleID:   "notes",
			RecordID:   "n1",
			Field:      "title",
			Choice:     models.ChoiceManual,
			Chosen:     c.chosen,
			DecidedBy:  "operator:alice",
			DecidedAt:  c.decided,
		}))
	}

	merged, err := env.engine.mergedResolution(ctx, op)
	require.NoError(t, err)
	assert.Equal(t, "final", merged["title"])
}

func TestEngine_RejectedPushGoesDeadAfterRetryBudget(t *testing.T) {
	ctx := context.Background()

	// the server always rejects: its timestamp never matches expectations
	client := &httpClient.ClientAPIMock{
		PullFunc: func(ctx context.Context, moduleID, recordID string) (*api.Snapshot, error) {
			return &api.Snapshot{
				ModuleID:        moduleID,
				RecordID:        recordID,
				Fields:          map[string]any{"title": "draft"},
				ServerTimestamp: 1000,
			}, nil
		},
		PushFunc: func(ctx context.Context, moduleID, recordID string, req api.PushRequest) (*api.PushResponse, error) {
			return &api.PushResponse{
				Accepted:        false,
				Reason:          api.ReasonBaselineMismatch,
				ServerTimestamp: 5000,
			}, nil
		},
	}

	var failures int
	hooks := Hooks{OnOperationFailed: func(op *models.SyncOperation, err error) {
		failures++
	}}
	env := createTestEngine(t, client, conflict.Config{DefaultStrategy: conflict.StrategyManual}, hooks)

	seedCachedRecord(t, env, "notes", "n1", map[string]any{"title": "draft"}, 1000)

	op, err := env.queue.Enqueue(ctx, queue.EnqueueRequest{
		ModuleID: "notes",
		RecordID: "n1",
		Kind:     models.KindUpdate,
		Delta:    map[string]any{"title": "edited"},
	})
	require.NoError(t, err)

	require.NoError(t, env.engine.syncBatches(ctx))

	assert.Equal(t, 3, failures, "one failure per attempt until the budget runs out")

	dead, err := env.queue.ListDead(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, op.ID, dead[0].ID)
	assert.Contains(t, dead[0].LastError, "push rejected")
}

func TestEngine_PushTimeoutConfirmedByPull(t *testing.T) {
	ctx := context.Background()

	// the push times out on the wire but the server applied it: the
	// follow-up pull shows the intended value already in place
	client := &httpClient.ClientAPIMock{
		PullFunc: func() func(ctx context.Context, moduleID, recordID string) (*api.Snapshot, error) {
			calls := 0
			var mu sync.Mutex
			return func(ctx context.Context, moduleID, recordID string) (*api.Snapshot, error) {
				mu.Lock()
				defer mu.Unlock()
				calls++
				if calls == 1 {
					return &api.Snapshot{
						ModuleID:        moduleID,
						RecordID:        recordID,
						Fields:          map[string]any{"title": "draft"},
						ServerTimestamp: 1000,
					}, nil
				}
				return &api.Snapshot{
					ModuleID:        moduleID,
					RecordID:        recordID,
					Fields:          map[string]any{"title": "edited"},
					ServerTimestamp: 1001,
				}, nil
			}
		}(),
		PushFunc: func(ctx context.Context, moduleID, recordID string, req api.PushRequest) (*api.PushResponse, error) {
			return nil, httpClient.ErrUnavailable
		},
	}

	env := createTestEngine(t, client, conflict.Config{DefaultStrategy: conflict.StrategyManual}, Hooks{})

	seedCachedRecord(t, env, "notes", "n1", map[string]any{"title": "draft"}, 1000)

	_, err := env.queue.Enqueue(ctx, queue.EnqueueRequest{
		ModuleID: "notes",
		RecordID: "n1",
		Kind:     models.KindUpdate,
		Delta:    map[string]any{"title": "edited"},
	})
	require.NoError(t, err)

	require.NoError(t, env.engine.syncBatches(ctx))

	assert.Len(t, env.client.PushCalls(), 1, "the ambiguous push is not repeated")

	count, err := env.queue.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	rec, err := env.store.GetRecord(ctx, "notes", "n1")
	require.NoError(t, err)
	assert.Equal(t, int64(1001), rec.BaselineTimestamp)
}

func TestEngine_PerRecordOrderAcrossBatches(t *testing.T) {
	ctx := context.Background()
	server := newFakeServer(map[string]any{"rev": "r0"}, 100)
	env := createTestEngine(t, server.mock(), conflict.Config{DefaultStrategy: conflict.StrategyManual}, Hooks{})

	seedCachedRecord(t, env, "notes", "n1", map[string]any{"rev": "r0"}, 100)

	for _, rev := range []string{"r1", "r2", "r3"} {
		_, err := env.queue.Enqueue(ctx, queue.EnqueueRequest{
			ModuleID: "notes",
			RecordID: "n1",
			Kind:     models.KindUpdate,
			Delta:    map[string]any{"rev": rev},
		})
		require.NoError(t, err)
	}

	require.NoError(t, env.engine.syncBatches(ctx))

	pushes := env.client.PushCalls()
	require.Len(t, pushes, 3)
	for i, rev := range []string{"r1", "r2", "r3"} {
		assert.Equal(t, rev, pushes[i].Req.Delta["rev"], "pushes preserve creation order")
	}

	rec, err := env.store.GetRecord(ctx, "notes", "n1")
	require.NoError(t, err)
	assert.Equal(t, "r3", rec.Fields["rev"])
	assert.False(t, rec.Dirty)
}

func TestEngine_DeleteDropsCachedCopy(t *testing.T) {
	ctx := context.Background()
	server := newFakeServer(map[string]any{"title": "draft"}, 1000)
	env := createTestEngine(t, server.mock(), conflict.Config{DefaultStrategy: conflict.StrategyManual}, Hooks{})

	seedCachedRecord(t, env, "notes", "n1", map[string]any{"title": "draft"}, 1000)

	_, err := env.queue.Enqueue(ctx, queue.EnqueueRequest{
		ModuleID: "notes",
		RecordID: "n1",
		Kind:     models.KindDelete,
	})
	require.NoError(t, err)

	require.NoError(t, env.engine.syncBatches(ctx))

	pushes := env.client.PushCalls()
	require.Len(t, pushes, 1)
	assert.Equal(t, string(models.KindDelete), pushes[0].Req.Kind)

	_, err = env.store.GetRecord(ctx, "notes", "n1")
	assert.Error(t, err, "confirmed delete drops the local copy")
}

func TestEngine_ProgressHookCountsUp(t *testing.T) {
	ctx := context.Background()
	server := newFakeServer(nil, 0)

	var (
		mu       sync.Mutex
		progress []int
	)
	hooks := Hooks{OnSyncProgress: func(batchID string, completed, total int) {
		mu.Lock()
		defer mu.Unlock()
		progress = append(progress, completed)
		assert.Equal(t, 3, total)
	}}
	env := createTestEngine(t, server.mock(), conflict.Config{DefaultStrategy: conflict.StrategyManual}, hooks)

	for _, id := range []string{"a", "b", "c"} {
		_, err := env.queue.Enqueue(ctx, queue.EnqueueRequest{
			ModuleID: "notes",
			RecordID: id,
			Kind:     models.KindCreate,
			Delta:    map[string]any{"title": id},
		})
		require.NoError(t, err)
	}

	require.NoError(t, env.engine.syncBatches(ctx))

	assert.Len(t, progress, 3)
	assert.Contains(t, progress, 3, "the last report covers the whole batch")
}

func TestEngine_TriggerSyncNeverBlocks(t *testing.T) {
	server := newFakeServer(nil, 0)
	env := createTestEngine(t, server.mock(), conflict.Config{DefaultStrategy: conflict.StrategyManual}, Hooks{})

	for range 10 {
		env.engine.TriggerSync()
	}
	assert.Equal(t, StateIdle, env.engine.State())
}

func TestRecordLocks_Exclusive(t *testing.T) {
	locks := newRecordLocks()

	var (
		wg      sync.WaitGroup
		counter int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				unlock := locks.Lock("notes/n1")
				counter++
				unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 800, counter)
}

func TestRecordLocks_IndependentKeysDoNotContend(t *testing.T) {
	locks := newRecordLocks()

	unlockA := locks.Lock("notes/a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := locks.Lock("notes/b")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different record blocked")
	}
}
