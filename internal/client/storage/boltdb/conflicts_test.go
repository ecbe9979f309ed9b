package boltdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offsync/offsync/internal/client/storage"
	"github.com/offsync/offsync/internal/models"
)

func createTestConflict(id, opID string) *models.ConflictItem {
	return &models.ConflictItem{
		ID:              id,
		OperationID:     opID,
		ModuleID:        "invoices",
		RecordID:        "INV-42",
		Field:           "amount",
		LocalValue:      float64(1050),
		ServerValue:     float64(1075),
		LocalTimestamp:  5,
		ServerTimestamp: 3,
		Status:          models.ConflictPending,
		CreatedAt:       time.Now(),
	}
}

func TestStorage_SaveGetConflict(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	item := createTestConflict("cf-1", "op-1")
	require.NoError(t, store.SaveConflict(ctx, item))

	got, err := store.GetConflict(ctx, "cf-1")
	require.NoError(t, err)
	assert.Equal(t, "amount", got.Field)
	assert.Equal(t, float64(1050), got.LocalValue)
	assert.Equal(t, float64(1075), got.ServerValue)
	assert.Equal(t, models.ConflictPending, got.Status)
}

func TestStorage_GetConflict_NotFound(t *testing.T) {
	store := createTestStorage(t)

	_, err := store.GetConflict(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrConflictNotFound)
}

func TestStorage_ListPendingConflicts(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	pending := createTestConflict("cf-1", "op-1")
	resolved := createTestConflict("cf-2", "op-2")
	resolved.Status = models.ConflictResolved
	resolved.Resolution = models.ChoiceServer

	require.NoError(t, store.SaveConflict(ctx, pending))
	require.NoError(t, store.SaveConflict(ctx, resolved))

	items, err := store.ListPendingConflicts(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "cf-1", items[0].ID)
}

func TestStorage_ResolutionHistory_AppendOrder(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	for i, by := range []string{"strategy:timestamp-wins", "operator:jdoe", "strategy:server-wins"} {
		res := &models.Resolution{
			ID:         "res-" + by,
			ConflictID: "cf-1",
			ModuleID:   "invoices",
			RecordID:   "INV-42",
			Field:      "amount",
			Chosen:     float64(1000 + i),
			Choice:     models.ChoiceLocal,
			DecidedBy:  by,
			DecidedAt:  time.Now(),
		}
		require.NoError(t, store.AppendResolution(ctx, res))
	}

	history, err := store.ListResolutions(ctx)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "strategy:timestamp-wins", history[0].DecidedBy)
	assert.Equal(t, "operator:jdoe", history[1].DecidedBy)
	assert.Equal(t, "strategy:server-wins", history[2].DecidedBy)
}
