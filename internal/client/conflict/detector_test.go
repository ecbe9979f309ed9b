package conflict

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offsync/offsync/internal/models"
	"github.com/offsync/offsync/pkg/api"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func checkOp(baseline, delta map[string]any) *models.SyncOperation {
	return &models.SyncOperation{
		ID:                "op-1",
		ModuleID:          "invoices",
		RecordID:          "INV-42",
		Kind:              models.KindUpdate,
		Baseline:          baseline,
		Delta:             delta,
		BaselineTimestamp: 3,
		CreatedAt:         time.Now(),
	}
}

func snapshot(fields map[string]any, ts int64) *api.Snapshot {
	return &api.Snapshot{
		ModuleID:        "invoices",
		RecordID:        "INV-42",
		Fields:          fields,
		ServerTimestamp: ts,
	}
}

// The three-way truth table: with baseline B, intended local value L and
// server value S: S==B is a clean apply, S==L is idempotent convergence,
// anything else is genuine divergence.
func TestDetector_Check_TruthTable(t *testing.T) {
	d := NewDetector(testLogger())

	tests := []struct {
		name    string
		server  any
		want    Outcome
	}{
		{"server still at baseline", float64(1000), OutcomeClean},
		{"server already at intended value", float64(1050), OutcomeNoop},
		{"server moved elsewhere", float64(1075), OutcomeConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := checkOp(
				map[string]any{"amount": float64(1000)},
				map[string]any{"amount": float64(1050)},
			)
			det := d.Check(op, snapshot(map[string]any{"amount": tt.server}, 9))
			assert.Equal(t, tt.want, det.Outcome)
		})
	}
}

// Example from the invoice workflow: baseline 1000, offline edit to 1050,
// server independently moved to 1075.
func TestDetector_Check_DivergedInvoice(t *testing.T) {
	d := NewDetector(testLogger())

	op := checkOp(
		map[string]any{"amount": float64(1000)},
		map[string]any{"amount": float64(1050)},
	)
	det := d.Check(op, snapshot(map[string]any{"amount": float64(1075)}, 9))

	require.Equal(t, OutcomeConflict, det.Outcome)
	require.Len(t, det.Conflicts, 1)

	item := det.Conflicts[0]
	assert.Equal(t, "amount", item.Field)
	assert.Equal(t, float64(1050), item.LocalValue)
	assert.Equal(t, float64(1075), item.ServerValue)
	assert.Equal(t, "op-1", item.OperationID)
	assert.Equal(t, int64(9), item.ServerTimestamp)
	assert.Equal(t, models.ConflictPending, item.Status)
}

func TestDetector_Check_UntouchedFieldsIgnored(t *testing.T) {
	d := NewDetector(testLogger())

	// the server changed "label", but the operation only touches "amount"
	op := checkOp(
		map[string]any{"amount": float64(1000)},
		map[string]any{"amount": float64(1050)},
	)
	det := d.Check(op, snapshot(map[string]any{
		"amount": float64(1000),
		"label":  "renamed upstream",
	}, 9))

	assert.Equal(t, OutcomeClean, det.Outcome)
	assert.Empty(t, det.Conflicts)
}

func TestDetector_Check_MultiFieldPartialConflict(t *testing.T) {
	d := NewDetector(testLogger())

	op := checkOp(
		map[string]any{"amount": float64(1000), "status": "draft"},
		map[string]any{"amount": float64(1050), "status": "sent"},
	)
	// amount is clean, status diverged
	det := d.Check(op, snapshot(map[string]any{
		"amount": float64(1000),
		"status": "cancelled",
	}, 9))

	require.Equal(t, OutcomeConflict, det.Outcome)
	require.Len(t, det.Conflicts, 1)
	assert.Equal(t, "status", det.Conflicts[0].Field)
}

func TestDetector_Check_NilSnapshotForCreate(t *testing.T) {
	d := NewDetector(testLogger())

	op := &models.SyncOperation{
		ID:        "op-1",
		ModuleID:  "invoices",
		RecordID:  "INV-NEW",
		Kind:      models.KindCreate,
		Delta:     map[string]any{"amount": float64(500)},
		CreatedAt: time.Now(),
	}

	det := d.Check(op, nil)
	assert.Equal(t, OutcomeClean, det.Outcome)
}

func TestDetector_Check_NumericFormsCompareEqual(t *testing.T) {
	d := NewDetector(testLogger())

	// the local delta came straight from the caller (int), the server
	// value went through JSON (float64)
	op := checkOp(
		map[string]any{"amount": 1000},
		map[string]any{"amount": 1050},
	)
	det := d.Check(op, snapshot(map[string]any{"amount": float64(1050)}, 9))
	assert.Equal(t, OutcomeNoop, det.Outcome)
}

func TestDetector_Check_Deterministic(t *testing.T) {
	d := NewDetector(testLogger())

	op := checkOp(
		map[string]any{"amount": float64(1000)},
		map[string]any{"amount": float64(1050)},
	)
	snap := snapshot(map[string]any{"amount": float64(1075)}, 9)

	first := d.Check(op, snap)
	for i := 0; i < 10; i++ {
		again := d.Check(op, snap)
		assert.Equal(t, first.Outcome, again.Outcome)
		require.Len(t, again.Conflicts, len(first.Conflicts))
		assert.Equal(t, first.Conflicts[0].Field, again.Conflicts[0].Field)
	}
}
