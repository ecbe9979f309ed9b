// Package conflict classifies divergence between queued local edits and
// the authoritative server state, and resolves it under a configured
// strategy.
package conflict

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/offsync/offsync/internal/models"
	"github.com/offsync/offsync/pkg/api"
)

// Outcome of checking one operation against a server snapshot
type Outcome int

// Outcomes
const (
	// OutcomeClean: the server hasn't moved from the baseline, the
	// operation applies without conflict
	OutcomeClean Outcome = iota
	// OutcomeNoop: the server already holds the intended values, nothing
	// to push (idempotent convergence)
	OutcomeNoop
	// OutcomeConflict: genuine divergence on at least one field
	OutcomeConflict
)

// String returns the outcome name
func (o Outcome) String() string {
	switch o {
	case OutcomeClean:
		return "clean"
	case OutcomeNoop:
		return "noop"
	case OutcomeConflict:
		return "conflict"
	}
	return "unknown"
}

// Detection is the result of a three-way check
type Detection struct {
	Outcome Outcome
	// Conflicts holds one item per diverged field; empty unless the
	// outcome is OutcomeConflict
	Conflicts []*models.ConflictItem
}

// Detector performs the three-way comparison between an operation's
// baseline, its intended values and the server's current state
type Detector struct {
	logger *slog.Logger
}

// NewDetector creates a detector
func NewDetector(logger *slog.Logger) *Detector {
	return &Detector{logger: logger}
}

// Check classifies op against the server snapshot. For each touched field:
//
//	server == baseline  -> clean apply (the server hasn't moved)
//	server == intended  -> no-op (both sides converged independently)
//	otherwise           -> genuine divergence, a ConflictItem is emitted
//
// The baseline comparison is what separates real conflicts from stale-read
// false positives caused purely by latency. A nil snapshot means the server
// has no copy of the record.
func (d *Detector) Check(op *models.SyncOperation, snap *api.Snapshot) *Detection {
	det := &Detection{}

	var (
		serverFields map[string]any
		serverTS     int64
	)
	if snap != nil {
		serverFields = snap.Fields
		serverTS = snap.ServerTimestamp
	}

	clean := 0
	for field, intended := range op.Delta {
		baseline, hadBaseline := op.Baseline[field]
		server, onServer := serverFields[field]

		switch {
		case !onServer && !hadBaseline:
			// the field is new on both ends of the comparison
			clean++
		case onServer && Equal(server, baseline):
			clean++
		case onServer && Equal(server, intended):
			// already converged, nothing to push for this field
		default:
			det.Conflicts = append(det.Conflicts, &models.ConflictItem{
				ID:              uuid.New().String(),
				OperationID:     op.ID,
				ModuleID:        op.ModuleID,
				RecordID:        op.RecordID,
				Field:           field,
				LocalValue:      intended,
				ServerValue:     server,
				LocalTimestamp:  op.CreatedAt.UnixMilli(),
				ServerTimestamp: serverTS,
				Status:          models.ConflictPending,
				CreatedAt:       time.Now(),
			})
		}
	}

	switch {
	case len(det.Conflicts) > 0:
		det.Outcome = OutcomeConflict
		d.logger.Debug("divergence detected",
			"op_id", op.ID,
			"record", op.RecordKey(),
			"fields", len(det.Conflicts))
	case clean == 0 && len(op.Delta) > 0:
		det.Outcome = OutcomeNoop
	default:
		det.Outcome = OutcomeClean
	}

	return det
}

// Equal reports whether two opaque field values are the same. Both sides
// may have gone through JSON independently, so the comparison normalizes
// through canonical JSON (Go marshals map keys sorted).
func Equal(a, b any) bool {
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(aj, bj)
}
