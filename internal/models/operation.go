package models

import "time"

// OperationKind identifies the type of mutation an operation carries.
type OperationKind string

// Operation kinds
const (
	KindCreate OperationKind = "create"
	KindUpdate OperationKind = "update"
	KindDelete OperationKind = "delete"
)

// Valid reports whether the kind is one of the known mutation types.
func (k OperationKind) Valid() bool {
	switch k {
	case KindCreate, KindUpdate, KindDelete:
		return true
	}
	return false
}

// OperationStatus is the state of a queued operation.
type OperationStatus string

// Operation statuses. The lifecycle is:
//
//	pending -> in_progress -> {completed | failed | conflict}
//	failed  -> pending (retry, bounded by max attempts) | dead
//	conflict -> completed (once resolved)
//	dead    -> pending (operator retry only)
//
// completed is strictly terminal: nothing ever transitions out of it,
// which is what makes application at-most-once.
const (
	StatusPending    OperationStatus = "pending"
	StatusInProgress OperationStatus = "in_progress"
	StatusCompleted  OperationStatus = "completed"
	StatusFailed     OperationStatus = "failed"
	StatusConflict   OperationStatus = "conflict"
	StatusDead       OperationStatus = "dead"
)

// Terminal reports whether an operation in this status will never move
// again without operator intervention.
func (s OperationStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusDead
}

// CanTransition reports whether moving an operation from one status to
// another is legal.
func CanTransition(from, to OperationStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusInProgress
	case StatusInProgress:
		return to == StatusCompleted || to == StatusFailed || to == StatusConflict
	case StatusFailed:
		return to == StatusPending || to == StatusDead
	case StatusConflict:
		return to == StatusCompleted
	case StatusDead:
		// Operator retry. Discard removes the operation instead.
		return to == StatusPending
	case StatusCompleted:
		return false
	}
	return false
}

// SyncOperation is one pending mutation in the queue.
//
// Baseline holds, per touched field, the value the local edit was computed
// against (captured at enqueue time); BaselineTimestamp is the server
// timestamp of that state. Seq is assigned by the queue storage and fixes
// creation order across restarts.
type SyncOperation struct {
	CreatedAt         time.Time       `json:"created_at"`
	Delta             map[string]any  `json:"delta"`
	Baseline          map[string]any  `json:"baseline"`
	ID                string          `json:"id"`
	ModuleID          string          `json:"module_id"`
	RecordID          string          `json:"record_id"`
	Kind              OperationKind   `json:"kind"`
	Status            OperationStatus `json:"status"`
	LastError         string          `json:"last_error,omitempty"`
	ConflictID        string          `json:"conflict_id,omitempty"`
	BaselineTimestamp int64           `json:"baseline_timestamp"`
	Seq               uint64          `json:"seq"`
	Attempts          int             `json:"attempts"`
}

// RecordKey returns the composite key of the record this operation targets.
func (o *SyncOperation) RecordKey() string {
	return RecordKey(o.ModuleID, o.RecordID)
}

// Clone creates a deep copy of the operation.
func (o *SyncOperation) Clone() *SyncOperation {
	clone := *o
	clone.Delta = cloneFields(o.Delta)
	clone.Baseline = cloneFields(o.Baseline)
	return &clone
}
