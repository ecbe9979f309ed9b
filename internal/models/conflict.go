package models

import "time"

// ConflictStatus is the state of a detected conflict.
type ConflictStatus string

// Conflict statuses
const (
	ConflictPending  ConflictStatus = "pending"
	ConflictResolved ConflictStatus = "resolved"
)

// ResolutionChoice records which side a resolution adopted.
type ResolutionChoice string

// Resolution choices
const (
	ChoiceLocal  ResolutionChoice = "local"
	ChoiceServer ResolutionChoice = "server"
	ChoiceManual ResolutionChoice = "manual"
)

// ConflictItem is one field-level divergence between a queued local edit
// and the server's current state. It is created only for true divergence:
// the server moved away from the baseline AND does not already equal the
// intended local value.
type ConflictItem struct {
	CreatedAt       time.Time        `json:"created_at"`
	LocalValue      any              `json:"local_value"`
	ServerValue     any              `json:"server_value"`
	ID              string           `json:"id"`
	OperationID     string           `json:"operation_id"`
	ModuleID        string           `json:"module_id"`
	RecordID        string           `json:"record_id"`
	Field           string           `json:"field"`
	Status          ConflictStatus   `json:"status"`
	Resolution      ResolutionChoice `json:"resolution,omitempty"`
	LocalTimestamp  int64            `json:"local_timestamp"`
	ServerTimestamp int64            `json:"server_timestamp"`
}

// Resolution is one immutable row in the resolution history. Rows are only
// ever appended, never updated, so the history doubles as an audit log.
type Resolution struct {
	DecidedAt  time.Time        `json:"decided_at"`
	Chosen     any              `json:"chosen"`
	ID         string           `json:"id"`
	ConflictID string           `json:"conflict_id"`
	ModuleID   string           `json:"module_id"`
	RecordID   string           `json:"record_id"`
	Field      string           `json:"field"`
	Choice     ResolutionChoice `json:"choice"`
	DecidedBy  string           `json:"decided_by"` // strategy name or operator id
}
