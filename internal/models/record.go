package models

import "time"

// Record is a locally cached copy of a server-owned record. The payload is
// opaque to the engine: Fields is moved around but never interpreted.
//
// BaselineTimestamp is the server timestamp of the last confirmed server
// state. It is kept separate from Fields so that unconfirmed local edits
// never overwrite the knowledge of what the server last acknowledged.
type Record struct {
	CachedAt          time.Time      `json:"cached_at"`
	Fields            map[string]any `json:"fields"`
	ModuleID          string         `json:"module_id"`
	RecordID          string         `json:"record_id"`
	BaselineTimestamp int64          `json:"baseline_timestamp"`
	Priority          int            `json:"priority"` // eviction priority, lower evicts first
	Dirty             bool           `json:"dirty"`    // has unconfirmed local edits
}

// Key returns the composite cache key for the record.
func (r *Record) Key() string {
	return RecordKey(r.ModuleID, r.RecordID)
}

// RecordKey builds the composite key used to address a record across the
// cache, the queue and the per-record locks.
func RecordKey(moduleID, recordID string) string {
	return moduleID + "/" + recordID
}

// Clone creates a deep copy of the record.
func (r *Record) Clone() *Record {
	clone := *r
	clone.Fields = cloneFields(r.Fields)
	return &clone
}

// ServerRecord is the authoritative state held by the remote authority.
// ServerTimestamp increases on every accepted mutation and is the token
// clients name in ExpectedBaseline.
type ServerRecord struct {
	UpdatedAt       time.Time      `json:"updated_at"`
	Fields          map[string]any `json:"fields"`
	ModuleID        string         `json:"module_id"`
	RecordID        string         `json:"record_id"`
	ServerTimestamp int64          `json:"server_timestamp"`
	Deleted         bool           `json:"deleted"`
}

func cloneFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
