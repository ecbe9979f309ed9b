package api

// Snapshot is the authoritative server state for a single record at the
// moment of a pull. ServerTimestamp is the optimistic-concurrency token:
// a push is accepted only when it names the timestamp it was computed
// against.
type Snapshot struct {
	Fields          map[string]any `json:"fields"`
	ModuleID        string         `json:"module_id"`
	RecordID        string         `json:"record_id"`
	ServerTimestamp int64          `json:"server_timestamp"`
	Deleted         bool           `json:"deleted,omitempty"`
}

// PushRequest carries one pending mutation to the server.
// OperationID lets the server deduplicate replays of the same operation.
type PushRequest struct {
	Delta            map[string]any `json:"delta"`
	OperationID      string         `json:"operation_id"`
	Kind             string         `json:"kind"`
	ExpectedBaseline int64          `json:"expected_baseline"`
}

// PushResponse is returned for both accepted and rejected pushes.
// On rejection Current holds the server's present state so the client can
// reconcile without an extra pull.
type PushResponse struct {
	Current         *Snapshot `json:"current,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	ServerTimestamp int64     `json:"server_timestamp"`
	Accepted        bool      `json:"accepted"`
}

// Rejection reasons returned in PushResponse.Reason.
const (
	ReasonBaselineMismatch = "baseline_mismatch"
	ReasonNotFound         = "not_found"
	ReasonAlreadyExists    = "already_exists"
)

// ErrorResponse is the generic error body for non-push failures.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
