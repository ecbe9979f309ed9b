// Package handlers implements the HTTP surface of the sync server.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/offsync/offsync/internal/models"
	"github.com/offsync/offsync/internal/server/storage"
	"github.com/offsync/offsync/internal/validation"
	"github.com/offsync/offsync/pkg/api"
)

// RecordStorage is the slice of the store the records handler needs
type RecordStorage interface {
	GetRecord(ctx context.Context, moduleID, recordID string) (*models.ServerRecord, error)
	ApplyPush(ctx context.Context, moduleID, recordID string, req *api.PushRequest) (*storage.ApplyResult, error)
	ListModuleRecords(ctx context.Context, moduleID string) ([]*models.ServerRecord, error)
}

// RecordsHandler serves pulls and pushes for individual records
type RecordsHandler struct {
	logger  *slog.Logger
	storage RecordStorage
}

// NewRecordsHandler creates a records handler
func NewRecordsHandler(logger *slog.Logger, storage RecordStorage) *RecordsHandler {
	return &RecordsHandler{
		logger:  logger,
		storage: storage,
	}
}

// Pull handles GET /api/v1/records/{module}/{record}
// Returns the current snapshot, tombstones included.
func (h *RecordsHandler) Pull(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	moduleID, recordID, ok := h.refs(w, r)
	if !ok {
		return
	}

	rec, err := h.storage.GetRecord(ctx, moduleID, recordID)
	if err != nil {
		if errors.Is(err, storage.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "record does not exist")
			return
		}
		h.logger.Error("failed to get record",
			"module", moduleID, "record", recordID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, snapshotOf(rec))
}

// Push handles POST /api/v1/records/{module}/{record}
// An accepted push answers 200; a rejected one answers 409 with the same
// body shape so the client can reconcile from the current state.
func (h *RecordsHandler) Push(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	moduleID, recordID, ok := h.refs(w, r)
	if !ok {
		return
	}

	var req api.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if req.OperationID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "operation_id is required")
		return
	}

	result, err := h.storage.ApplyPush(ctx, moduleID, recordID, &req)
	if err != nil {
		h.logger.Error("failed to apply push",
			"module", moduleID, "record", recordID,
			"op_id", req.OperationID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}

	resp := api.PushResponse{
		Accepted: result.Accepted,
		Reason:   result.Reason,
	}
	if result.Record != nil {
		resp.ServerTimestamp = result.Record.ServerTimestamp
		if !result.Accepted {
			resp.Current = snapshotOf(result.Record)
		}
	}

	status := http.StatusOK
	if !result.Accepted {
		status = http.StatusConflict
		h.logger.Info("push rejected",
			"module", moduleID, "record", recordID,
			"op_id", req.OperationID, "reason", result.Reason)
	}

	writeJSON(w, status, resp)
}

// ListModule handles GET /api/v1/records/{module}
func (h *RecordsHandler) ListModule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	moduleID := mux.Vars(r)["module"]
	if err := validation.ValidateRef(moduleID); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	records, err := h.storage.ListModuleRecords(ctx, moduleID)
	if err != nil {
		h.logger.Error("failed to list records", "module", moduleID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}

	snapshots := make([]*api.Snapshot, 0, len(records))
	for _, rec := range records {
		snapshots = append(snapshots, snapshotOf(rec))
	}

	writeJSON(w, http.StatusOK, snapshots)
}

// refs extracts and validates the module and record path segments
func (h *RecordsHandler) refs(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	vars := mux.Vars(r)
	moduleID, recordID := vars["module"], vars["record"]

	if err := validation.ValidateRef(moduleID); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "module: "+err.Error())
		return "", "", false
	}
	if err := validation.ValidateRef(recordID); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "record: "+err.Error())
		return "", "", false
	}
	return moduleID, recordID, true
}

func snapshotOf(rec *models.ServerRecord) *api.Snapshot {
	return &api.Snapshot{
		ModuleID:        rec.ModuleID,
		RecordID:        rec.RecordID,
		Fields:          rec.Fields,
		ServerTimestamp: rec.ServerTimestamp,
		Deleted:         rec.Deleted,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, api.ErrorResponse{Error: code, Message: message})
}
