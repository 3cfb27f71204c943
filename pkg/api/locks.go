package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// AcquireLockRequest is the body of PUT /locks/{name}
type AcquireLockRequest struct {
	Owner      string `json:"owner"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// HandleAcquireLock takes or refreshes a named lock; 409 when someone else holds it
func (h *Handler) HandleAcquireLock(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var req AcquireLockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.TTLSeconds < 0 {
		WriteJSONError(w, http.StatusBadRequest, "ttl_seconds cannot be negative")
		return
	}

	lock, err := h.storage.AcquireLock(name, req.Owner, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, lock)
}

// HandleReleaseLock releases a lock. Without ?owner= the lock is force-released.
func (h *Handler) HandleReleaseLock(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	owner := r.URL.Query().Get("owner")

	if err := h.storage.ReleaseLock(name, owner); err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	if owner == "" {
		h.logger.Warn().Str("lock", name).Msg("lock force-released")
	}
	w.WriteHeader(http.StatusNoContent)
}
