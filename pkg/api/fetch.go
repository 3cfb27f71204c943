package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/memehubx/memedb/pkg/domain"
)

// FetchRequest lists the ids to load
type FetchRequest struct {
	IDs []string `json:"ids"`
}

// FetchResponse holds the documents that exist; unknown ids are left out
type FetchResponse struct {
	Documents []domain.Document `json:"documents"`
}

// HandleFetch handles POST requests to load many documents by id
func (h *Handler) HandleFetch(w http.ResponseWriter, r *http.Request) {
	collName := mux.Vars(r)["coll"]

	var req FetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.IDs) > maxPageLimit {
		WriteJSONError(w, http.StatusBadRequest, "too many ids")
		return
	}

	docs, err := h.storage.GetByIds(collName, req.IDs)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, FetchResponse{Documents: docs})
}
