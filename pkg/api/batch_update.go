package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/memehubx/memedb/pkg/domain"
)

// BatchUpdateRequest represents the request body for batch update operations
type BatchUpdateRequest struct {
	Operations []domain.BatchUpdateOperation `json:"operations"`
}

// BatchUpdateResponse represents the response for batch update operations.
// Batches are atomic, so a response is either a full success or an error.
type BatchUpdateResponse struct {
	Success      bool              `json:"success"`
	Message      string            `json:"message"`
	UpdatedCount int               `json:"updated_count"`
	Collection   string            `json:"collection"`
	Documents    []domain.Document `json:"documents,omitempty"`
}

// HandleBatchUpdate handles PATCH requests to update multiple documents atomically.
// ?quiet=true omits the updated documents from the response.
func (h *Handler) HandleBatchUpdate(w http.ResponseWriter, r *http.Request) {
	collName := mux.Vars(r)["coll"]

	var req BatchUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if len(req.Operations) == 0 {
		WriteJSONError(w, http.StatusBadRequest, "No operations provided")
		return
	}

	updatedDocs, err := h.storage.BatchUpdate(collName, req.Operations)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	response := BatchUpdateResponse{
		Success:      true,
		Message:      "Batch update completed successfully",
		UpdatedCount: len(updatedDocs),
		Collection:   collName,
	}
	if r.URL.Query().Get("quiet") != "true" {
		response.Documents = updatedDocs
	}

	h.logger.Info().Str("collection", collName).Int("updated", len(updatedDocs)).Msg("batch update completed")
	writeJSON(w, http.StatusOK, response)
}
