package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/memehubx/memedb/pkg/domain"
)

// BatchInsertRequest represents the request body for batch insert operations
type BatchInsertRequest struct {
	Documents []domain.Document `json:"documents"`
}

// BatchInsertResponse represents the response for batch insert operations
type BatchInsertResponse struct {
	Success       bool              `json:"success"`
	Message       string            `json:"message"`
	InsertedCount int               `json:"inserted_count"`
	Collection    string            `json:"collection"`
	Documents     []domain.Document `json:"documents"`
}

// HandleBatchInsert handles POST requests to insert multiple documents into collections
func (h *Handler) HandleBatchInsert(w http.ResponseWriter, r *http.Request) {
	collName := mux.Vars(r)["coll"]

	var req BatchInsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if len(req.Documents) == 0 {
		WriteJSONError(w, http.StatusBadRequest, "No documents provided")
		return
	}

	docs, err := h.storage.BatchInsert(collName, req.Documents)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	h.logger.Info().Str("collection", collName).Int("count", len(docs)).Msg("batch insert completed")
	writeJSON(w, http.StatusCreated, BatchInsertResponse{
		Success:       true,
		Message:       "Batch insert completed successfully",
		InsertedCount: len(docs),
		Collection:    collName,
		Documents:     docs,
	})
}
