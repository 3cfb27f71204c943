package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/memehubx/memedb/pkg/domain"
)

// HandleUpdateById handles PATCH requests to partially update a document by ID
func (h *Handler) HandleUpdateById(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	collName := vars["coll"]
	docId := vars["id"]

	var updates domain.Document
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	updated, err := h.storage.UpdateById(collName, docId, updates)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	h.logger.Debug().Str("collection", collName).Str("id", docId).Msg("document updated")
	writeJSON(w, http.StatusOK, updated)
}
