package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/memehubx/memedb/pkg/domain"
)

// HandleInsert handles POST requests to insert documents into collections
func (h *Handler) HandleInsert(w http.ResponseWriter, r *http.Request) {
	collName := mux.Vars(r)["coll"]

	var doc domain.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil || doc == nil {
		WriteJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	inserted, err := h.storage.Insert(collName, doc)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	h.logger.Debug().Str("collection", collName).Str("id", inserted.ID()).Msg("document inserted")
	writeJSON(w, http.StatusCreated, inserted)
}
