package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// HandleCreateIndex creates an index on a specific field in a collection
func (h *Handler) HandleCreateIndex(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	collName := vars["coll"]
	fieldName := vars["field"]

	// Lookups by _id go straight to the document map
	if fieldName == "_id" {
		WriteJSONError(w, http.StatusBadRequest, "cannot create index on _id field (automatically indexed)")
		return
	}

	if err := h.indexer.CreateIndex(collName, fieldName); err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	h.logger.Info().Str("collection", collName).Str("field", fieldName).Msg("index created")
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success":    true,
		"message":    "Index created successfully",
		"collection": collName,
		"field":      fieldName,
	})
}
