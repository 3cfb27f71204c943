package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// HandleGetIndexes handles GET requests to retrieve all indexes for a collection
func (h *Handler) HandleGetIndexes(w http.ResponseWriter, r *http.Request) {
	collName := mux.Vars(r)["coll"]

	indexes, err := h.indexer.GetIndexes(collName)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"collection":  collName,
		"indexes":     indexes,
		"index_count": len(indexes),
	})
}
