package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// HandleDeleteById handles DELETE requests to remove a specific document by ID
func (h *Handler) HandleDeleteById(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	collName := vars["coll"]
	docId := vars["id"]

	if err := h.storage.DeleteById(collName, docId); err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	h.logger.Debug().Str("collection", collName).Str("id", docId).Msg("document deleted")
	w.WriteHeader(http.StatusNoContent)
}
