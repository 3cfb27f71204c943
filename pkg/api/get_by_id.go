package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// HandleGetById handles GET requests to retrieve a specific document by ID
func (h *Handler) HandleGetById(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	doc, err := h.storage.GetById(vars["coll"], vars["id"])
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, doc)
}
