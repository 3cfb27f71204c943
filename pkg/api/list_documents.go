package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 1000
)

// HandleListDocuments handles GET requests for one id-ordered page of a collection.
// "after" is the opaque cursor from the previous page's next_cursor.
func (h *Handler) HandleListDocuments(w http.ResponseWriter, r *http.Request) {
	collName := mux.Vars(r)["coll"]
	query := r.URL.Query()

	limit := defaultPageLimit
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			WriteJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	page, err := h.storage.ListPage(collName, query.Get("after"), limit)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, page)
}
