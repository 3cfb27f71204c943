package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/memehubx/memedb/pkg/domain"
)

// HandleFindAll handles GET requests to find documents with filter criteria.
// Every query parameter except limit and offset is an equality filter.
func (h *Handler) HandleFindAll(w http.ResponseWriter, r *http.Request) {
	collName := mux.Vars(r)["coll"]

	options := domain.DefaultPaginationOptions()
	filter := make(map[string]interface{})

	for key, values := range r.URL.Query() {
		if len(values) == 0 {
			continue
		}
		value := values[0] // Take first value if multiple provided

		switch key {
		case "limit", "offset":
			n, err := strconv.Atoi(value)
			if err != nil {
				WriteJSONError(w, http.StatusBadRequest, key+" must be an integer")
				return
			}
			if key == "limit" {
				options.Limit = n
			} else {
				options.Offset = n
			}
			continue
		}

		// Try to convert to number if possible
		if num, err := strconv.ParseFloat(value, 64); err == nil {
			filter[key] = num
		} else if value == "true" || value == "false" {
			filter[key] = value == "true"
		} else {
			filter[key] = value
		}
	}

	result, err := h.storage.FindAll(collName, filter, options)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	h.logger.Debug().Str("collection", collName).Int("matched", len(result.Documents)).Interface("filter", filter).Msg("find completed")
	writeJSON(w, http.StatusOK, result)
}
