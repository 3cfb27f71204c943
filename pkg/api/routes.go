package api

import (
	"github.com/gorilla/mux"
)

// RegisterRoutes registers all API routes with the given router
func (h *Handler) RegisterRoutes(router *mux.Router) {
	// Collection operations
	router.HandleFunc("/collections/{coll}", h.HandleInsert).Methods("POST")

	// Batch operations
	router.HandleFunc("/collections/{coll}/batch", h.HandleBatchInsert).Methods("POST")
	router.HandleFunc("/collections/{coll}/batch", h.HandleBatchUpdate).Methods("PATCH")

	// Document operations (by ID)
	router.HandleFunc("/collections/{coll}/documents", h.HandleListDocuments).Methods("GET")
	router.HandleFunc("/collections/{coll}/documents/{id}", h.HandleGetById).Methods("GET")
	router.HandleFunc("/collections/{coll}/documents/{id}", h.HandleUpdateById).Methods("PATCH")
	router.HandleFunc("/collections/{coll}/documents/{id}", h.HandleDeleteById).Methods("DELETE")
	router.HandleFunc("/collections/{coll}/fetch", h.HandleFetch).Methods("POST")

	// Find with optional filtering (query parameters)
	router.HandleFunc("/collections/{coll}/find", h.HandleFindAll).Methods("GET")

	// Index operations
	router.HandleFunc("/collections/{coll}/indexes/{field}", h.HandleCreateIndex).Methods("POST")
	router.HandleFunc("/collections/{coll}/indexes", h.HandleGetIndexes).Methods("GET")

	// Run locks
	router.HandleFunc("/locks/{name}", h.HandleAcquireLock).Methods("PUT")
	router.HandleFunc("/locks/{name}", h.HandleReleaseLock).Methods("DELETE")

	router.HandleFunc("/limits", h.HandleLimits).Methods("GET")
	router.HandleFunc("/health", h.HandleHealth).Methods("GET")
}
