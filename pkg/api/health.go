package api

import (
	"net/http"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// LimitsResponse advertises the store's per-commit ceiling
type LimitsResponse struct {
	MaxBatchOps int `json:"max_batch_ops"`
}

// HandleHealth handles GET requests to the health check endpoint
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Message: "memedb is running",
	})
}

// HandleLimits reports the maximum number of operations one batch may carry
func (h *Handler) HandleLimits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LimitsResponse{MaxBatchOps: h.storage.MaxBatchOps()})
}
