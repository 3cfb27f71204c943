package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/memehubx/memedb/pkg/domain"
)

// ErrorResponse represents a standard JSON error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// WriteJSONError writes a JSON error response with the given status code and message
func WriteJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	json.NewEncoder(w).Encode(response)
}

// StatusForError maps storage errors onto HTTP status codes
func StatusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrBatchTooLarge), errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrLockHeld), errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeStorageError logs err and writes it with the status StatusForError picks
func (h *Handler) writeStorageError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusForError(err)
	event := h.logger.Warn()
	if status >= http.StatusInternalServerError {
		event = h.logger.Error()
	}
	event.Err(err).Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
	WriteJSONError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}
